package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"freightaudit/internal/ratecard"
	"freightaudit/pkg/metrics"
)

const (
	cellFlat    = "flat"
	cellPerUnit = "per_unit"
	cellMin     = "min"
	cellMax     = "max"
	cellTier    = "tier"
)

// PostgresStore keeps both catalogs in the tables created by the catalog
// migrations. Prices and dates are stored as the text found in the source
// sheet and parsed on load.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) RateCard(ctx context.Context, agreementID string) (*ratecard.RateCard, error) {
	start := time.Now()
	card, err := s.loadRateCard(ctx, agreementID)
	metrics.ObserveDatabaseQuery("catalog", "postgres", "load_rate_card", queryStatus(err), time.Since(start))
	return card, err
}

func (s *PostgresStore) loadRateCard(ctx context.Context, agreementID string) (*ratecard.RateCard, error) {
	card := &ratecard.RateCard{AgreementID: agreementID}

	err := s.db.QueryRowContext(ctx, `SELECT carrier FROM agreements WHERE id = $1`, agreementID).Scan(&card.Carrier)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("rate card for %s: %w", agreementID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get agreement: %w", err)
	}

	if err := s.loadColumns(ctx, card); err != nil {
		return nil, err
	}
	if err := s.loadLanes(ctx, card); err != nil {
		return nil, err
	}
	card.Columns = card.MappedColumns()
	if err := s.loadPrices(ctx, card); err != nil {
		return nil, err
	}
	if err := s.loadCosts(ctx, card); err != nil {
		return nil, err
	}
	if len(card.Lanes) == 0 && len(card.Costs) == 0 {
		return nil, fmt.Errorf("rate card for %s: %w", agreementID, ErrNotFound)
	}
	if err := s.loadColumnConditions(ctx, card); err != nil {
		return nil, err
	}
	if err := s.loadBusinessRules(ctx, card); err != nil {
		return nil, err
	}

	return card, nil
}

func (s *PostgresStore) loadColumns(ctx context.Context, card *ratecard.RateCard) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name
		FROM rate_card_columns
		WHERE agreement_id = $1
		ORDER BY position
	`, card.AgreementID)
	if err != nil {
		return fmt.Errorf("failed to query columns: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return fmt.Errorf("failed to scan column: %w", err)
		}
		card.Columns = append(card.Columns, ratecard.MapColumn(name))
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("rows iteration error: %w", err)
	}
	return nil
}

func (s *PostgresStore) loadLanes(ctx context.Context, card *ratecard.RateCard) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT lane_number, constraints, valid_from, valid_to
		FROM lanes
		WHERE agreement_id = $1
		ORDER BY position
	`, card.AgreementID)
	if err != nil {
		return fmt.Errorf("failed to query lanes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			l           ratecard.Lane
			constraints []byte
			from, to    string
		)
		if err := rows.Scan(&l.Number, &constraints, &from, &to); err != nil {
			return fmt.Errorf("failed to scan lane: %w", err)
		}
		if len(constraints) > 0 {
			if err := json.Unmarshal(constraints, &l.Constraints); err != nil {
				return fmt.Errorf("failed to decode constraints of lane %s: %w", l.Number, err)
			}
		}
		l.ValidFrom = ratecard.ParseDate(from)
		l.ValidTo = ratecard.ParseDate(to)
		card.Lanes = append(card.Lanes, l)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("rows iteration error: %w", err)
	}
	return nil
}

func (s *PostgresStore) loadPrices(ctx context.Context, card *ratecard.RateCard) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT lane_number, cost_name, cell, tier_label, price
		FROM lane_prices
		WHERE agreement_id = $1
		ORDER BY lane_number, cost_name, cell, tier_label
	`, card.AgreementID)
	if err != nil {
		return fmt.Errorf("failed to query lane prices: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var number, cost, cell, label, text string
		if err := rows.Scan(&number, &cost, &cell, &label, &text); err != nil {
			return fmt.Errorf("failed to scan lane price: %w", err)
		}
		l, ok := card.Lane(number)
		if !ok {
			continue
		}
		price, ok := ratecard.ParseDecimal(text)
		if !ok {
			continue
		}
		if l.Prices == nil {
			l.Prices = make(map[string]ratecard.PriceSet)
		}
		set := l.Prices[cost]
		switch cell {
		case cellFlat:
			set.Flat = decimal.NewNullDecimal(price)
		case cellPerUnit:
			set.PerUnit = decimal.NewNullDecimal(price)
		case cellMin:
			set.Min = decimal.NewNullDecimal(price)
		case cellMax:
			set.Max = decimal.NewNullDecimal(price)
		case cellTier:
			set.Tiers = append(set.Tiers, ratecard.TierPrice{Label: label, Price: price})
		}
		l.Prices[cost] = set
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("rows iteration error: %w", err)
	}
	return nil
}

func (s *PostgresStore) loadCosts(ctx context.Context, card *ratecard.RateCard) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, rate_by, applies_if
		FROM cost_conditions
		WHERE agreement_id = $1
		ORDER BY position
	`, card.AgreementID)
	if err != nil {
		return fmt.Errorf("failed to query cost conditions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var def ratecard.CostDefinition
		if err := rows.Scan(&def.Name, &def.RateBy, &def.AppliesIf); err != nil {
			return fmt.Errorf("failed to scan cost condition: %w", err)
		}
		card.Costs = append(card.Costs, def)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("rows iteration error: %w", err)
	}
	return nil
}

func (s *PostgresStore) loadColumnConditions(ctx context.Context, card *ratecard.RateCard) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT column_name, value, condition
		FROM column_conditions
		WHERE agreement_id = $1
	`, card.AgreementID)
	if err != nil {
		return fmt.Errorf("failed to query column conditions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var column, value, text string
		if err := rows.Scan(&column, &value, &text); err != nil {
			return fmt.Errorf("failed to scan column condition: %w", err)
		}
		if card.ColumnConditions == nil {
			card.ColumnConditions = make(map[string]map[string]string)
		}
		if card.ColumnConditions[column] == nil {
			card.ColumnConditions[column] = make(map[string]string)
		}
		card.ColumnConditions[column][value] = text
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("rows iteration error: %w", err)
	}
	return nil
}

func (s *PostgresStore) loadBusinessRules(ctx context.Context, card *ratecard.RateCard) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, countries, postal_prefixes, excluded_prefixes
		FROM business_rules
		WHERE agreement_id = $1
		ORDER BY name
	`, card.AgreementID)
	if err != nil {
		return fmt.Errorf("failed to query business rules: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var rule ratecard.BusinessRule
		if err := rows.Scan(
			&rule.Name,
			pq.Array(&rule.Countries),
			pq.Array(&rule.PostalPrefixes),
			pq.Array(&rule.ExcludedPrefixes),
		); err != nil {
			return fmt.Errorf("failed to scan business rule: %w", err)
		}
		card.BusinessRules = append(card.BusinessRules, rule)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("rows iteration error: %w", err)
	}
	return nil
}

func (s *PostgresStore) Accessorials(ctx context.Context, agreementID string) (*ratecard.AccessorialCatalog, error) {
	start := time.Now()
	cat, err := s.loadAccessorials(ctx, agreementID)
	metrics.ObserveDatabaseQuery("catalog", "postgres", "load_accessorials", queryStatus(err), time.Since(start))
	return cat, err
}

func (s *PostgresStore) loadAccessorials(ctx context.Context, agreementID string) (*ratecard.AccessorialCatalog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, lane_number, rate_by, applies_if, flat, per_unit, min_price, max_price,
		       percentage, percentage_of, valid_from, valid_to
		FROM accessorial_costs
		WHERE agreement_id = $1
		ORDER BY position
	`, agreementID)
	if err != nil {
		return nil, fmt.Errorf("failed to query accessorial costs: %w", err)
	}
	defer rows.Close()

	cat := &ratecard.AccessorialCatalog{AgreementID: agreementID}
	for rows.Next() {
		var (
			c                                 ratecard.AccessorialCost
			flat, perUnit, lo, hi, percentage string
			from, to                          string
		)
		if err := rows.Scan(
			&c.Name, &c.LaneNumber, &c.RateBy, &c.AppliesIf,
			&flat, &perUnit, &lo, &hi, &percentage,
			pq.Array(&c.PercentageOf), &from, &to,
		); err != nil {
			return nil, fmt.Errorf("failed to scan accessorial cost: %w", err)
		}
		c.Flat = ratecard.NullDecimal(flat)
		c.PerUnit = ratecard.NullDecimal(perUnit)
		c.Min = ratecard.NullDecimal(lo)
		c.Max = ratecard.NullDecimal(hi)
		c.Percentage = ratecard.NullDecimal(percentage)
		c.ValidFrom = ratecard.ParseDate(from)
		c.ValidTo = ratecard.ParseDate(to)
		cat.Costs = append(cat.Costs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	if len(cat.Costs) == 0 {
		return nil, fmt.Errorf("accessorial catalog for %s: %w", agreementID, ErrNotFound)
	}
	return cat, nil
}

// Agreements lists every agreement the store knows.
func (s *PostgresStore) Agreements(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM agreements ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list agreements: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan agreement: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return ids, nil
}

// Import replaces the stored catalogs of an agreement within one
// transaction. A nil half of the bundle leaves the stored half untouched.
func (s *PostgresStore) Import(ctx context.Context, agreementID string, bundle ratecard.Bundle) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	carrier := ""
	if bundle.RateCard != nil {
		carrier = bundle.RateCard.Carrier
	}
	if _, err = tx.ExecContext(ctx, `
		INSERT INTO agreements (id, carrier)
		VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET carrier = EXCLUDED.carrier, updated_at = NOW()
	`, agreementID, carrier); err != nil {
		return fmt.Errorf("failed to upsert agreement: %w", err)
	}

	if bundle.RateCard != nil {
		if err = importRateCard(ctx, tx, agreementID, bundle.RateCard); err != nil {
			return err
		}
	}
	if bundle.Accessorials != nil {
		if err = importAccessorials(ctx, tx, agreementID, bundle.Accessorials); err != nil {
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit import: %w", err)
	}
	return nil
}

func importRateCard(ctx context.Context, tx *sql.Tx, agreementID string, card *ratecard.RateCard) error {
	for _, table := range []string{"lane_prices", "lanes", "rate_card_columns", "cost_conditions", "column_conditions", "business_rules"} {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE agreement_id = $1`, table), agreementID); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	for i, col := range card.MappedColumns() {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO rate_card_columns (agreement_id, position, name) VALUES ($1, $2, $3)
		`, agreementID, i, col.Name); err != nil {
			return fmt.Errorf("failed to insert column %q: %w", col.Name, err)
		}
	}

	for i, l := range card.Lanes {
		constraints, err := json.Marshal(l.Constraints)
		if err != nil {
			return fmt.Errorf("failed to encode constraints of lane %s: %w", l.Number, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO lanes (agreement_id, lane_number, position, constraints, valid_from, valid_to)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, agreementID, l.Number, i, constraints, dateText(l.ValidFrom), dateText(l.ValidTo)); err != nil {
			return fmt.Errorf("failed to insert lane %s: %w", l.Number, err)
		}
		for cost, set := range l.Prices {
			if err := insertPrices(ctx, tx, agreementID, l.Number, cost, set); err != nil {
				return err
			}
		}
	}

	for i, def := range card.Costs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO cost_conditions (agreement_id, position, name, rate_by, applies_if)
			VALUES ($1, $2, $3, $4, $5)
		`, agreementID, i, def.Name, def.RateBy, def.AppliesIf); err != nil {
			return fmt.Errorf("failed to insert cost condition %q: %w", def.Name, err)
		}
	}

	for column, byValue := range card.ColumnConditions {
		for value, text := range byValue {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO column_conditions (agreement_id, column_name, value, condition)
				VALUES ($1, $2, $3, $4)
			`, agreementID, column, value, text); err != nil {
				return fmt.Errorf("failed to insert column condition %s=%s: %w", column, value, err)
			}
		}
	}

	for _, rule := range card.BusinessRules {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO business_rules (agreement_id, name, countries, postal_prefixes, excluded_prefixes)
			VALUES ($1, $2, $3, $4, $5)
		`, agreementID, rule.Name, pq.Array(rule.Countries), pq.Array(rule.PostalPrefixes), pq.Array(rule.ExcludedPrefixes)); err != nil {
			return fmt.Errorf("failed to insert business rule %q: %w", rule.Name, err)
		}
	}

	return nil
}

func insertPrices(ctx context.Context, tx *sql.Tx, agreementID, lane, cost string, set ratecard.PriceSet) error {
	insert := func(cell, label string, price decimal.Decimal) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO lane_prices (agreement_id, lane_number, cost_name, cell, tier_label, price)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, agreementID, lane, cost, cell, label, price.String()); err != nil {
			return fmt.Errorf("failed to insert %s price of %s on lane %s: %w", cell, cost, lane, err)
		}
		return nil
	}

	for cell, v := range map[string]decimal.NullDecimal{
		cellFlat:    set.Flat,
		cellPerUnit: set.PerUnit,
		cellMin:     set.Min,
		cellMax:     set.Max,
	} {
		if v.Valid {
			if err := insert(cell, "", v.Decimal); err != nil {
				return err
			}
		}
	}
	for _, t := range set.Tiers {
		if err := insert(cellTier, t.Label, t.Price); err != nil {
			return err
		}
	}
	return nil
}

func importAccessorials(ctx context.Context, tx *sql.Tx, agreementID string, cat *ratecard.AccessorialCatalog) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM accessorial_costs WHERE agreement_id = $1`, agreementID); err != nil {
		return fmt.Errorf("failed to clear accessorial_costs: %w", err)
	}

	for i, c := range cat.Costs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO accessorial_costs (agreement_id, position, name, lane_number, rate_by, applies_if,
				flat, per_unit, min_price, max_price, percentage, percentage_of, valid_from, valid_to)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		`, agreementID, i, c.Name, c.LaneNumber, c.RateBy, c.AppliesIf,
			decimalText(c.Flat), decimalText(c.PerUnit), decimalText(c.Min), decimalText(c.Max),
			decimalText(c.Percentage), pq.Array(c.PercentageOf), dateText(c.ValidFrom), dateText(c.ValidTo),
		); err != nil {
			return fmt.Errorf("failed to insert accessorial cost %q: %w", c.Name, err)
		}
	}
	return nil
}

func decimalText(d decimal.NullDecimal) string {
	if !d.Valid {
		return ""
	}
	return d.Decimal.String()
}

func dateText(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02")
}

func queryStatus(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
