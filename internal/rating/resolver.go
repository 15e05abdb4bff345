// Package rating computes the contractual price of billed cost lines.
package rating

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"freightaudit/internal/condition"
	"freightaudit/internal/lane"
	"freightaudit/internal/ratecard"
	"freightaudit/internal/tier"
)

var hundred = decimal.NewFromInt(100)

// Resolver prices cost lines against an agreement's catalogs. It keeps no
// per-shipment state and is safe for concurrent use.
type Resolver struct {
	conditions    *condition.Evaluator
	matcher       *lane.Matcher
	tieBreak      TieBreak
	dateAttribute string
}

type Option func(*Resolver)

func WithTieBreak(tb TieBreak) Option {
	return func(r *Resolver) {
		if tb.Satisfied != "" {
			r.tieBreak.Satisfied = tb.Satisfied
		}
		if tb.Unsatisfied != "" {
			r.tieBreak.Unsatisfied = tb.Unsatisfied
		}
	}
}

// WithDateAttribute sets the attribute holding the ship date when the
// shipment has none parsed. It governs accessorial validity windows.
func WithDateAttribute(name string) Option {
	return func(r *Resolver) {
		if name != "" {
			r.dateAttribute = name
		}
	}
}

func NewResolver(conditions *condition.Evaluator, matcher *lane.Matcher, opts ...Option) *Resolver {
	r := &Resolver{
		conditions:    conditions,
		matcher:       matcher,
		tieBreak:      DefaultTieBreak(),
		dateAttribute: ratecard.AttrShipDate,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Resolver) TieBreak() TieBreak {
	return r.tieBreak
}

// session carries what the lines of one shipment share.
type session struct {
	ctx    context.Context
	s      *ratecard.Shipment
	bundle ratecard.Bundle
	ledger *Ledger
	match  *lane.Result
}

func (ss *session) matchLane(m *lane.Matcher) lane.Result {
	if ss.match == nil {
		res := m.Match(ss.ctx, ss.bundle.RateCard, ss.s)
		ss.match = &res
	}
	return *ss.match
}

// Resolve prices a single line. Percentage costs read their base amounts
// from ledger; Resolve does not record its own result there.
func (r *Resolver) Resolve(ctx context.Context, line Line, s *ratecard.Shipment, bundle ratecard.Bundle, ledger *Ledger) Resolution {
	if ledger == nil {
		ledger = NewLedger()
	}
	return r.resolve(&session{ctx: ctx, s: s, bundle: bundle, ledger: ledger}, line)
}

// ResolveShipment prices all lines of one shipment. Non-percentage costs
// are resolved first so percentage costs see their base amounts; results
// keep the input order.
func (r *Resolver) ResolveShipment(ctx context.Context, s *ratecard.Shipment, bundle ratecard.Bundle, lines []Line) []Resolution {
	ss := &session{ctx: ctx, s: s, bundle: bundle, ledger: NewLedger()}
	out := make([]Resolution, len(lines))

	var deferred []int
	for i, line := range lines {
		if r.IsPercentage(line.CostType, bundle) {
			deferred = append(deferred, i)
			continue
		}
		out[i] = r.resolve(ss, line)
		ss.ledger.Record(out[i])
	}
	for _, i := range deferred {
		out[i] = r.resolve(ss, lines[i])
		ss.ledger.Record(out[i])
	}
	return out
}

// IsPercentage reports whether costType prices as a percentage of other
// costs: it has no rate card definition and an accessorial percentage
// entry exists for it.
func (r *Resolver) IsPercentage(costType string, bundle ratecard.Bundle) bool {
	if bundle.RateCard != nil {
		if hits, _ := findNames(costType, costNames(bundle.RateCard.Costs)); len(hits) > 0 {
			return false
		}
	}
	if bundle.Accessorials == nil {
		return false
	}
	hits, _ := findNames(costType, accessorialNames(bundle.Accessorials.Costs))
	for _, i := range hits {
		if bundle.Accessorials.Costs[i].IsPercentage() {
			return true
		}
	}
	return false
}

func (r *Resolver) resolve(ss *session, line Line) Resolution {
	res := newResolution(line)
	if ss.s == nil {
		res.fail(StatusShipmentMissing, "shipment %s not found", line.ShipmentID)
		return res
	}
	if res.ShipmentID == "" {
		res.ShipmentID = ss.s.ID
	}
	if res.AgreementID == "" {
		res.AgreementID = ss.s.AgreementID
	}
	if strings.TrimSpace(line.CostType) == "" {
		res.fail(StatusCostNotFound, "cost line has no cost type")
		return res
	}

	if ss.bundle.RateCard == nil && ss.bundle.Accessorials == nil {
		res.fail(StatusCostNotFound, "agreement %s has no rate card or accessorial catalog", res.AgreementID)
		return res
	}

	miss := ""
	if ss.bundle.RateCard != nil {
		var done bool
		done, miss = r.fromRateCard(ss, line, &res)
		if done {
			return res
		}
	}
	r.fromAccessorials(ss, line, &res, miss)
	return res
}

// fromRateCard prices from the primary catalog. It reports done=false when
// the catalog has no definition or no populated price, with the reason for
// the latter in miss.
func (r *Resolver) fromRateCard(ss *session, line Line, res *Resolution) (done bool, miss string) {
	card := ss.bundle.RateCard
	names := costNames(card.Costs)
	hits, kind := findNames(line.CostType, names)
	if len(hits) == 0 {
		return false, ""
	}

	idx, verdict := r.choose(ss, hits, names, func(i int) string { return card.Costs[i].AppliesIf })
	def := card.Costs[idx]
	res.Source = SourceRateCard
	res.CostName = def.Name
	if kind != MatchExact {
		res.note("cost %q matched %q by %s", line.CostType, def.Name, kind)
	}
	if len(hits) > 1 {
		res.note("%d cost definitions match, chose %q", len(hits), def.Name)
	}
	if !r.applies(res, verdict) {
		return true, ""
	}

	number, ok := r.laneFor(ss, line, res)
	if !ok {
		return true, ""
	}

	l, _ := card.Lane(number)
	prices, column, ok := lanePrices(l, def.Name)
	if !ok {
		res.Source = ""
		res.CostName = ""
		return false, fmt.Sprintf("lane %s has no price for %s", number, def.Name)
	}
	if ratecard.Normalize(column) != ratecard.Normalize(def.Name) {
		res.note("price taken from sibling column %q", column)
	}
	r.price(ss, res, classify(def.RateBy, prices), prices)
	return true, ""
}

func (r *Resolver) fromAccessorials(ss *session, line Line, res *Resolution, miss string) {
	notFound := func(format string, args ...interface{}) {
		if miss != "" {
			res.fail(StatusPriceMissing, "%s; %s", miss, fmt.Sprintf(format, args...))
			return
		}
		res.fail(StatusCostNotFound, format, args...)
	}

	cat := ss.bundle.Accessorials
	if cat == nil || len(cat.Costs) == 0 {
		notFound("no cost definition matches %q and the agreement has no accessorial catalog", line.CostType)
		return
	}
	names := accessorialNames(cat.Costs)
	hits, kind := findNames(line.CostType, names)
	if len(hits) == 0 {
		notFound("no cost definition matches %q in the rate card or accessorial catalog", line.CostType)
		return
	}

	needLane := false
	for _, i := range hits {
		if strings.TrimSpace(cat.Costs[i].LaneNumber) != "" {
			needLane = true
			break
		}
	}
	laneNumber, laneKnown := "", false
	if needLane {
		laneNumber, laneKnown = r.quietLane(ss, line)
	}

	date := r.shipDate(ss.s)
	var specific, general []int
	var expired []string
	for _, i := range hits {
		c := cat.Costs[i]
		if !withinWindow(c.ValidFrom, c.ValidTo, date) {
			expired = append(expired, c.Name)
			continue
		}
		switch n := strings.TrimSpace(c.LaneNumber); {
		case n == "":
			general = append(general, i)
		case laneKnown && strings.EqualFold(n, laneNumber):
			specific = append(specific, i)
		}
	}

	if len(specific) == 0 && len(general) == 0 {
		switch {
		case len(expired) > 0 && date != nil:
			notFound("accessorial %q is not valid on %s", line.CostType, date.Format(time.DateOnly))
		case needLane && !laneKnown:
			res.fail(StatusLaneNotFound, "accessorial %q is lane specific and the shipment lane is unresolved", line.CostType)
		default:
			notFound("accessorial %q has no entry for lane %s", line.CostType, laneNumber)
		}
		return
	}

	appliesIf := func(i int) string { return cat.Costs[i].AppliesIf }
	var idx int
	var verdict condition.Verdict
	if len(specific) > 0 {
		idx, verdict = r.choose(ss, specific, names, appliesIf)
		if !verdict.Satisfied && len(general) > 0 {
			if gi, gv := r.choose(ss, general, names, appliesIf); gv.Satisfied {
				idx, verdict = gi, gv
			}
		}
	} else {
		idx, verdict = r.choose(ss, general, names, appliesIf)
	}

	entry := cat.Costs[idx]
	res.Source = SourceAccessorial
	res.CostName = entry.Name
	if laneKnown {
		res.Lanes = []string{laneNumber}
	}
	if miss != "" {
		res.note("%s, priced from accessorial catalog", miss)
	}
	if kind != MatchExact {
		res.note("cost %q matched %q by %s", line.CostType, entry.Name, kind)
	}
	if len(expired) > 0 {
		res.note("skipped entries outside validity: %s", strings.Join(expired, ", "))
	}
	if !r.applies(res, verdict) {
		return
	}

	if entry.IsPercentage() {
		r.percentage(ss, res, entry)
		return
	}
	prices := entry.Prices()
	if !prices.Populated() {
		res.fail(StatusPriceMissing, "accessorial %s has no price", entry.Name)
		return
	}
	r.price(ss, res, classify(entry.RateBy, prices), prices)
}

// choose picks one cost entry among name matches: entries whose applies_if
// holds are preferred, then the tie-break policy decides.
func (r *Resolver) choose(ss *session, hits []int, names []string, appliesIf func(int) string) (int, condition.Verdict) {
	verdicts := make(map[int]condition.Verdict, len(hits))
	var satisfied []int
	for _, i := range hits {
		v := r.conditions.Check(ss.ctx, appliesIf(i), ss.s)
		verdicts[i] = v
		if v.Satisfied {
			satisfied = append(satisfied, i)
		}
	}
	if len(satisfied) > 0 {
		i := pick(satisfied, names, r.tieBreak.Satisfied)
		return i, verdicts[i]
	}
	i := pick(hits, names, r.tieBreak.Unsatisfied)
	return i, verdicts[i]
}

func (r *Resolver) applies(res *Resolution, v condition.Verdict) bool {
	switch {
	case v.Satisfied:
		return true
	case v.Unparseable:
		res.fail(StatusNeedsReview, "applies-if of %s cannot be evaluated: %s", res.CostName, v.Reason)
	default:
		res.fail(StatusConditionNotMet, "condition not met for %s: %s", res.CostName, v.Reason)
	}
	return false
}

// laneFor settles the lane a rate card price is read from: the billed lane
// number when the line carries one, otherwise the matcher's single pick.
func (r *Resolver) laneFor(ss *session, line Line, res *Resolution) (string, bool) {
	card := ss.bundle.RateCard
	if n := strings.TrimSpace(line.LaneNumber); n != "" {
		l, ok := card.Lane(n)
		if !ok {
			res.fail(StatusLaneNotFound, "billed lane %s is not in the rate card", n)
			return "", false
		}
		res.Lanes = []string{l.Number}
		if c := r.matcher.Score(ss.ctx, card, l, ss.s); c.Disqualified {
			res.note("billed lane %s would be disqualified: %s", l.Number, c.Reason)
		}
		return l.Number, true
	}

	m := ss.matchLane(r.matcher)
	switch m.Status {
	case lane.StatusMatched:
		res.Lanes = m.Lanes
		return m.Lane(), true
	case lane.StatusAmbiguous:
		res.fail(StatusLanesAmbiguous, "%s", m.Reason)
		res.Lanes = m.Lanes
	default:
		res.fail(StatusLaneNotFound, "lane not found: %s", m.Reason)
	}
	return "", false
}

// quietLane is laneFor without touching the resolution, for accessorial
// entries that may be tied to a lane.
func (r *Resolver) quietLane(ss *session, line Line) (string, bool) {
	if n := strings.TrimSpace(line.LaneNumber); n != "" {
		if ss.bundle.RateCard != nil {
			if l, ok := ss.bundle.RateCard.Lane(n); ok {
				return l.Number, true
			}
		}
		return n, true
	}
	if ss.bundle.RateCard == nil {
		return "", false
	}
	m := ss.matchLane(r.matcher)
	if m.Status != lane.StatusMatched {
		return "", false
	}
	return m.Lane(), true
}

// lanePrices finds the populated price set for cost on lane l, falling
// back to a sibling column sharing the cost's base name.
func lanePrices(l *ratecard.Lane, cost string) (ratecard.PriceSet, string, bool) {
	if l == nil || len(l.Prices) == 0 {
		return ratecard.PriceSet{}, "", false
	}
	keys := make([]string, 0, len(l.Prices))
	for k := range l.Prices {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	want := ratecard.Normalize(cost)
	for _, k := range keys {
		if ratecard.Normalize(k) == want && l.Prices[k].Populated() {
			return l.Prices[k], k, true
		}
	}
	base := ratecard.Normalize(ratecard.BaseName(cost))
	for _, k := range keys {
		if ratecard.Normalize(ratecard.BaseName(k)) == base && l.Prices[k].Populated() {
			return l.Prices[k], k, true
		}
	}
	return ratecard.PriceSet{}, "", false
}

func (r *Resolver) price(ss *session, res *Resolution, b Basis, prices ratecard.PriceSet) {
	res.Basis = b.String()

	switch b.Kind {
	case KindFlat:
		if !prices.Flat.Valid {
			res.fail(StatusPriceMissing, "no flat price for %s%s", res.CostName, onLane(res))
			return
		}
		res.resolve(prices.Flat.Decimal, "flat %s per shipment for %s%s", money(prices.Flat.Decimal), res.CostName, onLane(res))

	case KindTieredFlat:
		driver, unit, ok := tierDriver(ss.s, b.Tiers)
		if !ok {
			res.fail(StatusMultiplierMissing, "shipment has no %s to select a tier of %s", unit, res.CostName)
			return
		}
		t, ok := selectTier(res, b.Tiers, driver, unit)
		if !ok {
			return
		}
		res.Tier = t.Label
		res.resolve(t.Price, "flat %s from tier %s (%s %s)", money(t.Price), t.Label, unit, driver)

	case KindPerUnit, KindTieredPerUnit:
		qty, from, ok := multiplier(ss.s, b.RateBy.Unit)
		if !ok {
			res.fail(StatusMultiplierMissing, "shipment has no %s to multiply %s by", b.RateBy.Unit, res.CostName)
			return
		}
		rounded := b.RateBy.Rounding.Apply(qty)

		var unitPrice decimal.Decimal
		if b.Kind == KindTieredPerUnit {
			driver, unit, ok := tierDriver(ss.s, b.Tiers)
			if !ok {
				res.fail(StatusMultiplierMissing, "shipment has no %s to select a tier of %s", unit, res.CostName)
				return
			}
			if unit == "weight" && b.RateBy.Unit == "weight" {
				driver = rounded
			}
			t, ok := selectTier(res, b.Tiers, driver, unit)
			if !ok {
				return
			}
			res.Tier = t.Label
			unitPrice = t.Price
		} else {
			switch {
			case prices.PerUnit.Valid:
				unitPrice = prices.PerUnit.Decimal
			case prices.Flat.Valid:
				unitPrice = prices.Flat.Decimal
			default:
				res.fail(StatusPriceMissing, "no per-unit price for %s%s", res.CostName, onLane(res))
				return
			}
		}

		total := unitPrice.Mul(rounded)
		calc := fmt.Sprintf("%s x %s %s", money(unitPrice), rounded, from)
		if !rounded.Equal(qty) {
			calc += fmt.Sprintf(" (%s %s)", qty, b.RateBy.Rounding)
		}
		if res.Tier != "" {
			calc += " at tier " + res.Tier
		}
		finish(res, total, calc, prices.Min, prices.Max)
	}
}

func (r *Resolver) percentage(ss *session, res *Resolution, entry ratecard.AccessorialCost) {
	b := percentageBasis(entry)
	res.Basis = b.String()
	if len(entry.PercentageOf) == 0 {
		res.fail(StatusBaseCostNotFound, "percentage cost %s names no base costs", entry.Name)
		return
	}

	sum := decimal.Zero
	counted := make(map[string]bool)
	var parts, missing []string
	for _, base := range entry.PercentageOf {
		hits := ss.ledger.Lookup(base)
		switch len(hits) {
		case 0:
			missing = append(missing, base)
			continue
		case 1:
		default:
			found := make([]string, 0, len(hits))
			for name := range hits {
				found = append(found, name)
			}
			sort.Strings(found)
			res.fail(StatusNeedsReview, "base cost %q matches several resolved costs: %s", base, strings.Join(found, ", "))
			return
		}
		for name, amount := range hits {
			if counted[name] {
				continue
			}
			counted[name] = true
			sum = sum.Add(amount)
			parts = append(parts, fmt.Sprintf("%s %s", name, money(amount)))
		}
	}

	if len(counted) == 0 {
		res.fail(StatusBaseCostNotFound, "base cost not found: none of %s resolved for shipment %s",
			strings.Join(entry.PercentageOf, ", "), ss.s.ID)
		return
	}
	if len(missing) > 0 {
		res.note("base costs not resolved: %s", strings.Join(missing, ", "))
	}

	total := sum.Mul(b.Percentage).Div(hundred)
	calc := fmt.Sprintf("%s%% of %s (%s)", b.Percentage, money(sum), strings.Join(parts, " + "))
	finish(res, total, calc, entry.Min, entry.Max)
}

// finish applies MIN before MAX; only one clamp takes effect.
func finish(res *Resolution, total decimal.Decimal, calc string, lo, hi decimal.NullDecimal) {
	switch {
	case lo.Valid && total.LessThan(lo.Decimal):
		res.resolve(lo.Decimal, "%s = %s below MIN, MIN %s applied", calc, money(total), money(lo.Decimal))
		res.Clamp = ClampMin
	case hi.Valid && total.GreaterThan(hi.Decimal):
		res.resolve(hi.Decimal, "%s = %s above MAX, MAX %s applied", calc, money(total), money(hi.Decimal))
		res.Clamp = ClampMax
	default:
		res.resolve(total, "%s = %s", calc, money(total))
	}
}

func selectTier(res *Resolution, tiers []ratecard.TierPrice, driver decimal.Decimal, unit string) (tier.Tier, bool) {
	entries := make([]tier.Entry, len(tiers))
	for i, t := range tiers {
		entries[i] = tier.Entry{Label: t.Label, Price: t.Price}
	}
	table, skipped := tier.NewTable(entries)
	if len(skipped) > 0 {
		res.note("ignored tier columns without a range: %s", strings.Join(skipped, ", "))
	}
	t, err := table.Select(driver)
	switch {
	case err == nil:
		return t, true
	case errors.Is(err, tier.ErrExceedsMaxTier):
		res.fail(StatusTierExceeded, "%s %s exceeds max tier of %s", unit, driver, res.CostName)
	default:
		res.fail(StatusTierNotFound, "no tier of %s covers %s %s", res.CostName, unit, driver)
	}
	return tier.Tier{}, false
}

// multiplier reads the quantity a per-unit rate applies to: chargeable
// weight, then a named measurement, then a shipment column.
func multiplier(s *ratecard.Shipment, unit string) (decimal.Decimal, string, bool) {
	if unit == "" {
		return decimal.Zero, "", false
	}
	if unit == "weight" {
		if s.Weight.Valid {
			return s.Weight.Decimal, "kg", true
		}
		if raw, ok := s.Attribute(ratecard.AttrWeight); ok {
			if v, ok := ratecard.ParseDecimal(raw); ok {
				return v, "kg", true
			}
		}
		return decimal.Zero, "kg", false
	}
	if v, name, ok := s.Measurement(unit); ok {
		return v, name, true
	}
	if attr, ok := ratecard.ResolveAttribute(unit, s.Attributes); ok {
		if raw, present := s.Attribute(attr); present {
			if v, ok := ratecard.ParseDecimal(raw); ok {
				return v, unit, true
			}
		}
	}
	return decimal.Zero, unit, false
}

func tierDriver(s *ratecard.Shipment, tiers []ratecard.TierPrice) (decimal.Decimal, string, bool) {
	labels := make([]string, len(tiers))
	for i, t := range tiers {
		labels[i] = t.Label
	}
	unit := tier.Driver(labels)
	v, _, ok := multiplier(s, unit)
	return v, unit, ok
}

func (r *Resolver) shipDate(s *ratecard.Shipment) *time.Time {
	if s.ShipDate != nil {
		return s.ShipDate
	}
	raw, _ := s.Attribute(r.dateAttribute)
	return ratecard.ParseDate(raw)
}

func withinWindow(from, to, date *time.Time) bool {
	if date == nil {
		return true
	}
	day := date.Format(time.DateOnly)
	if from != nil && day < from.Format(time.DateOnly) {
		return false
	}
	if to != nil && day > to.Format(time.DateOnly) {
		return false
	}
	return true
}

func onLane(res *Resolution) string {
	if l := res.Lane(); l != "" {
		return " on lane " + l
	}
	return ""
}
