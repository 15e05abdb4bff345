package catalog

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"freightaudit/internal/ratecard"
	"freightaudit/pkg/metrics"
)

const DefaultAccessorialCollection = "accessorial_costs"

// accessorialDocument is the stored form of one accessorial row. Amounts
// and dates keep their sheet text.
type accessorialDocument struct {
	AgreementID  string   `bson:"agreement_id"`
	Position     int      `bson:"position"`
	Name         string   `bson:"name"`
	LaneNumber   string   `bson:"lane_number,omitempty"`
	RateBy       string   `bson:"rate_by"`
	AppliesIf    string   `bson:"applies_if,omitempty"`
	Flat         string   `bson:"flat,omitempty"`
	PerUnit      string   `bson:"per_unit,omitempty"`
	Min          string   `bson:"min,omitempty"`
	Max          string   `bson:"max,omitempty"`
	Percentage   string   `bson:"percentage,omitempty"`
	PercentageOf []string `bson:"percentage_of,omitempty"`
	ValidFrom    string   `bson:"valid_from,omitempty"`
	ValidTo      string   `bson:"valid_to,omitempty"`
}

func (d accessorialDocument) cost() ratecard.AccessorialCost {
	return ratecard.AccessorialCost{
		Name:         d.Name,
		LaneNumber:   d.LaneNumber,
		RateBy:       d.RateBy,
		AppliesIf:    d.AppliesIf,
		Flat:         ratecard.NullDecimal(d.Flat),
		PerUnit:      ratecard.NullDecimal(d.PerUnit),
		Min:          ratecard.NullDecimal(d.Min),
		Max:          ratecard.NullDecimal(d.Max),
		Percentage:   ratecard.NullDecimal(d.Percentage),
		PercentageOf: d.PercentageOf,
		ValidFrom:    ratecard.ParseDate(d.ValidFrom),
		ValidTo:      ratecard.ParseDate(d.ValidTo),
	}
}

func newAccessorialDocument(agreementID string, position int, c ratecard.AccessorialCost) accessorialDocument {
	return accessorialDocument{
		AgreementID:  agreementID,
		Position:     position,
		Name:         c.Name,
		LaneNumber:   c.LaneNumber,
		RateBy:       c.RateBy,
		AppliesIf:    c.AppliesIf,
		Flat:         decimalText(c.Flat),
		PerUnit:      decimalText(c.PerUnit),
		Min:          decimalText(c.Min),
		Max:          decimalText(c.Max),
		Percentage:   decimalText(c.Percentage),
		PercentageOf: c.PercentageOf,
		ValidFrom:    dateText(c.ValidFrom),
		ValidTo:      dateText(c.ValidTo),
	}
}

// MongoAccessorialStore reads accessorial catalogs from a collection with
// one document per row.
type MongoAccessorialStore struct {
	collection *mongo.Collection
}

func NewMongoAccessorialStore(db *mongo.Database, collection string) *MongoAccessorialStore {
	if collection == "" {
		collection = DefaultAccessorialCollection
	}
	return &MongoAccessorialStore{
		collection: db.Collection(collection),
	}
}

func (r *MongoAccessorialStore) Accessorials(ctx context.Context, agreementID string) (*ratecard.AccessorialCatalog, error) {
	start := time.Now()
	cat, err := r.find(ctx, agreementID)
	metrics.ObserveDatabaseQuery("catalog", "mongodb", "load_accessorials", queryStatus(err), time.Since(start))
	return cat, err
}

func (r *MongoAccessorialStore) find(ctx context.Context, agreementID string) (*ratecard.AccessorialCatalog, error) {
	filter := bson.M{"agreement_id": agreementID}
	opts := options.Find().SetSort(bson.D{{Key: "position", Value: 1}})

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find accessorial costs: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []accessorialDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode accessorial costs: %w", err)
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("accessorial catalog for %s: %w", agreementID, ErrNotFound)
	}

	cat := &ratecard.AccessorialCatalog{AgreementID: agreementID, Costs: make([]ratecard.AccessorialCost, 0, len(docs))}
	for _, d := range docs {
		cat.Costs = append(cat.Costs, d.cost())
	}
	return cat, nil
}

// Import replaces the agreement's documents. Only the accessorial half of
// the bundle is stored here.
func (r *MongoAccessorialStore) Import(ctx context.Context, agreementID string, bundle ratecard.Bundle) error {
	if bundle.Accessorials == nil {
		return nil
	}

	if _, err := r.collection.DeleteMany(ctx, bson.M{"agreement_id": agreementID}); err != nil {
		return fmt.Errorf("failed to clear accessorial costs: %w", err)
	}
	if len(bundle.Accessorials.Costs) == 0 {
		return nil
	}

	docs := make([]interface{}, 0, len(bundle.Accessorials.Costs))
	for i, c := range bundle.Accessorials.Costs {
		docs = append(docs, newAccessorialDocument(agreementID, i, c))
	}
	if _, err := r.collection.InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("failed to insert accessorial costs: %w", err)
	}
	return nil
}
