package main

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/mongo"

	"freightaudit/internal/catalog"
	"freightaudit/internal/condition"
	"freightaudit/internal/config"
	"freightaudit/internal/lane"
	"freightaudit/internal/logger"
	"freightaudit/internal/rating"
	"freightaudit/internal/reconcile"
	"freightaudit/pkg/bootstrap"
	"freightaudit/pkg/cel"
	"freightaudit/pkg/circuitbreaker"
	"freightaudit/pkg/migrations"
	"freightaudit/pkg/retry"
)

// stores holds the database handles the catalog source reads from. Any of
// them is nil when the config does not need it.
type stores struct {
	db          *sql.DB
	mongoClient *mongo.Client
	mongoDB     *mongo.Database
}

func needsPostgres(cfg *config.Config) bool {
	return !strings.EqualFold(cfg.Catalog.Source, "file") ||
		strings.EqualFold(cfg.Catalog.AccessorialSource, "postgres")
}

func needsMongo(cfg *config.Config) bool {
	return strings.EqualFold(cfg.Catalog.AccessorialSource, "mongodb")
}

// openStores connects the databases the catalog config asks for and runs
// the schema migrations when enabled.
func openStores(ctx context.Context, cfg *config.Config, dbc *bootstrap.DatabaseConnector, log logger.Logger) (*stores, error) {
	st := &stores{}

	if needsPostgres(cfg) {
		db, err := dbc.InitPostgreSQL(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to connect rate card store: %w", err)
		}
		if db == nil {
			return nil, fmt.Errorf("postgres catalog source configured without database.postgres.host")
		}
		st.db = db

		if cfg.Database.RunMigrations {
			if err := migrations.RunPostgres(db, migrations.Up); err != nil {
				st.close(ctx, dbc)
				return nil, err
			}
			version, _, _ := migrations.PostgresVersion(db)
			log.Infow("Catalog schema migrated", "version", version)
		}
	}

	if needsMongo(cfg) {
		client, err := dbc.InitMongoDB(ctx)
		if err != nil {
			st.close(ctx, dbc)
			return nil, fmt.Errorf("failed to connect accessorial store: %w", err)
		}
		st.mongoClient = client
		st.mongoDB = client.Database(dbc.MongoDatabaseName())

		if cfg.Database.RunMigrations {
			if err := migrations.EnsureAccessorialIndexes(ctx, st.mongoDB, cfg.Database.MongoDB.Collection); err != nil {
				st.close(ctx, dbc)
				return nil, err
			}
		}
	}

	return st, nil
}

func (st *stores) close(ctx context.Context, dbc *bootstrap.DatabaseConnector) []error {
	return dbc.ShutdownDatabases(ctx, nil, st.db, st.mongoClient)
}

// catalogSource assembles the rate card and accessorial stores named in
// the config behind retries and a circuit breaker.
func catalogSource(cfg *config.Config, st *stores, log logger.Logger) (catalog.Source, error) {
	var (
		cards       catalog.RateCardStore
		accessorial catalog.AccessorialStore
	)

	files := catalog.NewFileSource(cfg.Catalog.FileDir)
	var pg *catalog.PostgresStore
	if st.db != nil {
		pg = catalog.NewPostgresStore(st.db)
	}

	switch strings.ToLower(cfg.Catalog.Source) {
	case "file":
		cards = files
	default:
		cards = pg
	}

	switch strings.ToLower(cfg.Catalog.AccessorialSource) {
	case "file":
		accessorial = files
	case "postgres":
		accessorial = pg
	default:
		if st.mongoDB == nil {
			return nil, fmt.Errorf("mongodb accessorial source configured without a connection")
		}
		accessorial = catalog.NewMongoAccessorialStore(st.mongoDB, cfg.Database.MongoDB.Collection)
	}

	policy := retry.PolicyFromConfig(retry.DefaultPolicy(), cfg.Catalog.Retry)
	cb := circuitbreaker.FromConfig("catalog", cfg.CircuitBreaker)
	return catalog.NewResilientSource("catalog", catalog.NewLoader(cards, accessorial), cb, policy, log), nil
}

type engine struct {
	conditions *condition.Evaluator
	matcher    *lane.Matcher
	runner     *reconcile.Runner
}

func newEngine(cfg config.ResolverConfig, log logger.Logger) (*engine, error) {
	var expr *cel.Evaluator
	if cfg.CELConditions {
		e, err := cel.NewEvaluator()
		if err != nil {
			return nil, fmt.Errorf("failed to create CEL evaluator: %w", err)
		}
		expr = e
	}

	conds := condition.NewEvaluator(expr)
	matcher := lane.NewMatcher(conds, lane.WithDateAttribute(cfg.DateAttribute))
	resolver := rating.NewResolver(conds, matcher,
		rating.WithTieBreak(rating.TieBreak{
			Satisfied:   rating.Preference(strings.ToLower(cfg.CostTieBreak.Satisfied)),
			Unsatisfied: rating.Preference(strings.ToLower(cfg.CostTieBreak.Unsatisfied)),
		}),
		rating.WithDateAttribute(cfg.DateAttribute),
	)

	return &engine{
		conditions: conds,
		matcher:    matcher,
		runner:     reconcile.NewRunner(resolver, cfg.Workers, log),
	}, nil
}
