package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"freightaudit/internal/broker"
	"freightaudit/internal/catalog"
	"freightaudit/internal/config"
	"freightaudit/internal/constants"
	"freightaudit/internal/logger"
	"freightaudit/internal/ratecard"
	"freightaudit/pkg/bootstrap"
	"freightaudit/pkg/migrations"
	"freightaudit/pkg/models"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:       "migrate [up|down|version]",
		Short:     "Manage the rate card schema",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down", "version"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx, cancel := signalContext()
			defer cancel()

			dbc := bootstrap.NewDatabaseConnector(cfg, log)
			db, err := dbc.InitPostgreSQL(ctx)
			if err != nil {
				return err
			}
			if db == nil {
				return fmt.Errorf("database.postgres.host is not set")
			}
			defer db.Close()

			if args[0] != "version" {
				if err := migrations.RunPostgres(db, migrations.Direction(args[0])); err != nil {
					return err
				}
			}

			version, dirty, err := migrations.PostgresVersion(db)
			if err != nil {
				return fmt.Errorf("failed to read schema version: %w", err)
			}
			log.Infow("Rate card schema", "action", args[0], "version", version, "dirty", dirty)
			return nil
		},
	}
	return cmd
}

func importCmd() *cobra.Command {
	var (
		dir    string
		notify bool
		by     string
	)

	cmd := &cobra.Command{
		Use:   "import [agreement...]",
		Short: "Load agreement JSON files into the configured catalog stores",
		Long: "Reads <dir>/<agreement>.json bundles and replaces the stored rate card and accessorial " +
			"catalog of each agreement. Without arguments every file in the directory is imported.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx, cancel := signalContext()
			defer cancel()

			if by == "" {
				by = os.Getenv("USER")
			}
			return runImport(ctx, cfg, log, dir, args, notify, by)
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "Directory of agreement bundles")
	cmd.Flags().BoolVar(&notify, "notify", true, "Publish an agreement update event for each import")
	cmd.Flags().StringVar(&by, "changed-by", "", "Recorded as the author of the change")
	_ = cmd.MarkFlagRequired("dir")
	return cmd
}

// importTarget is one store a bundle is written to. Rate cards never go to
// MongoDB.
type importTarget struct {
	name     string
	importer catalog.Importer
	// split keeps only the halves this store holds.
	split func(ratecard.Bundle) ratecard.Bundle
}

func importTargets(cfg *config.Config, st *stores) []importTarget {
	var targets []importTarget
	accessorialsInMongo := strings.EqualFold(cfg.Catalog.AccessorialSource, "mongodb")

	if st.db != nil {
		targets = append(targets, importTarget{
			name:     "postgres",
			importer: catalog.NewPostgresStore(st.db),
			split: func(b ratecard.Bundle) ratecard.Bundle {
				if accessorialsInMongo {
					b.Accessorials = nil
				}
				return b
			},
		})
	}
	if st.mongoDB != nil {
		targets = append(targets, importTarget{
			name:     "mongodb",
			importer: catalog.NewMongoAccessorialStore(st.mongoDB, cfg.Database.MongoDB.Collection),
			split: func(b ratecard.Bundle) ratecard.Bundle {
				return ratecard.Bundle{Accessorials: b.Accessorials}
			},
		})
	}
	return targets
}

func runImport(ctx context.Context, cfg *config.Config, log logger.Logger, dir string, ids []string, notify bool, by string) error {
	files := catalog.NewFileSource(dir)
	if len(ids) == 0 {
		found, err := files.Agreements(ctx)
		if err != nil {
			return err
		}
		ids = found
	}
	if len(ids) == 0 {
		return fmt.Errorf("no agreement files in %s", dir)
	}

	// Import always writes to the databases, whatever the serving source.
	storeCfg := *cfg
	if strings.EqualFold(storeCfg.Catalog.Source, "file") {
		storeCfg.Catalog.Source = "postgres"
	}

	dbc := bootstrap.NewDatabaseConnector(cfg, log)
	st, err := openStores(ctx, &storeCfg, dbc, log)
	if err != nil {
		return err
	}
	defer st.close(context.WithoutCancel(ctx), dbc)

	targets := importTargets(cfg, st)
	if len(targets) == 0 {
		return fmt.Errorf("no catalog store configured")
	}

	var producer broker.Producer
	if notify && len(cfg.Broker.Kafka.Brokers) > 0 && cfg.Broker.Kafka.ConfigUpdateTopic != "" {
		producer, err = broker.NewProducer(cfg.Broker, log)
		if err != nil {
			return fmt.Errorf("failed to create producer: %w", err)
		}
		defer producer.Close()
	}

	for _, id := range ids {
		bundle, err := files.Bundle(ctx, id)
		if err != nil {
			return err
		}
		for _, t := range targets {
			if err := t.importer.Import(ctx, id, t.split(bundle)); err != nil {
				return fmt.Errorf("failed to import %s into %s: %w", id, t.name, err)
			}
		}
		log.Infow("Agreement imported", "agreement_id", id, "lanes", laneCount(bundle), "stores", len(targets))

		if producer != nil {
			if err := publishAgreementUpdate(ctx, producer, cfg.Broker.Kafka.ConfigUpdateTopic, id, by); err != nil {
				return err
			}
		}
	}
	return nil
}

func laneCount(b ratecard.Bundle) int {
	if b.RateCard == nil {
		return 0
	}
	return len(b.RateCard.Lanes)
}

func publishAgreementUpdate(ctx context.Context, producer broker.Producer, topic, agreementID, by string) error {
	msg, err := models.NewMessageEnvelopeBuilder(models.TypeAgreementUpdated).
		WithSource(constants.ServiceName).
		WithCorrelationID(agreementID).
		WithPayload(models.ConfigUpdateEvent{
			EventType:   models.EventTypeAgreementUpdated,
			ServiceType: models.ServiceTypeRateResolver,
			AgreementID: agreementID,
			Action:      models.ActionUpdate,
			Timestamp:   time.Now().UTC(),
			ChangedBy:   by,
		}).
		Build()
	if err != nil {
		return fmt.Errorf("failed to build agreement update: %w", err)
	}
	if err := producer.Publish(ctx, topic, *msg); err != nil {
		return fmt.Errorf("failed to publish agreement update: %w", err)
	}
	return nil
}
