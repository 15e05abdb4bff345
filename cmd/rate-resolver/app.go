package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"freightaudit/internal/api"
	"freightaudit/internal/config"
	"freightaudit/internal/config_handler"
	"freightaudit/internal/constants"
	"freightaudit/internal/dedup"
	"freightaudit/internal/logger"
	"freightaudit/internal/reconcile"
	"freightaudit/internal/stream"
	"freightaudit/pkg/bootstrap"
	"freightaudit/pkg/circuitbreaker"
	"freightaudit/pkg/health"
	"freightaudit/pkg/logging"
	"freightaudit/pkg/metrics"
	"freightaudit/pkg/models"
	"freightaudit/pkg/ratelimit"
	"freightaudit/pkg/tracing"
)

// App is the long-running resolver: the HTTP API plus, when a broker is
// configured, the cost line stream and the agreement update listener.
type App struct {
	*bootstrap.Base
	dbConnector    *bootstrap.DatabaseConnector
	stores         *stores
	redis          *redis.Client
	engine         *engine
	service        *reconcile.Service
	dedup          *dedup.Service
	limiter        *ratelimit.Limiter
	health         *health.CheckerRegistry
	server         *http.Server
	tracerProvider *tracing.TracerProvider
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	if sugaredLogger, ok := log.(*logger.SugaredLogger); ok {
		sugaredLogger.SetServiceName(constants.ServiceName)
	}
	return &App{
		Base:        bootstrap.NewBase(cfg, log),
		dbConnector: bootstrap.NewDatabaseConnector(cfg, log),
		health:      health.NewCheckerRegistry(),
	}
}

func (a *App) streaming() bool {
	return len(a.Config.Broker.Kafka.Brokers) > 0
}

func (a *App) Initialize(ctx context.Context) error {
	metrics.Register()

	tp, err := tracing.Init(a.Config.Tracing, constants.ServiceName)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	if err := a.initCatalog(ctx); err != nil {
		return fmt.Errorf("failed to initialize catalog: %w", err)
	}

	if a.streaming() {
		if err := a.initDedup(ctx); err != nil {
			return fmt.Errorf("failed to initialize dedup: %w", err)
		}
		if err := a.InitBroker(constants.ServiceName); err != nil {
			return fmt.Errorf("failed to initialize broker: %w", err)
		}
	}

	a.initServer()
	return nil
}

func (a *App) initCatalog(ctx context.Context) error {
	st, err := openStores(ctx, a.Config, a.dbConnector, a.Logger)
	if err != nil {
		return err
	}
	a.stores = st
	if st.db != nil {
		a.health.Register(health.NewPostgreSQLChecker(st.db))
	}
	if st.mongoClient != nil {
		a.health.Register(health.NewMongoDBChecker(st.mongoClient))
	}

	src, err := catalogSource(a.Config, st, a.Logger)
	if err != nil {
		return err
	}

	eng, err := newEngine(a.Config.Resolver, a.Logger)
	if err != nil {
		return err
	}
	a.engine = eng
	a.service = reconcile.NewService(eng.runner, src, a.Logger)
	return nil
}

func (a *App) initDedup(ctx context.Context) error {
	if !a.Config.Dedup.Enabled {
		return nil
	}

	rdb, err := a.dbConnector.InitRedis(ctx)
	if err != nil {
		return err
	}
	if rdb == nil {
		a.Logger.Warnw("Dedup enabled without database.redis.host, replays will not be detected")
		return nil
	}
	a.redis = rdb
	a.health.RegisterOptional(health.NewRedisChecker(rdb))

	var repo dedup.Repository = dedup.NewRepository(rdb)
	if cb := circuitbreaker.FromConfig("dedup", a.Config.CircuitBreaker); cb != nil {
		repo = dedup.NewBreakerRepository(repo, cb)
		a.Logger.Infow("Circuit breaker enabled for dedup repository")
	}
	a.dedup = dedup.NewService(repo, a.Config.Dedup, a.Logger)
	return nil
}

func (a *App) initServer() {
	gin.SetMode(gin.ReleaseMode)

	if a.Config.API.RateLimit.Enabled {
		a.limiter = ratelimit.NewLimiter(a.Config.API.RateLimit)
		a.Logger.Infow("Rate limiting enabled",
			"rps", a.Config.API.RateLimit.RPS,
			"burst", a.Config.API.RateLimit.Burst,
		)
	}

	handler := api.NewHandler(a.service, a.engine.matcher, a.engine.conditions, a.Logger)
	router := api.NewRouter(handler, api.RouterOptions{
		ServiceName: constants.ServiceName,
		Tracing:     a.Config.Tracing.Enabled,
		Limiter:     a.limiter,
		Health:      a.health,
	}, a.Logger)

	a.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(a.Config.Server.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(a.Config.Server.WriteTimeoutSeconds) * time.Second,
	}
}

func (a *App) sweepInterval() time.Duration {
	if s := a.Config.API.RateLimit.CleanupInterval; s > 0 {
		return time.Duration(s) * time.Second
	}
	return time.Minute
}

func (a *App) Run(ctx context.Context) error {
	ctx = logging.WithServiceName(ctx, constants.ServiceName)
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.InfowCtx(ctx, "HTTP server starting", "port", a.Config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		return a.Shutdown(context.WithoutCancel(ctx))
	})

	if a.limiter != nil {
		g.Go(func() error {
			a.limiter.Run(gCtx, a.sweepInterval())
			return nil
		})
	}

	if a.streaming() {
		a.runStream(gCtx, g)
	} else {
		a.Logger.InfowCtx(ctx, "No broker configured, serving the HTTP API only")
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (a *App) runStream(ctx context.Context, g *errgroup.Group) {
	kcfg := a.Config.Broker.Kafka

	if a.ConfigConsumer != nil {
		reload := config_handler.NewHandlerWithReloader(
			models.EventTypeAgreementUpdated, models.ServiceTypeRateResolver, a.service, a.Logger)
		handlers := []*config_handler.Handler{reload}
		if a.dedup != nil {
			handlers = append(handlers, config_handler.NewHandlerWithUpdater(
				models.EventTypeDedupConfigUpdated, models.ServiceTypeRateResolver, a.dedup, a.Logger))
		}
		topic := kcfg.ConfigUpdateTopic
		g.Go(func() error {
			a.Logger.InfowCtx(ctx, "Starting agreement update consumer", "topic", topic)
			return a.ConfigConsumer.Consume(ctx, topic, config_handler.Chain(handlers...))
		})
	}

	inputTopic := kcfg.InputTopic
	if inputTopic == "" {
		inputTopic = constants.DefaultInputTopic
	}
	outputTopic := kcfg.OutputTopic
	if outputTopic == "" {
		outputTopic = constants.DefaultOutputTopic
	}

	var deduper stream.Deduper
	if a.dedup != nil {
		deduper = a.dedup
	}
	h := stream.NewHandler(a.service, deduper, a.Producer, outputTopic, constants.ServiceName, a.Logger)

	g.Go(func() error {
		a.Logger.InfowCtx(ctx, "Starting cost line consumer", "input_topic", inputTopic, "output_topic", outputTopic)
		return a.Consumer.Consume(ctx, inputTopic, h.Handle)
	})
}

func (a *App) Shutdown(ctx context.Context) error {
	a.Logger.InfowCtx(ctx, "Shutting down rate resolver")

	additionalShutdown := func(ctx context.Context) []error {
		var errs []error

		if a.server != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
			defer cancel()
			if err := a.server.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("HTTP server shutdown error: %w", err))
			}
		}

		if a.tracerProvider != nil {
			if err := a.tracerProvider.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("tracer provider shutdown error: %w", err))
			}
		}

		errs = append(errs, a.dbConnector.ShutdownDatabases(ctx, a.redis, nil, nil)...)
		if a.stores != nil {
			errs = append(errs, a.stores.close(ctx, a.dbConnector)...)
		}
		return errs
	}

	return a.Base.Shutdown(ctx, additionalShutdown)
}
