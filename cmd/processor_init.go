package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/scribeworks/formfill-cli/internal/docfill"
	"github.com/scribeworks/formfill-cli/internal/ingest"
	"github.com/scribeworks/formfill-cli/internal/pipeline"
	"github.com/scribeworks/formfill-cli/internal/quota"
	"github.com/scribeworks/formfill-cli/internal/resilience"
	"github.com/scribeworks/formfill-cli/internal/store"
	"github.com/scribeworks/formfill-cli/pkg/oracle"
)

// processorEnv holds the initialized store and processor needed by the
// process/submit/batch/serve commands.
type processorEnv struct {
	Store     store.Store
	Processor *pipeline.Processor
}

// Close releases resources held by the environment.
func (pe *processorEnv) Close() {
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "formfill.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.PoolMaxConns,
			MinConns: cfg.Store.PoolMinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initProcessor sets up the store, the oracle gateway, and the processor.
// Callers should defer env.Close().
func initProcessor(ctx context.Context) (*processorEnv, error) {
	if cfg.Oracle.Key == "" {
		return nil, eris.New("oracle API key is required (FORMFILL_ORACLE_KEY)")
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	breaker := resilience.DefaultCircuitBreakerConfig()
	if cfg.Oracle.FailureThreshold > 0 {
		breaker.FailureThreshold = cfg.Oracle.FailureThreshold
	}
	gateway := oracle.NewGateway(oracle.NewClient(cfg.Oracle.Key), oracle.GatewayConfig{
		MaxRetries:        cfg.Oracle.MaxRetries,
		BaseDelay:         time.Duration(cfg.Oracle.BaseDelayMs) * time.Millisecond,
		RequestsPerMinute: cfg.Oracle.RequestsPerMinute,
		Breaker:           breaker,
	})

	guard := quota.NewGuard(st, cfg.Quota.DailyLimit)
	ingestor := ingest.NewIngestor(cfg.Ingest.MaxFileSizeMB, cfg.Ingest.AcceptedTypes)
	renderer := docfill.NewFiller(cfg.Output.Dir)

	zap.L().Debug("processor initialized",
		zap.String("store", cfg.Store.Driver),
		zap.Int("daily_limit", cfg.Quota.DailyLimit))

	return &processorEnv{
		Store:     st,
		Processor: pipeline.NewProcessor(cfg, st, gateway, guard, ingestor, renderer),
	}, nil
}
