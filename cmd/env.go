package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/furnishly/catalog-cli/internal/categorize"
	"github.com/furnishly/catalog-cli/internal/extract"
	"github.com/furnishly/catalog-cli/internal/fetcher"
	"github.com/furnishly/catalog-cli/internal/pipeline"
	"github.com/furnishly/catalog-cli/internal/resilience"
	"github.com/furnishly/catalog-cli/internal/store"
	"github.com/furnishly/catalog-cli/internal/taxonomy"
	"github.com/furnishly/catalog-cli/internal/vendor"
)

// pipelineEnv holds the initialized store, registry, and pipeline shared
// by the scrape/sync/serve commands.
type pipelineEnv struct {
	Store    store.Store
	Registry *vendor.Registry
	Pipeline *pipeline.Pipeline
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "catalog.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &cfg.Store.Pool)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func initTaxonomy() (*taxonomy.Set, error) {
	if cfg.Taxonomy.Dir == "" {
		return taxonomy.Default(), nil
	}
	set, err := taxonomy.Load(cfg.Taxonomy.Dir)
	if err != nil {
		return nil, err
	}
	zap.L().Info("taxonomy loaded",
		zap.String("dir", cfg.Taxonomy.Dir),
		zap.Int("rooms", len(set.Rooms)),
		zap.Int("products", len(set.Products)),
		zap.Int("fixtures", len(set.Fixtures)),
	)
	return set, nil
}

// initPipeline sets up the store, fetcher, taxonomy, and vendor registry
// and builds the Pipeline. Callers should defer env.Close().
func initPipeline(ctx context.Context, opts pipeline.Options) (*pipelineEnv, error) {
	if err := cfg.Validate("scrape"); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	set, err := initTaxonomy()
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	f, err := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent:     cfg.Fetch.UserAgent,
		Timeout:       time.Duration(cfg.Fetch.TimeoutSecs) * time.Second,
		MaxRetries:    cfg.Fetch.MaxRetries,
		Delay:         time.Duration(cfg.Fetch.DelayMs) * time.Millisecond,
		Proxies:       cfg.Fetch.Proxies,
		ProxyUsername: cfg.Fetch.ProxyUsername,
		ProxyPassword: cfg.Fetch.ProxyPassword,
		HostRate:      rate.Limit(cfg.Fetch.HostRate),
		HostBurst:     cfg.Fetch.HostBurst,
		Breaker:       resilience.FromBreakerConfig(cfg.Fetch.BreakerThreshold, cfg.Fetch.BreakerResetSecs),
	})
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	reg := vendor.Defaults()
	p := pipeline.New(f, extract.New(), categorize.New(set), st, opts)

	return &pipelineEnv{
		Store:    st,
		Registry: reg,
		Pipeline: p,
	}, nil
}
