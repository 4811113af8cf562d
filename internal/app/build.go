package app

import (
	"context"
	"fmt"

	"github.com/arielgw/castkit/internal/chatkit"
	"github.com/arielgw/castkit/internal/config"
	"github.com/arielgw/castkit/internal/facts"
	"github.com/arielgw/castkit/internal/httpapi"
	"github.com/arielgw/castkit/internal/identity"
	"github.com/arielgw/castkit/internal/observability"
)

type BuildResult struct {
	Config   config.Config
	API      *httpapi.Server
	Upstream *chatkit.Client
	Facts    facts.Store
	Metrics  *observability.Metrics

	// Cleanup should be called on shutdown to release external resources (DB, etc).
	Cleanup func() error
}

// Build wires the broker from config: metrics, fact store, upstream client,
// identity resolver and the HTTP surface.
func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	factStore, err := facts.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("fact store init failed: %w", err)
	}

	upstream := chatkit.New(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.MetadataPlacement, cfg.CompatFallback)
	resolver := identity.NewResolver(cfg.CookieName, cfg.CookieMaxAge, cfg.Production())

	api := httpapi.New(cfg, resolver, upstream, factStore, metrics)

	return &BuildResult{
		Config:   cfg,
		API:      api,
		Upstream: upstream,
		Facts:    factStore,
		Metrics:  metrics,
		Cleanup:  factStore.Close,
	}, nil
}
