package cli

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/isometry/ad-auth-bridge/internal/auth"
	"github.com/isometry/ad-auth-bridge/internal/config"
	"github.com/isometry/ad-auth-bridge/internal/ldap"
	"github.com/isometry/ad-auth-bridge/internal/logging"
	"github.com/isometry/ad-auth-bridge/internal/metrics"
	"github.com/isometry/ad-auth-bridge/internal/provision"
	"github.com/isometry/ad-auth-bridge/internal/repository"
)

// app holds the wired components shared by the commands.
type app struct {
	config       *config.Config
	store        *repository.Store
	registry     *prometheus.Registry
	synchronizer *provision.Synchronizer
	orchestrator *auth.Orchestrator
}

// loadConfig reads the configuration and returns ctx carrying the configured loggers.
func loadConfig(ctx context.Context, path string) (context.Context, *config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return ctx, nil, err
	}
	return logging.NewContext(ctx, cfg.Logging.Level), cfg, nil
}

// newApp opens the store and wires the directory client, synchronizer and orchestrator.
func newApp(cfg *config.Config) (*app, error) {
	ldapConfig, err := cfg.Directory.ToLDAPConfig()
	if err != nil {
		return nil, fmt.Errorf("directory configuration: %w", err)
	}

	directory, err := ldap.NewClient(ldapConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create directory client: %w", err)
	}

	store, err := repository.Open(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	a := &app{
		config: cfg,
		store:  store,
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		a.registry = prometheus.NewRegistry()
		a.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		m = metrics.New(a.registry)
	}

	a.synchronizer = provision.NewSynchronizer(store, cfg.Provisioning.ToProvisionConfig(), provision.WithMetrics(m))
	a.orchestrator = auth.NewOrchestrator(directory, a.synchronizer, store, auth.WithMetrics(m))

	return a, nil
}

func (a *app) Close() error {
	return a.store.Close()
}
