package main

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/yairfalse/nexconv/config"
	appconfig "github.com/yairfalse/nexconv/internal/config"
	"github.com/yairfalse/nexconv/orchestrator"
	"github.com/yairfalse/nexconv/policy"
	"github.com/yairfalse/nexconv/reconciler"
	"github.com/yairfalse/nexconv/registry"
	"github.com/yairfalse/nexconv/telemetry"
	"github.com/yairfalse/nexconv/types"
	"github.com/yairfalse/nexconv/wal"
)

// app holds everything a command needs, built from the tool config.
type app struct {
	cfg       *appconfig.Config
	servers   map[string]types.Server
	logger    *telemetry.Logger
	connector *registry.Connector
	guard     *policy.Guard
	journal   *wal.WAL
	shutdown  func(context.Context) error
}

func newApp(ctx context.Context, logOut io.Writer) (*app, error) {
	cfg, err := appconfig.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", configPath, err)
	}

	logger, err := newLogger(logOut, cfg.Log.Level)
	if err != nil {
		return nil, err
	}

	servers, err := cfg.ResolveServers()
	if err != nil {
		return nil, err
	}

	endpoint := ""
	if cfg.OTEL.Traces.Enabled || cfg.OTEL.Metrics.Enabled {
		endpoint = cfg.OTEL.Endpoint
	}
	shutdown, err := telemetry.InitOTEL(ctx, telemetry.Config{
		ServiceName:    cfg.OTEL.ServiceName,
		ServiceVersion: version,
		OTELEndpoint:   endpoint,
		Insecure:       cfg.OTEL.Insecure,
		Traces:         cfg.OTEL.Traces.Enabled,
		SampleRate:     cfg.OTEL.Traces.SampleRate,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	a := &app{
		cfg:       cfg,
		servers:   servers,
		logger:    logger,
		connector: registry.NewConnector(cfg.Client.Timeout, logger),
		shutdown:  shutdown,
	}

	if cfg.Policy.Path != "" {
		a.guard, err = policy.Load(ctx, cfg.Policy.Path, logger)
		if err != nil {
			a.close(ctx)
			return nil, err
		}
	}

	if cfg.Journal.Dir != "" {
		a.journal, err = wal.Open(cfg.Journal.Dir)
		if err != nil {
			a.close(ctx)
			return nil, fmt.Errorf("failed to open journal: %w", err)
		}
	}

	return a, nil
}

// newLogger picks the level from the flags first, then the config.
func newLogger(out io.Writer, configured string) (*telemetry.Logger, error) {
	level := configured
	if logLevel != "" {
		level = logLevel
	}
	if debug {
		level = "debug"
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zerolog.SetGlobalLevel(lvl)

	if !jsonLogs {
		out = zerolog.ConsoleWriter{Out: out}
	}
	return telemetry.NewLoggerTo(out, "nexconv"), nil
}

func (a *app) engine(dryRun bool) *reconciler.Engine {
	opts := []reconciler.EngineOption{reconciler.WithLogger(a.logger)}
	if a.guard != nil {
		opts = append(opts, reconciler.WithGuard(a.guard))
	}
	if a.journal != nil {
		opts = append(opts, reconciler.WithJournal(a.journal))
	}
	return reconciler.NewEngine(a.connector, reconciler.Options{DryRun: dryRun}, opts...)
}

func (a *app) orchestrator(dryRun bool) *orchestrator.Orchestrator {
	return orchestrator.NewOrchestrator(a.engine(dryRun), a.servers, a.logger)
}

// loadManifest reads the manifest and checks it only names known servers.
func (a *app) loadManifest() (*config.Manifest, error) {
	manifest, err := config.Load(manifestPath)
	if err != nil {
		return nil, err
	}
	if err := manifest.ValidateServers(a.servers); err != nil {
		return nil, err
	}
	return manifest, nil
}

func (a *app) close(ctx context.Context) {
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("failed to close journal")
		}
	}
	if a.shutdown != nil {
		if err := a.shutdown(ctx); err != nil {
			a.logger.Warn().Err(err).Msg("telemetry shutdown failed")
		}
	}
}
