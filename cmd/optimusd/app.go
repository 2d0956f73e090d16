package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"optimus/internal/blob"
	"optimus/internal/config"
	"optimus/internal/core"
	natsevents "optimus/internal/infra/events/nats"
	"optimus/internal/notify"
	"optimus/internal/platform/logging"
	"optimus/internal/realtime"
)

// app holds the wired runtime shared by every subcommand.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	store    core.PersistentStore
	hub      *realtime.Hub
	notifier *notify.Manager
	svc      *core.Service
	closers  []func() error
}

func openApp(ctx context.Context, flags globalFlags, stderr io.Writer) (_ *app, err error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}
	if flags.logFormat != "" {
		cfg.Log.Format = flags.logFormat
	}
	if flags.logLevel != "" {
		cfg.Log.Level = flags.logLevel
	}
	logger, err := logging.New(stderr, cfg.Log.Format, cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	a := &app{cfg: cfg, logger: logger, registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	a.store, err = core.OpenPersistentStore(ctx, core.StorageConfig{
		Driver:      core.StorageDriver(cfg.Storage.Driver),
		SQLitePath:  cfg.Storage.SQLitePath,
		PostgresDSN: cfg.Storage.PostgresDSN,
	}, core.NewDefaultRulesEngine())
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.closers = append(a.closers, a.store.Close)

	blobs, err := blob.Open(ctx, blob.Config{
		Driver: blob.Driver(cfg.Blob.Driver),
		FSRoot: cfg.Blob.FSRoot,
		S3: blob.S3Config{
			Region:          cfg.Blob.S3.Region,
			Bucket:          cfg.Blob.S3.Bucket,
			Endpoint:        cfg.Blob.S3.Endpoint,
			AccessKeyID:     cfg.Blob.S3.AccessKeyID,
			SecretAccessKey: cfg.Blob.S3.SecretAccessKey,
			PathStyle:       cfg.Blob.S3.PathStyle,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("open blob store: %w", err)
	}

	hubOpts := []realtime.Option{realtime.WithLogger(logger), realtime.WithRegisterer(a.registry)}
	if cfg.NATS.URL != "" {
		sink, err := natsevents.Connect(natsevents.Config{URL: cfg.NATS.URL, Prefix: cfg.NATS.Prefix})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, sink.Close)
		hubOpts = append(hubOpts, realtime.WithSink(sink))
		logger.Info("mirroring events to nats", "url", cfg.NATS.URL, "prefix", cfg.NATS.Prefix)
	}
	a.hub, err = realtime.NewHub(hubOpts...)
	if err != nil {
		return nil, err
	}

	a.notifier, err = notify.New(blobs, a.hub, notify.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	a.hub.OnConnect(a.notifier.OnConnect)

	recorder, err := core.NewPrometheusRecorder(a.registry)
	if err != nil {
		return nil, err
	}

	rnd := core.DefaultRandom()
	if cfg.Simulation.Seed != 0 {
		rnd = core.NewSeededRandom(cfg.Simulation.Seed)
	}
	society := core.NewSociety(
		core.NewPoliticalSystem(rnd),
		core.NewJudicialSystem(),
		core.NewCitizenPressure(rnd, cfg.Simulation.BatchSize),
	)
	a.svc, err = core.NewService(a.store, society,
		core.WithLogger(logger),
		core.WithMetrics(recorder),
		core.WithNotifier(a.notifier),
	)
	if err != nil {
		return nil, err
	}
	logger.Debug("runtime ready",
		"storage", cfg.Storage.Driver,
		"blob", cfg.Blob.Driver,
		"norms", len(a.store.ListNorms()),
		"cases", len(a.store.ListCases()),
	)
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	if a.hub != nil {
		a.hub.Close()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
