package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"treatpredict/config"
	"treatpredict/db"
	qhttp "treatpredict/http"
	"treatpredict/monitoring"
	"treatpredict/predictor"
)

func newServeCommand(loadConfig func() (*config.Config, error)) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the prediction API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Http.Port = port
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "override http.port")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	opts := []predictor.Option{predictor.WithLogger(logger), predictor.WithCacheSize(cfg.Cache.Size)}

	// Artifacts are loaded once before listening; a failure here aborts startup.
	artifacts := artifactsFrom(cfg)
	svc, err := predictor.Load(artifacts, logger, opts...)
	if err != nil {
		logger.Error("loading artifacts failed", zap.Error(err))
		return err
	}
	holder := predictor.NewHolder(svc)

	deps := qhttp.Deps{Predictor: holder, Logger: logger}

	if cfg.Database.Path != "" {
		store, err := db.Open(cfg.Database.Path)
		if err != nil {
			return errors.Wrap(err, "open audit store")
		}
		defer store.Close()
		deps.Store = store
		logger.Info("prediction audit enabled", zap.String("path", cfg.Database.Path))
	}

	g, ctx := errgroup.WithContext(ctx)

	if cfg.Monitor.Enabled {
		hub := monitoring.NewHub(logger)
		metrics := monitoring.NewMetricsCollector()
		metrics.TrackClients(hub.ClientCount)
		deps.Hub = hub
		deps.Metrics = metrics

		g.Go(func() error {
			hub.Run()
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			hub.Stop()
			return nil
		})
	}

	if cfg.Artifacts.Watch {
		reloader := predictor.NewReloader(holder, artifacts, logger, opts...)
		reloader.SetDebounce(cfg.Artifacts.Debounce)
		reloader.OnReload(func(err error) {
			if deps.Metrics != nil {
				deps.Metrics.ObserveReload(err)
			}
			if deps.Hub == nil {
				return
			}
			event := map[string]interface{}{"ok": err == nil}
			if err != nil {
				event["error"] = err.Error()
			}
			if perr := deps.Hub.Publish(monitoring.ReloadEvent, event); perr != nil {
				logger.Warn("publishing reload event failed", zap.Error(perr))
			}
		})
		g.Go(func() error {
			return reloader.Run(ctx)
		})
	}

	server := qhttp.NewServer(qhttp.ServerConfig{
		Port:           cfg.Http.Port,
		Timeout:        cfg.Http.Timeout,
		AllowedOrigins: cfg.Http.AllowedOrigins,
		MaxBodyBytes:   cfg.Http.MaxBodyBytes,
	}, deps)

	g.Go(server.Start)
	g.Go(func() error {
		<-ctx.Done()
		return server.Stop()
	})

	logger.Info("service started", zap.Int("port", cfg.Http.Port))
	err = g.Wait()
	logger.Info("service stopped")
	return err
}
