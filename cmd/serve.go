package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"healthrisk/db"
	qhttp "healthrisk/http"
	"healthrisk/logging"
	"healthrisk/monitoring"
)

func newServeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "run the prediction HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, opts)
		},
	}
}

func runServer(ctx context.Context, opts *options) error {
	cfg := opts.cfg
	defer logging.Sync()

	registry, err := opts.newRegistry(true)
	if err != nil {
		return err
	}
	defer registry.Close()

	service := opts.newService(registry)
	deps := qhttp.Deps{Service: service, Cache: registry}

	if cfg.History.Enabled {
		store, err := db.Open(cfg.History.Path)
		if err != nil {
			return err
		}
		defer store.Close()
		service.AddHook(store)
		deps.History = store
		logging.L().Info("prediction history enabled", zap.String("path", cfg.History.Path))
	}

	if cfg.Alerts.Enabled {
		hub := monitoring.NewAlertHub(cfg.Alerts.Buffer)
		go hub.Start()
		defer hub.Stop()
		service.AddHook(hub)
		deps.Alerts = hub
	}

	if cfg.Metrics.Enabled {
		service.AddHook(monitoring.Recorder{})
		deps.Metrics = monitoring.Handler()
	}

	server := qhttp.NewServer(qhttp.ServerConfig{
		Port:            cfg.Server.Port,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		MaxBodyBytes:    cfg.Server.MaxBodyBytes,
		AllowedOrigins:  cfg.Server.AllowedOrigins,
		MetricsPath:     cfg.Metrics.Path,
		Admin:           cfg.Server.Admin,
	}, deps)

	logging.L().Info("serving bundles",
		zap.String("dir", cfg.Artifacts.Dir),
		zap.String("maternal", cfg.Artifacts.Maternal),
		zap.String("pcos", cfg.Artifacts.PCOS),
		zap.Bool("cache", registry.CacheEnabled()),
	)

	logging.S().Infof("listening on %s", server.Addr())

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logging.L().Info("shutting down")
	if err := server.Stop(context.Background()); err != nil {
		logging.L().Error("server forced to shutdown", zap.Error(err))
		return err
	}
	logging.L().Info("exiting")
	return nil
}
