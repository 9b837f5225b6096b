package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"gosh-fetch/internal/adapter"
	"gosh-fetch/internal/downloader"
	apphttp "gosh-fetch/internal/http"
	"gosh-fetch/internal/metrics"
	"gosh-fetch/internal/repository/sqlite"
	"gosh-fetch/internal/service"
	"gosh-fetch/internal/storage"
	"gosh-fetch/internal/trackers"
	"gosh-fetch/internal/uistate"
)

var consoleFlag bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the download engine and HTTP API",
	RunE:  runServe,
}

func init() {
	// serve is also the default command
	for _, c := range []*cobra.Command{rootCmd, serveCmd} {
		c.Flags().BoolVar(&consoleFlag, "console", false, "Render a live download table on the terminal")
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := sqlite.OpenStore(ctx, cfg.Database.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	settings := service.NewSettingsService(store.Settings, store.Trackers, logger)
	engineCfg := settings.EngineConfig(ctx)

	fs := afero.NewOsFs()
	eng, err := downloader.New(engineCfg, downloader.Options{
		Fs:             fs,
		Logger:         logger,
		StatusInterval: cfg.Engine.StatusInterval,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := eng.Close(); err != nil {
			logger.Warnf("engine close: %v", err)
		}
	}()

	adp := adapter.New(eng, adapter.NewResolver(cfg.Resolver.Timeout), fs, logger)
	bridge := service.NewBridge(adp, store.Downloads, service.BridgeConfig{
		CommandBuffer: cfg.Bridge.CommandBuffer,
		EventBuffer:   cfg.Bridge.EventBuffer,
		Logger:        logger,
	})
	hub := service.NewHub(cfg.Bridge.EventBuffer, logger)

	// the bridge outlives the signal context so Shutdown can drain it
	bridgeCtx, cancelBridge := context.WithCancel(context.Background())
	defer cancelBridge()
	bridgeDone := make(chan error, 1)
	go func() { bridgeDone <- bridge.Run(bridgeCtx) }()
	go hub.Run(bridge.Events())

	// restored HTTP sources are probed here, off the bridge loop
	go service.NewRestorer(store.Downloads, cfg.History.Limit, logger).WithResolver(adp).Restore(ctx, bridge)

	updater := trackers.NewUpdater(trackers.Config{
		URL:           cfg.Trackers.URL,
		CheckInterval: cfg.Trackers.RefreshInterval,
		Logger:        logger,
		OnUpdate: func(ctx context.Context, _ []string) {
			next := settings.EngineConfig(ctx)
			if err := bridge.Submit(ctx, service.Command{Type: service.CmdUpdateConfig, Config: next}); err != nil {
				logger.Warnf("apply refreshed trackers: %v", err)
			}
		},
	}, store.Trackers)
	go updater.Run(ctx)

	archive, archiver, err := buildArchive(ctx, hub)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.Register(reg)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	apphttp.NewHandler(apphttp.Config{
		Bridge:      bridge,
		Adapter:     adp,
		Hub:         hub,
		History:     service.NewHistoryService(store.Downloads),
		Settings:    settings,
		Trackers:    updater,
		Archive:     archive,
		Archiver:    archiver,
		Gatherer:    reg,
		TokenSecret: cfg.API.TokenSecret,
		Logger:      logger,
	}).RegisterRoutes(router)

	if consoleFlag {
		view := uistate.New()
		events, unsubscribe := hub.Subscribe()
		defer unsubscribe()
		go view.Run(events)
		go runConsole(ctx, bridge, view, time.Second)
	}

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: router,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Infof("listening on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serveErr:
		logger.Errorf("http server: %v", runErr)
	case err := <-bridgeDone:
		logger.Errorf("bridge stopped: %v", err)
		return err
	}
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("http shutdown: %v", err)
	}
	if err := bridge.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("bridge shutdown: %v", err)
	}

	logger.Info("bye")
	return runErr
}

// buildArchive wires S3 archiving when a bucket is configured.
func buildArchive(ctx context.Context, hub *service.Hub) (storage.Service, *storage.Archiver, error) {
	if cfg.Storage.Bucket == "" {
		return nil, nil, nil
	}
	svc, err := storage.NewS3ServiceFromConfig(ctx, storage.S3Config{
		Bucket:   cfg.Storage.Bucket,
		Region:   cfg.Storage.Region,
		Endpoint: cfg.Storage.Endpoint,
		Profile:  cfg.AWS.Profile,
	})
	if err != nil {
		return nil, nil, err
	}
	logger.Infof("archiving completed downloads to s3 bucket %s (region %s)", cfg.Storage.Bucket, cfg.Storage.Region)

	archiver := storage.NewArchiver(svc, storage.ArchiverConfig{
		KeyPrefix: cfg.Storage.KeyPrefix,
		Logger:    logger,
	})
	events, unsubscribe := hub.Subscribe()
	go func() {
		defer unsubscribe()
		archiver.Run(ctx, events)
	}()
	return svc, archiver, nil
}
