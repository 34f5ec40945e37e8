package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/nubster/egide/cmd/flags"
	"github.com/nubster/egide/common"
	"github.com/nubster/egide/httpserver"
	"github.com/nubster/egide/interfaces"
	"github.com/nubster/egide/kms"
	"github.com/nubster/egide/seal"
	"github.com/nubster/egide/storage"
	"github.com/nubster/egide/transit"
	"github.com/urfave/cli/v2"
)

var serverFlags = append([]cli.Flag{
	flags.ListenAddrFlag,
	flags.StorageFlag,
	flags.StorageMirrorFlag,
	flags.TenantFlag,
	flags.DevFlag,
	flags.DevRootTokenFlag,
}, flags.CommonFlags...)

func main() {
	app := &cli.App{
		Name:    "egide-server",
		Usage:   "Serve the egide key management and envelope encryption API",
		Version: common.Version,
		Flags:   serverFlags,
		Action:  runServer,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func runServer(cCtx *cli.Context) error {
	cfg, err := flags.LoadConfig(cCtx)
	if err != nil {
		return err
	}
	logger := flags.SetupLogger(cfg.Log)

	ctx, stop := signal.NotifyContext(cCtx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := common.SetupTracing(ctx, &common.TracingOpts{
		Enabled:      cfg.Telemetry.Enabled,
		Endpoint:     cfg.Telemetry.Endpoint,
		Insecure:     cfg.Telemetry.Insecure,
		SamplingRate: cfg.Telemetry.SamplingRate,
		Service:      cfg.Log.Service,
		Version:      common.Version,
	})
	if err != nil {
		logger.Error("Failed to set up tracing", "err", err)
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Error("Failed to flush traces", "err", err)
		}
	}()

	// Storage
	logger.Info("Opening storage", "primary", cfg.Storage.URI, "mirrors", len(cfg.Storage.Mirrors))
	backend, err := storage.NewStorageBackendFactory(logger).CreateMirrorBackend(cfg.Storage.URIs())
	if err != nil {
		logger.Error("Failed to create storage backend", "err", err)
		return err
	}
	if cfg.Tenant != "" {
		tenantBackend, err := storage.NewTenantBackend(backend, cfg.Tenant)
		if err != nil {
			logger.Error("Failed to create tenant storage", "err", err)
			return err
		}
		backend = tenantBackend
		logger = logger.With("tenant", cfg.Tenant)
	}
	if !backend.Available(ctx) {
		logger.Warn("Storage backend is not reachable yet", "backend", backend.Name())
	}

	// Seal
	sealManager, err := seal.NewManager(ctx, backend, logger)
	if err != nil {
		logger.Error("Failed to load seal state", "err", err)
		return err
	}
	if cfg.DevMode {
		res, err := sealManager.InitializeDev(ctx, cfg.DevRootToken)
		switch {
		case errors.Is(err, interfaces.ErrAlreadyInitialized):
			logger.Info("Storage already initialized, dev root token unchanged")
		case err != nil:
			logger.Error("Failed to initialize dev mode", "err", err)
			return err
		case cfg.DevRootToken == "":
			fmt.Fprintf(os.Stderr, "Dev mode root token: %s\n", res.RootToken)
		}
	}

	status := sealManager.Status()
	logger.Info("Seal state", "initialized", status.Initialized, "sealed", status.Sealed)

	store := kms.NewStore(sealManager, backend, logger)
	server, err := httpserver.New(flags.ConfigureServer(cfg, logger), sealManager, store,
		transit.WithEventSink(transit.AuditLogSink(logger)),
	)
	if err != nil {
		logger.Error("Failed to create server", "err", err)
		return err
	}

	server.RunInBackground()
	logger.Info("Server is running, press Ctrl+C to stop")

	<-ctx.Done()
	logger.Info("Shutdown signal received")

	server.Shutdown()
	logger.Info("Server shutdown complete")
	return nil
}
