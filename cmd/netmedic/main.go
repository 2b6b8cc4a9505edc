package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/HerbHall/netmedic/internal/config"
	"github.com/HerbHall/netmedic/internal/diag"
	"github.com/HerbHall/netmedic/internal/dispatch"
	"github.com/HerbHall/netmedic/internal/event"
	"github.com/HerbHall/netmedic/internal/history"
	"github.com/HerbHall/netmedic/internal/inventory"
	"github.com/HerbHall/netmedic/internal/registry"
	"github.com/HerbHall/netmedic/internal/rules"
	"github.com/HerbHall/netmedic/internal/store"
	"github.com/HerbHall/netmedic/internal/version"
	"github.com/HerbHall/netmedic/pkg/models"
	"github.com/HerbHall/netmedic/pkg/plugin"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "version" {
		fmt.Println(version.Info())
		return
	}

	configPath := flag.String("config", "", "path to configuration file")
	showVersion := flag.Bool("version", false, "print version information and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Info())
		os.Exit(0)
	}

	// Load configuration before the logger, so log level and format can
	// be configured.
	viperCfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	cfg := config.New(viperCfg)

	logger, err := config.NewLogger(viperCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("netmedic starting", zap.String("version", version.Short()))

	if f := viperCfg.ConfigFileUsed(); f != "" {
		logger.Info("configuration loaded",
			zap.String("component", "config"),
			zap.String("source", f),
		)
	} else {
		logger.Warn("no configuration file found, using defaults",
			zap.String("component", "config"),
		)
	}

	// Open database.
	dbPath := viperCfg.GetString("database.path")
	if dbPath == "" {
		dbPath = "netmedic.db"
	}
	db, err := store.New(dbPath)
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}
	defer db.Close()

	logger.Info("database initialized",
		zap.String("component", "database"),
		zap.String("path", dbPath),
	)

	// Create shared services.
	bus := event.NewBus(logger.Named("event"))
	reg := registry.New(logger.Named("registry"))

	// Register all modules (compile-time composition). The inventory
	// module is created first so its registry and credential resolver can
	// be handed to the consumers.
	inv := inventory.New()
	modules := []plugin.Plugin{
		inv,
		diag.New(invDevices{inv}, inv, inv),
		rules.New(),
		dispatch.New(invLookup{inv}, inv, inv),
		history.New(),
	}
	for _, m := range modules {
		if err := reg.Register(m); err != nil {
			logger.Fatal("failed to register module", zap.Error(err))
		}
	}

	if err := reg.Validate(); err != nil {
		logger.Fatal("module validation failed", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := reg.InitAll(ctx, func(name string) plugin.Dependencies {
		return plugin.Dependencies{
			Config: cfg.Sub("modules." + name),
			Logger: logger.Named(name),
			Store:  db,
			Bus:    bus,
		}
	}); err != nil {
		logger.Fatal("failed to initialize modules", zap.Error(err))
	}

	if err := reg.StartAll(ctx); err != nil {
		logger.Fatal("failed to start modules", zap.Error(err))
	}

	// Optional metrics endpoint.
	var metricsSrv *http.Server
	if addr := viperCfg.GetString("metrics.addr"); addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{Addr: addr, Handler: mux}
		go func() {
			logger.Info("metrics listening", zap.String("addr", addr))
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server error", zap.Error(err))
			}
		}()
	}

	logger.Info("netmedic ready", zap.Int("devices", inv.Registry().Size()))

	// Wait for shutdown signal.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	logger.Info("received shutdown signal", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	reg.StopAll(shutdownCtx)
	bus.Close()

	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics shutdown error", zap.Error(err))
		}
	}

	logger.Info("netmedic stopped")
}

// invDevices adapts the inventory module to diag.DeviceSource. Lives in
// the composition root to avoid coupling diag -> inventory.
type invDevices struct {
	inv *inventory.Module
}

func (a invDevices) ActiveDevices() []models.Device {
	return a.inv.Registry().ActiveDevices()
}

func (a invDevices) Health(id string) (models.HealthSnapshot, bool) {
	_, h, ok := a.inv.Registry().Snapshot(id)
	return h, ok
}

func (a invDevices) UpdateHealth(id string, fn func(h *models.HealthSnapshot)) bool {
	return a.inv.Registry().UpdateHealth(id, fn)
}

// invLookup adapts the inventory module to dispatch.DeviceLookup.
type invLookup struct {
	inv *inventory.Module
}

func (a invLookup) Snapshot(id string) (models.Device, models.HealthSnapshot, bool) {
	return a.inv.Registry().Snapshot(id)
}
