// TV fleet control core.
//
// Runs one isolated backend service per enabled transport (ADB on 1616,
// CEC on 1618 by default). Each service supervises its registered
// displays, dispatches commands and sweeps the LAN for new ones.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mosys-billing/tvfleet/internal/api"
	"github.com/mosys-billing/tvfleet/internal/infrastructure/config"
	"github.com/mosys-billing/tvfleet/internal/infrastructure/database"
	"github.com/mosys-billing/tvfleet/internal/infrastructure/influxdb"
	"github.com/mosys-billing/tvfleet/internal/infrastructure/logging"
	"github.com/mosys-billing/tvfleet/internal/infrastructure/mqtt"
	"github.com/mosys-billing/tvfleet/internal/service"
	"github.com/mosys-billing/tvfleet/internal/store"
	"github.com/mosys-billing/tvfleet/internal/transport"
	"github.com/mosys-billing/tvfleet/migrations"
)

// Build metadata, stamped with -ldflags "-X main.version=...".
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "tvfleet:", err)
		os.Exit(1)
	}
}

// run starts every enabled backend service and blocks until ctx ends.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("tvfleet starting", "version", version, "commit", commit, "build_date", date)

	path := config.PathFromEnv()
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded", "path", path, "storage", cfg.Storage.Driver)

	checks := make(map[string]api.HealthChecker)

	backend, closeStore, err := openStore(ctx, cfg.Storage, log, checks)
	if err != nil {
		return err
	}
	defer closeStore()

	sinks := connectSinks(cfg, log, checks)
	defer sinks.close()

	services, err := startServices(ctx, cfg, backend, sinks.publisher, sinks.telemetry, checks, log)
	if err != nil {
		return err
	}
	defer func() {
		for i := len(services) - 1; i >= 0; i-- {
			services[i].Stop()
		}
	}()

	log.Info("tvfleet running", "services", len(services))
	<-ctx.Done()
	log.Info("stopping")
	return nil
}

// sinks are the optional event outlets. A sink that cannot connect is
// left nil and the fleet runs without it.
type sinks struct {
	publisher service.Publisher
	telemetry service.Telemetry
	closers   []func()
}

func (s *sinks) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func connectSinks(cfg *config.Config, log *logging.Logger, checks map[string]api.HealthChecker) *sinks {
	out := &sinks{}

	if cfg.MQTT.Enabled {
		client, err := mqtt.Connect(cfg.MQTT)
		if err != nil {
			log.Warn("MQTT unavailable, continuing without it", "error", err)
		} else {
			client.SetLogger(log.With("component", "mqtt"))
			client.SetOnDisconnect(func(err error) { log.Warn("MQTT link lost", "error", err) })
			out.publisher = client
			checks["mqtt"] = client
			out.closers = append(out.closers, func() {
				if err := client.Close(); err != nil {
					log.Error("closing MQTT failed", "error", err)
				}
			})
			log.Info("MQTT connected", "host", cfg.MQTT.Broker.Host, "port", cfg.MQTT.Broker.Port,
				"client_id", cfg.MQTT.Broker.ClientID)
		}
	}

	if cfg.InfluxDB.Enabled {
		client, err := influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			log.Warn("InfluxDB unavailable, continuing without it", "error", err)
		} else {
			client.SetOnError(func(err error) { log.Error("InfluxDB write failed", "error", err) })
			out.telemetry = client
			checks["influxdb"] = client
			out.closers = append(out.closers, func() {
				if err := client.Close(); err != nil {
					log.Error("closing InfluxDB failed", "error", err)
				}
			})
			log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
		}
	}

	return out
}

// openStore opens the configured document backend. The returned close
// function is always safe to call.
func openStore(ctx context.Context, cfg config.StorageConfig, log *logging.Logger, checks map[string]api.HealthChecker) (store.Backend, func(), error) {
	switch cfg.Driver {
	case config.StorageDriverSQLite:
		db, err := database.Open(ctx, database.Config{
			Path:        cfg.SQLite.Path,
			WALMode:     cfg.SQLite.WALMode,
			BusyTimeout: cfg.SQLite.BusyTimeout,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("opening database: %w", err)
		}
		closeDB := func() {
			if err := db.Close(); err != nil {
				log.Error("closing database failed", "error", err)
			}
		}

		applied, err := db.Migrate(ctx, migrations.FS)
		if err != nil {
			closeDB()
			return nil, nil, fmt.Errorf("running migrations: %w", err)
		}
		log.Info("database ready", "path", db.Path(), "migrations_applied", applied)

		checks["database"] = db
		return store.NewSQLiteBackend(db), closeDB, nil

	case config.StorageDriverJSON:
		b, err := store.NewFileBackend(cfg.Dir)
		if err != nil {
			return nil, nil, fmt.Errorf("opening store: %w", err)
		}
		log.Info("file store ready", "dir", b.Dir())
		return b, func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
}

// startServices starts every enabled backend. On failure the services
// already started are stopped.
func startServices(
	ctx context.Context,
	cfg *config.Config,
	backend store.Backend,
	publisher service.Publisher,
	telemetry service.Telemetry,
	checks map[string]api.HealthChecker,
	log *logging.Logger,
) ([]*service.Service, error) {
	enabled := []struct {
		kind transport.Kind
		cfg  config.ServiceConfig
	}{
		{transport.KindADB, cfg.Services.ADB},
		{transport.KindCEC, cfg.Services.CEC},
	}

	var started []*service.Service
	stopAll := func() {
		for i := len(started) - 1; i >= 0; i-- {
			started[i].Stop()
		}
	}

	for _, e := range enabled {
		if !e.cfg.Enabled {
			log.Info("service disabled", "backend", e.kind)
			continue
		}

		svc, err := service.New(service.Options{
			Kind:      e.kind,
			Config:    e.cfg,
			API:       cfg.API,
			WS:        cfg.WebSocket,
			Backend:   backend,
			Logger:    log,
			Version:   version,
			MQTT:      publisher,
			Telemetry: telemetry,
			Checks:    checks,
		})
		if err != nil {
			stopAll()
			return nil, fmt.Errorf("creating %s service: %w", e.kind, err)
		}
		if err := svc.Start(ctx); err != nil {
			stopAll()
			return nil, fmt.Errorf("starting %s service: %w", e.kind, err)
		}
		started = append(started, svc)
	}

	if len(started) == 0 {
		return nil, errors.New("no services enabled")
	}
	return started, nil
}
