package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/mosys-billing/tvfleet/internal/api"
	"github.com/mosys-billing/tvfleet/internal/device"
	"github.com/mosys-billing/tvfleet/internal/dispatch"
	"github.com/mosys-billing/tvfleet/internal/infrastructure/config"
	"github.com/mosys-billing/tvfleet/internal/infrastructure/logging"
	"github.com/mosys-billing/tvfleet/internal/infrastructure/mqtt"
	"github.com/mosys-billing/tvfleet/internal/monitor"
	"github.com/mosys-billing/tvfleet/internal/probe"
	"github.com/mosys-billing/tvfleet/internal/process"
	"github.com/mosys-billing/tvfleet/internal/scan"
	"github.com/mosys-billing/tvfleet/internal/store"
	"github.com/mosys-billing/tvfleet/internal/transport"
)

// Publisher is the MQTT surface a service uses. *mqtt.Client satisfies it.
type Publisher interface {
	PublishJSON(topic string, v any, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// Telemetry is the InfluxDB surface a service uses. *influxdb.Client
// satisfies it.
type Telemetry interface {
	WriteProbeLatency(backend, address string, latencyMS float64)
	WriteDeviceStatus(backend, address, status string)
	WriteCommandOutcome(backend, address, command, status string, durationMS float64)
}

// Options configures one backend service.
type Options struct {
	Kind    transport.Kind
	Config  config.ServiceConfig
	API     config.APIConfig
	WS      config.WebSocketConfig
	Backend store.Backend
	Logger  *logging.Logger
	Version string

	// Executor runs the transport tool. Nil uses a process.Runner.
	Executor transport.Executor

	// Prober checks display reachability. Nil uses a TCP prober over
	// Config.ProbePorts.
	Prober probe.Prober

	// Sweeper discovers hosts. Nil picks one from Config.ScanMethod.
	Sweeper scan.Sweeper

	// MQTT and Telemetry are optional sinks.
	MQTT      Publisher
	Telemetry Telemetry

	// Checks are extra dependencies reported by GET /health.
	Checks map[string]api.HealthChecker
}

// Service is one running backend.
type Service struct {
	kind   transport.Kind
	logger *logging.Logger

	registry   *device.Registry
	monitor    *monitor.Monitor
	dispatcher *dispatch.Dispatcher
	scanner    *scan.Scanner
	server     *api.Server

	events *eventSink
	mqtt   Publisher

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc

	// runMu guards runCtx so inbound commands can join wg safely while
	// Stop waits on it.
	runMu  sync.Mutex
	runCtx context.Context
	wg     sync.WaitGroup
}

// New assembles a service. Nothing runs until Start.
func New(opts Options) (*Service, error) {
	if opts.Logger == nil {
		return nil, fmt.Errorf("%w: logger is required", ErrInvalidOptions)
	}
	if opts.Backend == nil {
		return nil, fmt.Errorf("%w: store backend is required", ErrInvalidOptions)
	}

	kind := opts.Kind
	log := opts.Logger.With("backend", string(kind))
	cfg := opts.Config

	exec := opts.Executor
	if exec == nil {
		runner := process.NewRunner()
		runner.SetLogger(log)
		exec = runner
	}

	adapter, err := newAdapter(kind, cfg, exec)
	if err != nil {
		return nil, err
	}

	docs := store.NewDocuments(opts.Backend, string(kind))

	registry := device.NewRegistry(docs)
	registry.SetLogger(log)

	prober := opts.Prober
	if prober == nil {
		prober = probe.NewTCP(cfg.ProbePorts, cfg.ProbeTimeoutDuration())
	}

	mon := monitor.New(registry, prober, monitor.Config{Interval: cfg.MonitorIntervalDuration()})
	mon.SetLogger(log)
	if pq, ok := adapter.(transport.PowerQuerier); ok {
		mon.SetPowerQuerier(pq)
	}
	registry.SetWatcher(mon)

	disp := dispatch.New(registry, adapter, docs, dispatch.Config{BatchConcurrency: cfg.BatchConcurrency})
	disp.SetLogger(log)

	sweeper := opts.Sweeper
	if sweeper == nil {
		sweeper = newSweeper(cfg, log)
	}
	scanner := scan.New(sweeper, docs, scan.Config{DefaultSubnet: cfg.DefaultSubnet})
	scanner.SetLogger(log)

	s := &Service{
		kind:       kind,
		logger:     log,
		registry:   registry,
		monitor:    mon,
		dispatcher: disp,
		scanner:    scanner,
		mqtt:       opts.MQTT,
	}

	if opts.MQTT != nil || opts.Telemetry != nil {
		s.events = newEventSink(string(kind), opts.MQTT, opts.Telemetry, log)
		registry.OnChange(s.events.deviceEvent)
		disp.OnOutcome(s.events.outcome)
		scanner.OnComplete(s.events.scanCompleted)
	}
	if opts.Telemetry != nil {
		mon.SetRecorder(&healthRecorder{backend: string(kind), telemetry: opts.Telemetry})
	}

	s.server, err = api.New(api.Deps{
		Backend:    kind,
		Port:       cfg.Port,
		Config:     opts.API,
		WS:         opts.WS,
		Logger:     log,
		Registry:   registry,
		Dispatcher: disp,
		Scanner:    scanner,
		Settings:   docs,
		Version:    opts.Version,
		Checks:     opts.Checks,
	})
	if err != nil {
		return nil, fmt.Errorf("creating %s API server: %w", kind, err)
	}

	return s, nil
}

func newAdapter(kind transport.Kind, cfg config.ServiceConfig, exec transport.Executor) (transport.Adapter, error) {
	switch kind {
	case transport.KindADB:
		return transport.NewADB(transport.ADBConfig{
			Binary:      cfg.Binary,
			DevicePort:  cfg.DevicePort,
			Timeout:     cfg.CommandTimeoutDuration(),
			PushTimeout: cfg.PushTimeoutDuration(),
			MediaDir:    cfg.MediaDir,
			OverlayApp:  cfg.OverlayApp,
		}, exec), nil
	case transport.KindCEC:
		return transport.NewCEC(transport.CECConfig{
			Binary:  cfg.Binary,
			Header:  cfg.CECHeader,
			Timeout: cfg.CommandTimeoutDuration(),
		}, exec), nil
	}
	return nil, fmt.Errorf("%w: %q", transport.ErrUnknownKind, kind)
}

func newSweeper(cfg config.ServiceConfig, log *logging.Logger) scan.Sweeper {
	if cfg.ScanMethod == config.ScanMethodNmap {
		sw := scan.NewNmapSweeper(cfg.ProbePorts, "")
		sw.SetLogger(log)
		return sw
	}
	return scan.NewTCPSweeper(probe.NewTCP(cfg.ProbePorts, cfg.ScanProbeTimeoutDuration()), cfg.ScanConcurrency)
}

// Kind returns the service's transport kind.
func (s *Service) Kind() transport.Kind { return s.kind }

// Registry returns the service's device registry.
func (s *Service) Registry() *device.Registry { return s.registry }

// Dispatcher returns the service's command dispatcher.
func (s *Service) Dispatcher() *dispatch.Dispatcher { return s.dispatcher }

// Monitor returns the service's health monitor.
func (s *Service) Monitor() *monitor.Monitor { return s.monitor }

// Scanner returns the service's network scanner.
func (s *Service) Scanner() *scan.Scanner { return s.scanner }

// Server returns the service's HTTP server.
func (s *Service) Server() *api.Server { return s.server }

// Start loads persisted devices, which starts their monitors, then starts
// the event sinks and the HTTP listener.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrStopped
	}
	if s.started {
		return nil
	}

	if err := s.registry.Load(ctx); err != nil {
		return fmt.Errorf("loading %s devices: %w", s.kind, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.runMu.Lock()
	s.runCtx = runCtx
	s.runMu.Unlock()

	if s.events != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.events.run(runCtx)
		}()
	}

	if s.mqtt != nil {
		topic := mqtt.Topics{}.AllCommands(string(s.kind))
		if err := s.mqtt.Subscribe(topic, 1, s.handleCommandMessage); err != nil {
			s.logger.Warn("MQTT command subscription failed", "topic", topic, "error", err)
		}
	}

	if err := s.server.Start(runCtx); err != nil {
		s.stopped = true
		s.shutdown()
		return fmt.Errorf("starting %s API: %w", s.kind, err)
	}

	s.started = true
	s.logger.Info("service started", "devices", s.registry.Count())
	return nil
}

// Stop closes the listener, stops every monitor and pending timer, and
// drains the event sinks. A stopped service cannot be restarted.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	s.started = false
	s.stopped = true

	if err := s.server.Close(); err != nil {
		s.logger.Error("error closing API server", "error", err)
	}

	s.shutdown()
	s.logger.Info("service stopped")
}

func (s *Service) shutdown() {
	if s.mqtt != nil {
		topic := mqtt.Topics{}.AllCommands(string(s.kind))
		if err := s.mqtt.Unsubscribe(topic); err != nil {
			s.logger.Debug("MQTT unsubscribe failed", "topic", topic, "error", err)
		}
	}

	s.runMu.Lock()
	s.runCtx = nil
	s.runMu.Unlock()

	s.scanner.Close()
	s.dispatcher.Close()
	s.monitor.Stop()

	s.cancel()
	s.wg.Wait()
}
