package monitor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mosys-billing/tvfleet/internal/device"
	"github.com/mosys-billing/tvfleet/internal/probe"
	"github.com/mosys-billing/tvfleet/internal/transport"
)

const (
	defaultInterval = 5 * time.Second

	// powerUnknown is recorded when the power state can't be determined.
	powerUnknown = "unknown"
)

// Registry receives cycle results. *device.Registry satisfies it.
type Registry interface {
	ApplyHealth(ctx context.Context, address string, h device.Health) error
}

// Recorder receives every applied cycle result, e.g. for telemetry.
// Implementations must not block.
type Recorder interface {
	RecordHealth(address string, h device.Health)
}

// Logger defines the logging interface for the monitor.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Config holds monitor timing.
type Config struct {
	// Interval is the delay between cycles for one address.
	Interval time.Duration

	// CycleTimeout bounds one probe plus power query. Zero means Interval.
	CycleTimeout time.Duration
}

type task struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Monitor runs one polling goroutine per watched address.
//
// Tasks live in a supervision map keyed by address. Watch replaces any
// existing task, so at most one runs per address. Unwatch cancels the
// task's context and returns without waiting; the registry refuses writes
// from a cancelled context, so a retired task can't overwrite state even
// if it is mid-cycle.
//
// All public methods are thread-safe.
type Monitor struct {
	registry Registry
	prober   probe.Prober
	power    transport.PowerQuerier
	recorder Recorder
	cfg      Config
	logger   Logger

	mu      sync.Mutex
	tasks   map[string]*task
	stopped bool
	wg      sync.WaitGroup
}

// New creates a Monitor. Call SetPowerQuerier and SetRecorder before the
// first Watch if needed.
func New(registry Registry, prober probe.Prober, cfg Config) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.CycleTimeout <= 0 {
		cfg.CycleTimeout = cfg.Interval
	}
	return &Monitor{
		registry: registry,
		prober:   prober,
		cfg:      cfg,
		logger:   noopLogger{},
		tasks:    make(map[string]*task),
	}
}

// SetLogger sets the logger for the monitor.
func (m *Monitor) SetLogger(logger Logger) {
	m.logger = logger
}

// SetPowerQuerier enables power-state lookups on reachable displays.
func (m *Monitor) SetPowerQuerier(pq transport.PowerQuerier) {
	m.power = pq
}

// SetRecorder sets the sink for applied cycle results.
func (m *Monitor) SetRecorder(r Recorder) {
	m.recorder = r
}

// Watch starts supervising address. An existing task for the address is
// cancelled first. Watch is a no-op after Stop.
func (m *Monitor) Watch(address string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return
	}
	if old, ok := m.tasks[address]; ok {
		old.cancel()
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &task{cancel: cancel, done: make(chan struct{})}
	m.tasks[address] = t

	m.wg.Add(1)
	go m.run(ctx, address, t)

	m.logger.Debug("monitor task started", "address", address)
}

// Unwatch cancels the task for address without waiting for it to exit.
func (m *Monitor) Unwatch(address string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if t, ok := m.tasks[address]; ok {
		t.cancel()
		delete(m.tasks, address)
		m.logger.Debug("monitor task retired", "address", address)
	}
}

// Active returns the supervised addresses, sorted.
func (m *Monitor) Active() []string {
	m.mu.Lock()
	out := make([]string, 0, len(m.tasks))
	for address := range m.tasks {
		out = append(out, address)
	}
	m.mu.Unlock()

	sort.Strings(out)
	return out
}

// Stop cancels every task and waits for all of them to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	m.stopped = true
	for address, t := range m.tasks {
		t.cancel()
		delete(m.tasks, address)
	}
	m.mu.Unlock()

	m.wg.Wait()
}

func (m *Monitor) run(ctx context.Context, address string, t *task) {
	defer m.wg.Done()
	defer close(t.done)

	m.cycle(ctx, address)

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.cycle(ctx, address)
		}
	}
}

// cycle probes once and applies the result. Failures never end the task.
func (m *Monitor) cycle(ctx context.Context, address string) {
	h, ok := m.check(ctx, address)
	if !ok {
		return
	}

	err := m.registry.ApplyHealth(ctx, address, h)
	switch {
	case errors.Is(err, device.ErrStaleUpdate):
		return
	case err != nil:
		m.logger.Error("applying health failed", "address", address, "error", err)
		return
	}

	m.record(address, h)
}

// record hands h to the recorder. A panicking recorder is logged and the
// task keeps polling.
func (m *Monitor) record(address string, h device.Health) {
	if m.recorder == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("health recorder panicked", "address", address, "panic", fmt.Sprint(r))
		}
	}()
	m.recorder.RecordHealth(address, h)
}

// check runs the probe and optional power query. ok is false when the task
// was cancelled mid-cycle and nothing should be applied.
func (m *Monitor) check(ctx context.Context, address string) (h device.Health, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("monitor cycle panicked", "address", address, "panic", fmt.Sprint(r))
			h, ok = device.Health{Status: device.StatusError}, ctx.Err() == nil
		}
	}()

	cycleCtx, cancel := context.WithTimeout(ctx, m.cfg.CycleTimeout)
	defer cancel()

	res, err := m.prober.Probe(cycleCtx, address)
	if ctx.Err() != nil {
		return device.Health{}, false
	}
	if err != nil {
		m.logger.Warn("probe failed", "address", address, "error", err)
		return device.Health{Status: device.StatusError}, true
	}

	if !res.Reachable {
		h = device.Health{Status: device.StatusOffline}
		if m.power != nil {
			h.Extra = map[string]string{device.ExtraPowerStatus: powerUnknown}
		}
		return h, true
	}

	h = device.Health{Status: device.StatusOnline, ResponseTime: res.Elapsed}
	if m.power != nil {
		state, err := m.power.PowerStatus(cycleCtx, address)
		if ctx.Err() != nil {
			return device.Health{}, false
		}
		if err != nil {
			m.logger.Debug("power query failed", "address", address, "error", err)
			state = powerUnknown
		}
		h.Extra = map[string]string{device.ExtraPowerStatus: state}
	}
	return h, true
}
