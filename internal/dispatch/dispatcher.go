// Package dispatch sends commands to registered displays, immediately, in
// batches, or after a delay, and drives the media and overlay features of
// backends that support them.
package dispatch

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mosys-billing/tvfleet/internal/device"
	"github.com/mosys-billing/tvfleet/internal/transport"
)

const defaultBatchConcurrency = 16

// Registry answers whether an address is registered. *device.Registry
// satisfies it.
type Registry interface {
	Exists(address string) bool
}

// OverlayTextSource supplies the saved overlay text. *store.Documents
// satisfies it.
type OverlayTextSource interface {
	OverlayText(ctx context.Context) (string, error)
}

// Logger defines the logging interface for the dispatcher.
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

// Trigger says what caused a send.
type Trigger string

// Send triggers.
const (
	TriggerImmediate Trigger = "immediate"
	TriggerBatch     Trigger = "batch"
	TriggerTimer     Trigger = "timer"
	TriggerMedia     Trigger = "media"
	TriggerOverlay   Trigger = "overlay"
)

// OutcomeEvent is delivered to OnOutcome callbacks after every send that
// reached the transport.
type OutcomeEvent struct {
	Address string            `json:"address"`
	Command string            `json:"command"`
	Trigger Trigger           `json:"trigger"`
	Outcome transport.Outcome `json:"outcome"`
	At      time.Time         `json:"at"`
}

// BatchResult is the per-address result of SendBatch. Err is set when the
// address was unknown or the command invalid; otherwise Outcome holds the
// transport result.
type BatchResult struct {
	Outcome transport.Outcome
	Err     error
}

// Config holds dispatcher settings.
type Config struct {
	// BatchConcurrency caps parallel sends in one batch.
	BatchConcurrency int

	// TempDir is where uploads are spooled. Empty uses os.TempDir.
	TempDir string
}

// Dispatcher routes commands to one backend's adapter.
//
// It never retries; each call invokes the external tool at most once per
// address. All methods are thread-safe.
type Dispatcher struct {
	registry Registry
	adapter  transport.Adapter
	texts    OverlayTextSource
	cfg      Config
	logger   Logger

	listenersMu sync.RWMutex
	listeners   []func(OutcomeEvent)

	timersMu sync.Mutex
	timers   map[string]*Timer
	closed   bool

	// baseCtx bounds sends started by timers; Close cancels it.
	baseCtx    context.Context
	cancelBase context.CancelFunc

	now func() time.Time
}

// New creates a Dispatcher for adapter.
func New(registry Registry, adapter transport.Adapter, texts OverlayTextSource, cfg Config) *Dispatcher {
	if cfg.BatchConcurrency <= 0 {
		cfg.BatchConcurrency = defaultBatchConcurrency
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		registry:   registry,
		adapter:    adapter,
		texts:      texts,
		cfg:        cfg,
		logger:     noopLogger{},
		timers:     make(map[string]*Timer),
		baseCtx:    ctx,
		cancelBase: cancel,
		now:        time.Now,
	}
}

// SetLogger sets the logger for the dispatcher.
func (d *Dispatcher) SetLogger(logger Logger) {
	d.logger = logger
}

// OnOutcome registers fn to be called synchronously after every send.
// Callbacks must not block.
func (d *Dispatcher) OnOutcome(fn func(OutcomeEvent)) {
	d.listenersMu.Lock()
	defer d.listenersMu.Unlock()
	d.listeners = append(d.listeners, fn)
}

// Adapter returns the backend adapter.
func (d *Dispatcher) Adapter() transport.Adapter {
	return d.adapter
}

func (d *Dispatcher) notify(address, command string, trigger Trigger, out transport.Outcome) {
	ev := OutcomeEvent{Address: address, Command: command, Trigger: trigger, Outcome: out, At: d.now()}

	d.listenersMu.RLock()
	listeners := d.listeners
	d.listenersMu.RUnlock()

	for _, fn := range listeners {
		fn(ev)
	}
}

// resolve checks the address is registered and the command is known.
func (d *Dispatcher) resolve(address, command string) (transport.Opcode, error) {
	if !d.registry.Exists(address) {
		return "", fmt.Errorf("%w: %s", device.ErrDeviceNotFound, address)
	}
	return d.adapter.Resolve(command)
}

// SendImmediate sends command to address once.
//
// Returns device.ErrDeviceNotFound or transport.ErrInvalidCommand before
// anything is sent. Otherwise the error is nil and the Outcome says how the
// send went.
func (d *Dispatcher) SendImmediate(ctx context.Context, address, command string) (transport.Outcome, error) {
	return d.send(ctx, address, command, TriggerImmediate)
}

func (d *Dispatcher) send(ctx context.Context, address, command string, trigger Trigger) (transport.Outcome, error) {
	address = device.NormalizeAddress(address)

	op, err := d.resolve(address, command)
	if err != nil {
		return transport.Outcome{}, err
	}

	out := d.adapter.Send(ctx, address, op)
	if !out.OK() {
		d.logger.Warn("command failed",
			"address", address, "command", command, "trigger", trigger,
			"status", out.Status, "detail", out.Detail)
	} else {
		d.logger.Debug("command sent", "address", address, "command", command, "trigger", trigger)
	}

	d.notify(address, command, trigger, out)
	return out, nil
}

// SendBatch sends command to every requested address, at most
// BatchConcurrency at a time, and returns one result per distinct string
// in addresses, keyed exactly as given. Entries that normalize to the same
// address share a single send. A blank or malformed entry gets a result
// whose Err wraps device.ErrInvalidAddress. Returns ErrNoAddresses for an
// empty list.
func (d *Dispatcher) SendBatch(ctx context.Context, addresses []string, command string) (map[string]BatchResult, error) {
	if len(addresses) == 0 {
		return nil, ErrNoAddresses
	}

	results := make(map[string]BatchResult, len(addresses))
	// targets maps each normalized address to the request keys naming it.
	targets := make(map[string][]string, len(addresses))
	var order []string
	for _, raw := range addresses {
		if _, dup := results[raw]; dup {
			continue
		}
		a := device.NormalizeAddress(raw)
		if err := device.ValidateAddress(a); err != nil {
			results[raw] = BatchResult{Err: err}
			continue
		}
		results[raw] = BatchResult{}
		if _, ok := targets[a]; !ok {
			order = append(order, a)
		}
		targets[a] = append(targets[a], raw)
	}

	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(d.cfg.BatchConcurrency)
	for _, address := range order {
		g.Go(func() error {
			out, err := d.send(ctx, address, command, TriggerBatch)
			mu.Lock()
			for _, key := range targets[address] {
				results[key] = BatchResult{Outcome: out, Err: err}
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait() // Per-address failures are in results.

	return results, nil
}

// StreamMedia copies the payload read from r onto the display and opens it.
//
// The payload is spooled to a temporary file first. A failed read of r or
// a failed copy to the display returns ErrTransferFailed; a failed open after a good copy returns
// ErrPlaybackFailed. Backends without media support return
// transport.ErrUnsupported.
func (d *Dispatcher) StreamMedia(ctx context.Context, address, filename string, r io.Reader) (transport.Outcome, error) {
	stager, ok := d.adapter.(transport.MediaStager)
	if !ok {
		return transport.Outcome{}, fmt.Errorf("%w: %s has no media support", transport.ErrUnsupported, d.adapter.Kind())
	}

	name, err := sanitizeFilename(filename)
	if err != nil {
		return transport.Outcome{}, err
	}

	address = device.NormalizeAddress(address)
	if !d.registry.Exists(address) {
		return transport.Outcome{}, fmt.Errorf("%w: %s", device.ErrDeviceNotFound, address)
	}

	local, err := d.spool(name, r)
	if err != nil {
		return transport.Outcome{}, err
	}
	defer func() {
		if rmErr := os.Remove(local); rmErr != nil {
			d.logger.Warn("removing spooled media failed", "path", local, "error", rmErr)
		}
	}()

	remote := stager.MediaPath(name)
	push := stager.PushFile(ctx, address, local, remote)
	if !push.OK() {
		d.notify(address, "media_push", TriggerMedia, push)
		return push, fmt.Errorf("%w: %s: %s", ErrTransferFailed, push.Status, push.Detail)
	}

	play := stager.PlayMedia(ctx, address, remote)
	d.notify(address, "media_play", TriggerMedia, play)
	if !play.OK() {
		return play, fmt.Errorf("%w: %s: %s", ErrPlaybackFailed, play.Status, play.Detail)
	}

	d.logger.Info("media started", "address", address, "file", name)
	return play, nil
}

func (d *Dispatcher) spool(name string, r io.Reader) (string, error) {
	f, err := os.CreateTemp(d.cfg.TempDir, "tvfleet-media-*-"+name)
	if err != nil {
		return "", fmt.Errorf("creating spool file: %w", err)
	}

	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("%w: spooling upload: %w", ErrTransferFailed, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("closing spool file: %w", err)
	}
	return f.Name(), nil
}

// sanitizeFilename reduces an uploaded name to a plain base name.
func sanitizeFilename(filename string) (string, error) {
	name := filepath.Base(strings.ReplaceAll(strings.TrimSpace(filename), `\`, "/"))
	if name == "" || name == "." || name == "/" || name == ".." || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("%w: %q", ErrInvalidFilename, filename)
	}
	if strings.ContainsAny(name, "'\"\x00\n\r") {
		return "", fmt.Errorf("%w: %q", ErrInvalidFilename, filename)
	}
	return name, nil
}

// ShowOverlay launches the countdown overlay on address for seconds. Blank
// text falls back to the saved overlay text. Backends without overlay
// support return transport.ErrUnsupported.
func (d *Dispatcher) ShowOverlay(ctx context.Context, address string, seconds int, text string) (transport.Outcome, error) {
	presenter, ok := d.adapter.(transport.OverlayPresenter)
	if !ok {
		return transport.Outcome{}, fmt.Errorf("%w: %s has no overlay support", transport.ErrUnsupported, d.adapter.Kind())
	}
	if seconds <= 0 {
		return transport.Outcome{}, fmt.Errorf("%w: %d", ErrInvalidSeconds, seconds)
	}

	address = device.NormalizeAddress(address)
	if !d.registry.Exists(address) {
		return transport.Outcome{}, fmt.Errorf("%w: %s", device.ErrDeviceNotFound, address)
	}

	if strings.TrimSpace(text) == "" && d.texts != nil {
		saved, err := d.texts.OverlayText(ctx)
		if err != nil {
			return transport.Outcome{}, fmt.Errorf("loading overlay text: %w", err)
		}
		text = saved
	}

	out := presenter.ShowOverlay(ctx, address, seconds, text)
	d.notify(address, "overlay", TriggerOverlay, out)
	if !out.OK() {
		d.logger.Warn("overlay failed", "address", address, "status", out.Status, "detail", out.Detail)
	}
	return out, nil
}
