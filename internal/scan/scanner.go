// Package scan sweeps a /24 range for displays that answer on a backend's
// ports and keeps the most recent result.
package scan

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mosys-billing/tvfleet/internal/store"
)

// MaxSpan is the largest accepted End-Start.
const MaxSpan = 254

const (
	defaultSubnet  = "192.168.1"
	defaultTimeout = 5 * time.Minute
)

// Range is a host range within a /24: Subnet is the first three octets.
type Range struct {
	Subnet string `json:"subnet"`
	Start  int    `json:"range_start"`
	End    int    `json:"range_end"`
}

// Hosts returns the IPv4 addresses covered by r.
func (r Range) Hosts() []string {
	out := make([]string, 0, r.End-r.Start+1)
	for i := r.Start; i <= r.End; i++ {
		out = append(out, r.Subnet+"."+strconv.Itoa(i))
	}
	return out
}

// Device is one responsive host found by a sweep.
type Device struct {
	Address string `json:"address"`
	Name    string `json:"name"`
}

// Snapshot is the persisted result of the latest sweep.
type Snapshot struct {
	Timestamp  time.Time `json:"timestamp"`
	Subnet     string    `json:"subnet"`
	RangeStart int       `json:"range_start"`
	RangeEnd   int       `json:"range_end"`
	Method     string    `json:"method"`
	Devices    []Device  `json:"devices"`
}

// Sweeper finds responsive hosts among candidates.
type Sweeper interface {
	Method() string
	Sweep(ctx context.Context, hosts []string) ([]Device, error)
}

// Store persists the snapshot. *store.Documents satisfies it.
type Store interface {
	Load(ctx context.Context, name string, v any) error
	Save(ctx context.Context, name string, v any) error
}

// Logger defines the logging interface for the scanner.
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

// Config holds scanner settings.
type Config struct {
	// DefaultSubnet is used when a Range has no subnet.
	DefaultSubnet string

	// Timeout bounds one sweep.
	Timeout time.Duration
}

// Scanner runs at most one background sweep at a time.
type Scanner struct {
	sweeper Sweeper
	store   Store
	cfg     Config
	logger  Logger

	mu        sync.Mutex
	running   bool
	closed    bool
	cancelRun context.CancelFunc
	wg        sync.WaitGroup

	onComplete []func(*Snapshot)
	now        func() time.Time
}

// New creates a Scanner.
func New(sweeper Sweeper, st Store, cfg Config) *Scanner {
	if cfg.DefaultSubnet == "" {
		cfg.DefaultSubnet = defaultSubnet
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Scanner{
		sweeper: sweeper,
		store:   st,
		cfg:     cfg,
		logger:  noopLogger{},
		now:     time.Now,
	}
}

// SetLogger sets the logger for the scanner.
func (s *Scanner) SetLogger(logger Logger) {
	s.logger = logger
}

// OnComplete registers a callback run after each successful sweep.
func (s *Scanner) OnComplete(fn func(*Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onComplete = append(s.onComplete, fn)
}

// Normalize fills the default subnet and validates r.
func (s *Scanner) Normalize(r Range) (Range, error) {
	r.Subnet = strings.TrimSpace(r.Subnet)
	if r.Subnet == "" {
		r.Subnet = s.cfg.DefaultSubnet
	}
	return r, validate(r)
}

func validate(r Range) error {
	parts := strings.Split(r.Subnet, ".")
	if len(parts) != 3 || net.ParseIP(r.Subnet+".0").To4() == nil {
		return fmt.Errorf("%w: subnet %q must be three octets", ErrInvalidRange, r.Subnet)
	}
	if r.Start < 0 || r.Start > 255 || r.End < 0 || r.End > 255 {
		return fmt.Errorf("%w: octets must be within 0..255", ErrInvalidRange)
	}
	if r.Start > r.End {
		return fmt.Errorf("%w: start %d after end %d", ErrInvalidRange, r.Start, r.End)
	}
	if r.End-r.Start > MaxSpan {
		return fmt.Errorf("%w: %d hosts, max %d", ErrRangeTooLarge, r.End-r.Start+1, MaxSpan+1)
	}
	return nil
}

// Scan validates r and starts a sweep in the background.
//
// The sweep keeps ctx's values but not its cancellation, so it outlives an
// HTTP request. Returns ErrScanInProgress while another sweep runs.
func (s *Scanner) Scan(ctx context.Context, r Range) error {
	r, err := s.Normalize(r)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.running {
		return ErrScanInProgress
	}

	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.Timeout)
	s.running = true
	s.cancelRun = cancel

	s.wg.Add(1)
	go s.run(runCtx, cancel, r)

	s.logger.Info("scan started", "subnet", r.Subnet, "start", r.Start, "end", r.End, "method", s.sweeper.Method())
	return nil
}

func (s *Scanner) run(ctx context.Context, cancel context.CancelFunc, r Range) {
	defer s.wg.Done()
	defer cancel()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.cancelRun = nil
		s.mu.Unlock()
	}()

	started := s.now()
	found, err := s.sweeper.Sweep(ctx, r.Hosts())
	if err != nil {
		s.logger.Error("scan failed", "subnet", r.Subnet, "error", err)
		return
	}

	sortByLastOctet(found)
	snap := &Snapshot{
		Timestamp:  s.now(),
		Subnet:     r.Subnet,
		RangeStart: r.Start,
		RangeEnd:   r.End,
		Method:     s.sweeper.Method(),
		Devices:    found,
	}

	// Persist even if ctx expired; the sweep itself finished.
	saveCtx, saveCancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer saveCancel()
	if err := s.store.Save(saveCtx, store.ScanResultsDocument, snap); err != nil {
		s.logger.Error("saving scan results failed", "error", err)
	}

	s.logger.Info("scan complete", "subnet", r.Subnet, "found", len(found), "duration", s.now().Sub(started))

	s.mu.Lock()
	listeners := s.onComplete
	s.mu.Unlock()
	for _, fn := range listeners {
		fn(snap)
	}
}

// Running reports whether a sweep is in progress.
func (s *Scanner) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// LastResults returns the most recent persisted snapshot.
// Returns ErrNoResults if no sweep has completed.
func (s *Scanner) LastResults(ctx context.Context) (*Snapshot, error) {
	var snap Snapshot
	if err := s.store.Load(ctx, store.ScanResultsDocument, &snap); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNoResults
		}
		return nil, fmt.Errorf("loading scan results: %w", err)
	}
	if snap.Devices == nil {
		snap.Devices = []Device{}
	}
	return &snap, nil
}

// Close aborts a running sweep and waits for it to exit.
func (s *Scanner) Close() {
	s.mu.Lock()
	s.closed = true
	if s.cancelRun != nil {
		s.cancelRun()
	}
	s.mu.Unlock()

	s.wg.Wait()
}

func sortByLastOctet(devices []Device) {
	sort.Slice(devices, func(i, j int) bool {
		return lastOctet(devices[i].Address) < lastOctet(devices[j].Address)
	})
}

func lastOctet(address string) int {
	idx := strings.LastIndexByte(address, '.')
	n, err := strconv.Atoi(address[idx+1:])
	if err != nil {
		return 256
	}
	return n
}

// tentativeName is the placeholder name for a host with no known name.
func tentativeName(address string) string {
	return "Unknown Device at " + address
}
