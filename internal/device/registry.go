package device

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mosys-billing/tvfleet/internal/store"
)

// defaultSaveTimeout bounds one write of the devices document.
const defaultSaveTimeout = 5 * time.Second

// Logger defines the logging interface used by the Registry.
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

// Store persists whole documents. *store.Documents satisfies it.
type Store interface {
	Load(ctx context.Context, name string, v any) error
	Save(ctx context.Context, name string, v any) error
}

// Watcher is told when an address starts or stops needing supervision.
// Both calls are made while the address is locked, so implementations
// must return promptly and must not call back into the Registry.
type Watcher interface {
	Watch(address string)
	Unwatch(address string)
}

type noopWatcher struct{}

func (noopWatcher) Watch(string)   {}
func (noopWatcher) Unwatch(string) {}

// Registry is the address-keyed catalogue of displays for one backend.
//
// Every operation on an address is serialised by a per-address lock, so
// operations on different addresses run in parallel. The map itself is
// guarded by recordsMu, held only while swapping records, so readers
// never see a half-applied change and never wait on I/O.
//
// Every committed mutation rewrites the full devices document. A failed
// write is logged; the in-memory map stays authoritative.
//
// All public methods are thread-safe.
type Registry struct {
	store Store

	records   map[string]*Record
	recordsMu sync.RWMutex

	keys *keyLock

	// saveMu orders snapshot writes so the newest state lands last.
	saveMu      sync.Mutex
	saveTimeout time.Duration

	watcher Watcher

	listeners   []func(Event)
	listenersMu sync.RWMutex

	logger Logger
	now    func() time.Time
}

// NewRegistry creates an empty registry backed by st.
// Call Load to restore persisted devices.
func NewRegistry(st Store) *Registry {
	return &Registry{
		store:       st,
		records:     make(map[string]*Record),
		keys:        newKeyLock(),
		saveTimeout: defaultSaveTimeout,
		watcher:     noopWatcher{},
		logger:      noopLogger{},
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// SetWatcher sets the component notified when addresses appear or disappear.
// It must be set before Load or any mutation.
func (r *Registry) SetWatcher(w Watcher) {
	if w == nil {
		w = noopWatcher{}
	}
	r.watcher = w
}

// OnChange registers fn to be called after every committed mutation.
// fn runs while the affected address is locked and must not block.
func (r *Registry) OnChange(fn func(Event)) {
	r.listenersMu.Lock()
	r.listeners = append(r.listeners, fn)
	r.listenersMu.Unlock()
}

func (r *Registry) notify(ev Event) {
	r.listenersMu.RLock()
	listeners := r.listeners
	r.listenersMu.RUnlock()

	for _, fn := range listeners {
		fn(ev)
	}
}

// Load replaces the in-memory map with the persisted devices document and
// starts supervision for every loaded address. Loaded records restart in
// Checking. A missing document yields an empty registry.
func (r *Registry) Load(ctx context.Context) error {
	var stored map[string]Record
	err := r.store.Load(ctx, store.DevicesDocument, &stored)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("loading devices: %w", err)
	}

	loaded := make(map[string]*Record, len(stored))
	for key, rec := range stored {
		address := NormalizeAddress(rec.Address)
		if address == "" {
			address = NormalizeAddress(key)
		}
		if err := ValidateAddress(address); err != nil {
			r.logger.Warn("skipping persisted device", "address", key, "error", err)
			continue
		}
		if err := ValidateName(rec.Name); err != nil {
			r.logger.Warn("skipping persisted device", "address", key, "error", err)
			continue
		}

		rec := rec
		rec.Address = address
		rec.Status = StatusChecking
		rec.ResponseTimeMS = nil
		if rec.AddedAt.IsZero() {
			rec.AddedAt = r.now()
		}
		loaded[address] = rec.DeepCopy()
	}

	r.recordsMu.Lock()
	previous := r.records
	r.records = loaded
	r.recordsMu.Unlock()

	for address := range previous {
		if _, ok := loaded[address]; !ok {
			r.watcher.Unwatch(address)
		}
	}
	for address := range loaded {
		r.watcher.Watch(address)
	}

	r.logger.Info("devices loaded", "count", len(loaded))
	return nil
}

// Register adds a display in Checking state and starts its supervision.
// Returns ErrInvalidDevice for a bad name or address and ErrDeviceExists if
// the address is already registered.
func (r *Registry) Register(ctx context.Context, name, address string) (*Record, error) {
	address = NormalizeAddress(address)
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if err := ValidateAddress(address); err != nil {
		return nil, err
	}

	unlock := r.keys.Lock(address)
	defer unlock()

	if _, ok := r.lookup(address); ok {
		return nil, fmt.Errorf("%w: %s", ErrDeviceExists, address)
	}

	now := r.now()
	rec := &Record{
		Address:   address,
		Name:      strings.TrimSpace(name),
		Status:    StatusChecking,
		AddedAt:   now,
		UpdatedAt: now,
	}

	r.recordsMu.Lock()
	r.records[address] = rec
	r.recordsMu.Unlock()

	r.persist(ctx)
	r.watcher.Watch(address)

	r.logger.Info("device registered", "address", address, "name", rec.Name)
	r.notify(Event{Type: EventAdded, Address: address, Record: rec.DeepCopy()})
	return rec.DeepCopy(), nil
}

// Remove deletes a display and retires its monitor task. Once Remove
// returns, no further health update for the address is accepted.
func (r *Registry) Remove(ctx context.Context, address string) error {
	address = NormalizeAddress(address)

	unlock := r.keys.Lock(address)
	defer unlock()

	if _, ok := r.lookup(address); !ok {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, address)
	}

	r.recordsMu.Lock()
	delete(r.records, address)
	r.recordsMu.Unlock()

	r.watcher.Unwatch(address)
	r.persist(ctx)

	r.logger.Info("device removed", "address", address)
	r.notify(Event{Type: EventRemoved, Address: address})
	return nil
}

// Edit renames and/or re-keys a display. An empty newName or newAddress
// keeps the current value. Status fields carry over; if the address
// changed, the old monitor task is retired and a new one started.
func (r *Registry) Edit(ctx context.Context, oldAddress, newName, newAddress string) (*Record, error) {
	oldAddress = NormalizeAddress(oldAddress)
	newAddress = NormalizeAddress(newAddress)
	if newAddress == "" {
		newAddress = oldAddress
	}
	if newName != "" {
		if err := ValidateName(newName); err != nil {
			return nil, err
		}
	}
	if err := ValidateAddress(newAddress); err != nil {
		return nil, err
	}

	unlock := r.keys.LockPair(oldAddress, newAddress)
	defer unlock()

	current, ok := r.lookup(oldAddress)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, oldAddress)
	}
	rekey := newAddress != oldAddress
	if rekey {
		if _, taken := r.lookup(newAddress); taken {
			return nil, fmt.Errorf("%w: %s", ErrDeviceExists, newAddress)
		}
	}

	updated := current.DeepCopy()
	if newName != "" {
		updated.Name = strings.TrimSpace(newName)
	}
	updated.Address = newAddress

	r.recordsMu.Lock()
	if rekey {
		delete(r.records, oldAddress)
	}
	r.records[newAddress] = updated
	r.recordsMu.Unlock()

	if rekey {
		r.watcher.Unwatch(oldAddress)
		r.watcher.Watch(newAddress)
	}
	r.persist(ctx)

	ev := Event{Type: EventEdited, Address: newAddress, Record: updated.DeepCopy()}
	if rekey {
		ev.OldAddress = oldAddress
	}
	r.logger.Info("device edited", "address", newAddress, "old_address", oldAddress, "name", updated.Name)
	r.notify(ev)
	return updated.DeepCopy(), nil
}

// ApplyHealth records the outcome of a monitor cycle.
//
// ctx must be the monitor task's context: once it is cancelled (the task
// was retired by Remove or Edit) the update is refused with ErrStaleUpdate.
// Updates for an address that no longer exists are refused the same way.
func (r *Registry) ApplyHealth(ctx context.Context, address string, h Health) error {
	if !h.Status.Valid() {
		return fmt.Errorf("%w: status %q", ErrInvalidDevice, h.Status)
	}

	unlock := r.keys.Lock(address)
	defer unlock()

	if ctx.Err() != nil {
		return ErrStaleUpdate
	}
	current, ok := r.lookup(address)
	if !ok {
		return ErrStaleUpdate
	}

	updated := current.DeepCopy()
	updated.Status = h.Status
	if h.Status == StatusOnline {
		ms := float64(h.ResponseTime.Microseconds()) / 1000
		updated.ResponseTimeMS = &ms
	} else {
		updated.ResponseTimeMS = nil
	}
	for k, v := range h.Extra {
		if v == "" {
			delete(updated.Extra, k)
			continue
		}
		if updated.Extra == nil {
			updated.Extra = make(map[string]string)
		}
		updated.Extra[k] = v
	}
	if len(updated.Extra) == 0 {
		updated.Extra = nil
	}

	changed := updated.Status != current.Status || !maps.Equal(updated.Extra, current.Extra)
	if changed {
		updated.UpdatedAt = r.now()
	}

	r.recordsMu.Lock()
	r.records[address] = updated
	r.recordsMu.Unlock()

	r.persist(ctx)

	if changed {
		r.logger.Debug("device status changed", "address", address, "from", current.Status, "to", updated.Status)
		r.notify(Event{Type: EventStatusChanged, Address: address, Record: updated.DeepCopy()})
	}
	return nil
}

// Get returns a copy of the record for address.
func (r *Registry) Get(address string) (*Record, error) {
	rec, ok := r.lookup(NormalizeAddress(address))
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, address)
	}
	return rec.DeepCopy(), nil
}

// Exists reports whether address is registered.
func (r *Registry) Exists(address string) bool {
	_, ok := r.lookup(NormalizeAddress(address))
	return ok
}

// Snapshot returns a copy of every record keyed by address.
func (r *Registry) Snapshot() map[string]Record {
	r.recordsMu.RLock()
	defer r.recordsMu.RUnlock()

	out := make(map[string]Record, len(r.records))
	for address, rec := range r.records {
		out[address] = *rec.DeepCopy()
	}
	return out
}

// Addresses returns the registered addresses in sorted order.
func (r *Registry) Addresses() []string {
	r.recordsMu.RLock()
	out := make([]string, 0, len(r.records))
	for address := range r.records {
		out = append(out, address)
	}
	r.recordsMu.RUnlock()

	sort.Strings(out)
	return out
}

// Count returns the number of registered devices.
func (r *Registry) Count() int {
	r.recordsMu.RLock()
	defer r.recordsMu.RUnlock()
	return len(r.records)
}

// Stats returns device counts by status.
func (r *Registry) Stats() Stats {
	r.recordsMu.RLock()
	defer r.recordsMu.RUnlock()

	stats := Stats{
		Total:    len(r.records),
		ByStatus: make(map[Status]int, len(AllStatuses())),
	}
	for _, s := range AllStatuses() {
		stats.ByStatus[s] = 0
	}
	for _, rec := range r.records {
		stats.ByStatus[rec.Status]++
	}
	return stats
}

func (r *Registry) lookup(address string) (*Record, bool) {
	r.recordsMu.RLock()
	rec, ok := r.records[address]
	r.recordsMu.RUnlock()
	return rec, ok
}

// persist writes the full map. Callers hold at least one address lock.
func (r *Registry) persist(ctx context.Context) {
	r.saveMu.Lock()
	defer r.saveMu.Unlock()

	snapshot := r.Snapshot()

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.saveTimeout)
	defer cancel()

	if err := r.store.Save(saveCtx, store.DevicesDocument, snapshot); err != nil {
		r.logger.Error("persisting devices failed", "error", err, "count", len(snapshot))
	}
}
