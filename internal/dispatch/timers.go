package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/mosys-billing/tvfleet/internal/device"
)

// MaxDelay is the longest accepted ScheduleDelayed delay.
const MaxDelay = 24 * time.Hour

// Timer is a pending delayed command. Several timers may target the same
// address and command; each fires independently.
type Timer struct {
	ID      string    `json:"id"`
	Address string    `json:"address"`
	Command string    `json:"command"`
	FireAt  time.Time `json:"fire_at"`

	timer *time.Timer
	d     *Dispatcher
}

// Cancel stops the timer. It reports false if the timer already fired or
// was cancelled.
func (t *Timer) Cancel() bool {
	return t.d.cancelTimer(t.ID)
}

// ScheduleDelayed validates the request now and sends command to address
// once delay has passed.
//
// The address must be registered and the command known at scheduling
// time. If the display is removed before the timer fires, the send fails
// with NotFound and is logged.
func (d *Dispatcher) ScheduleDelayed(ctx context.Context, address, command string, delay time.Duration) (*Timer, error) {
	if delay <= 0 || delay > MaxDelay {
		return nil, fmt.Errorf("%w: %s must be within (0, %s]", ErrInvalidDelay, delay, MaxDelay)
	}

	address = device.NormalizeAddress(address)
	if _, err := d.resolve(address, command); err != nil {
		return nil, err
	}

	d.timersMu.Lock()
	defer d.timersMu.Unlock()

	if d.closed {
		return nil, ErrClosed
	}

	t := &Timer{
		ID:      uuid.NewString(),
		Address: address,
		Command: command,
		FireAt:  d.now().Add(delay),
		d:       d,
	}
	// fire takes timersMu, so it can't run before t is in the map.
	t.timer = time.AfterFunc(delay, func() { d.fire(t.ID) })
	d.timers[t.ID] = t

	d.logger.Info("command scheduled", "id", t.ID, "address", address, "command", command, "delay", delay)
	return t, nil
}

func (d *Dispatcher) fire(id string) {
	d.timersMu.Lock()
	t, ok := d.timers[id]
	if ok {
		delete(d.timers, id)
	}
	d.timersMu.Unlock()

	if !ok {
		return
	}

	_, err := d.send(d.baseCtx, t.Address, t.Command, TriggerTimer)
	switch {
	case errors.Is(err, device.ErrDeviceNotFound):
		d.logger.Warn("delayed command target gone", "id", id, "address", t.Address, "command", t.Command)
	case err != nil:
		d.logger.Error("delayed command failed", "id", id, "address", t.Address, "error", err)
	}
}

func (d *Dispatcher) cancelTimer(id string) bool {
	d.timersMu.Lock()
	t, ok := d.timers[id]
	if ok {
		delete(d.timers, id)
	}
	d.timersMu.Unlock()

	if !ok {
		return false
	}
	t.timer.Stop()
	d.logger.Info("delayed command cancelled", "id", id, "address", t.Address)
	return true
}

// CancelTimer cancels the pending timer with id.
// Returns ErrTimerNotFound if it already fired or never existed.
func (d *Dispatcher) CancelTimer(id string) error {
	if !d.cancelTimer(id) {
		return fmt.Errorf("%w: %s", ErrTimerNotFound, id)
	}
	return nil
}

// Timers returns the pending timers ordered by fire time.
func (d *Dispatcher) Timers() []*Timer {
	d.timersMu.Lock()
	out := make([]*Timer, 0, len(d.timers))
	for _, t := range d.timers {
		out = append(out, t)
	}
	d.timersMu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].FireAt.Equal(out[j].FireAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].FireAt.Before(out[j].FireAt)
	})
	return out
}

// Close cancels all pending timers and aborts sends started by timers.
// Later ScheduleDelayed calls return ErrClosed.
func (d *Dispatcher) Close() {
	d.timersMu.Lock()
	d.closed = true
	pending := d.timers
	d.timers = make(map[string]*Timer)
	d.timersMu.Unlock()

	for _, t := range pending {
		t.timer.Stop()
	}
	d.cancelBase()
}
