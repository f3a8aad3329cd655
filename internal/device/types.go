package device

import (
	"maps"
	"time"
)

// Status is the reachability state of a device.
type Status string

// Status values. The set is closed.
const (
	StatusChecking Status = "Checking"
	StatusOnline   Status = "Online"
	StatusOffline  Status = "Offline"
	StatusError    Status = "Error"
)

// AllStatuses returns every valid status.
func AllStatuses() []Status {
	return []Status{StatusChecking, StatusOnline, StatusOffline, StatusError}
}

// Valid reports whether s is one of the defined statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusChecking, StatusOnline, StatusOffline, StatusError:
		return true
	}
	return false
}

// ExtraPowerStatus is the Extra key holding a CEC display's power state.
const ExtraPowerStatus = "power_status"

// Record is one registered display.
type Record struct {
	Address string `json:"address"`
	Name    string `json:"name"`
	Status  Status `json:"status"`

	// ResponseTimeMS is set only while Status is Online.
	ResponseTimeMS *float64 `json:"response_time_ms"`

	// Extra carries backend-specific fields such as power_status.
	Extra map[string]string `json:"extra,omitempty"`

	AddedAt   time.Time `json:"added_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DeepCopy returns an independent copy of r.
func (r *Record) DeepCopy() *Record {
	if r == nil {
		return nil
	}
	cpy := *r
	if r.ResponseTimeMS != nil {
		v := *r.ResponseTimeMS
		cpy.ResponseTimeMS = &v
	}
	cpy.Extra = maps.Clone(r.Extra)
	return &cpy
}

// Health is the result of one monitor cycle.
type Health struct {
	Status Status

	// ResponseTime is recorded only when Status is Online.
	ResponseTime time.Duration

	// Extra is merged into the record's Extra map. An empty value deletes
	// the key.
	Extra map[string]string
}

// EventType identifies a registry change.
type EventType string

// Registry event types.
const (
	EventAdded         EventType = "device.added"
	EventRemoved       EventType = "device.removed"
	EventEdited        EventType = "device.edited"
	EventStatusChanged EventType = "device.status_changed"
)

// Event describes a committed registry change.
type Event struct {
	Type    EventType `json:"type"`
	Address string    `json:"address"`

	// OldAddress is set on EventEdited when the address changed.
	OldAddress string `json:"old_address,omitempty"`

	// Record is a copy of the record after the change; nil for EventRemoved.
	Record *Record `json:"record,omitempty"`
}

// Stats counts registered devices by status.
type Stats struct {
	Total    int            `json:"total"`
	ByStatus map[Status]int `json:"by_status"`
}
