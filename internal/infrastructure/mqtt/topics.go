package mqtt

import (
	"fmt"
	"strings"
)

// TopicPrefix is the root of every fleet topic.
//
// Layout: tvfleet/{category}/{backend}/{address}
const TopicPrefix = "tvfleet"

// Topics builds fleet topic names.
//
//	mqtt.Topics{}.State("adb", "192.168.1.20")
//	// tvfleet/state/adb/192.168.1.20
type Topics struct{}

// State is the retained per-display status topic.
func (Topics) State(backend, address string) string {
	return fmt.Sprintf("%s/state/%s/%s", TopicPrefix, backend, address)
}

// Outcome carries the result of each command sent to a display.
func (Topics) Outcome(backend, address string) string {
	return fmt.Sprintf("%s/outcome/%s/%s", TopicPrefix, backend, address)
}

// Command is where external clients publish commands for a display.
func (Topics) Command(backend, address string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefix, backend, address)
}

// Scan carries completed scan snapshots for a backend.
func (Topics) Scan(backend string) string {
	return fmt.Sprintf("%s/scan/%s", TopicPrefix, backend)
}

// SystemStatus is the retained online/offline topic, also used for the LWT.
func (Topics) SystemStatus() string {
	return TopicPrefix + "/system/status"
}

// AllCommands matches every command topic for backend.
func (Topics) AllCommands(backend string) string {
	return fmt.Sprintf("%s/command/%s/+", TopicPrefix, backend)
}

// AllStates matches every state topic across backends.
func (Topics) AllStates() string {
	return TopicPrefix + "/state/#"
}

// ParseAddress returns the trailing address segment of a
// tvfleet/{category}/{backend}/{address} topic.
func ParseAddress(topic string) (string, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[0] != TopicPrefix || parts[3] == "" {
		return "", false
	}
	return parts[3], true
}
