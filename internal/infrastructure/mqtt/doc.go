// Package mqtt links a backend service to an MQTT broker: retained display
// state under tvfleet/state, command results under tvfleet/outcome, remote
// commands from tvfleet/command and a retained presence on
// tvfleet/system/status backed by a Last Will.
package mqtt
