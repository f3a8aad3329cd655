// Package service assembles one isolated fleet backend.
//
// A Service owns the registry, monitor, dispatcher, scanner and HTTP
// server of a single transport kind. The ADB and CEC services share no
// state: each has its own store namespace, port and supervision map.
//
// Optional sinks relay events out of the process:
//   - MQTT: retained device state, command outcomes and scan snapshots,
//     plus inbound commands on tvfleet/command/{backend}/{address}
//   - InfluxDB: per-cycle device status and probe latency, and command
//     outcome durations
package service
