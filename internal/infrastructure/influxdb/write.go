package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementProbeLatency   = "probe_latency"
	MeasurementDeviceStatus   = "device_status"
	MeasurementCommandOutcome = "command_outcome"
)

// WriteProbeLatency records the connect time of a successful probe.
func (c *Client) WriteProbeLatency(backend, address string, latencyMS float64) {
	c.write(probeLatencyPoint(backend, address, latencyMS, time.Now()))
}

// WriteDeviceStatus records the status a monitor cycle produced. online is
// stored as a 0/1 field so it can be averaged into availability.
func (c *Client) WriteDeviceStatus(backend, address, status string) {
	c.write(deviceStatusPoint(backend, address, status, time.Now()))
}

// WriteCommandOutcome records one command send.
func (c *Client) WriteCommandOutcome(backend, address, command, status string, durationMS float64) {
	c.write(commandOutcomePoint(backend, address, command, status, durationMS, time.Now()))
}

// WritePoint writes a custom point stamped now.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	c.write(write.NewPoint(measurement, tags, fields, time.Now()))
}

func (c *Client) write(p *write.Point) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(p)
}

func probeLatencyPoint(backend, address string, latencyMS float64, ts time.Time) *write.Point {
	return write.NewPoint(
		MeasurementProbeLatency,
		map[string]string{"backend": backend, "address": address},
		map[string]any{"latency_ms": latencyMS},
		ts,
	)
}

func deviceStatusPoint(backend, address, status string, ts time.Time) *write.Point {
	online := 0
	if status == "online" {
		online = 1
	}
	return write.NewPoint(
		MeasurementDeviceStatus,
		map[string]string{"backend": backend, "address": address, "status": status},
		map[string]any{"online": online},
		ts,
	)
}

func commandOutcomePoint(backend, address, command, status string, durationMS float64, ts time.Time) *write.Point {
	success := status == "success"
	return write.NewPoint(
		MeasurementCommandOutcome,
		map[string]string{"backend": backend, "address": address, "command": command, "status": status},
		map[string]any{"duration_ms": durationMS, "success": success},
		ts,
	)
}
