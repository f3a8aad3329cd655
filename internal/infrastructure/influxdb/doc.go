// Package influxdb writes fleet telemetry to InfluxDB v2.
//
// Three measurements are produced, all tagged with backend and address:
//   - probe_latency: connect time of each successful reachability probe
//   - device_status: status of each monitor cycle (online field is 0 or 1)
//   - command_outcome: status and duration of each command send
//
// Writes are non-blocking and batched per the batch_size and
// flush_interval settings.
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//	client.WriteProbeLatency("adb", "192.168.1.20", 4.2)
package influxdb
