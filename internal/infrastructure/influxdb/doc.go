// Package influxdb records device activity in InfluxDB.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, batched non-blocking writes and health monitoring. The
// control plane uses it as an optional activity sink: every presence
// change, status change and dispatched command becomes a point.
//
// # Measurements
//
//   - device_presence: field connected (bool)
//   - device_status: field status (string)
//   - device_command: fields command (string), accepted (bool)
//
// Each point is tagged with username and, when known, the device type.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // run without activity history
//	}
//	defer client.Close()
//
//	client.RecordPresence("a1b2", "sonoff", true)
//
// # Error Handling
//
// Writes never block the control loop. Batch errors arrive through the
// SetOnError callback; connection and health check errors are returned
// directly. Recording on a nil or closed client is a no-op.
package influxdb
