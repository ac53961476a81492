package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by the activity recorder.
const (
	MeasurementPresence = "device_presence"
	MeasurementStatus   = "device_status"
	MeasurementCommand  = "device_command"
)

// RecordPresence writes a device connecting or disconnecting.
//
// The write is non-blocking; data is batched and sent asynchronously.
//
// Parameters:
//   - username: Broker identity of the device
//   - deviceType: Catalog type name, "" if unknown
//   - connected: New connection state
func (c *Client) RecordPresence(username, deviceType string, connected bool) {
	c.writePoint(MeasurementPresence, username, deviceType, map[string]interface{}{
		"connected": connected,
	})
}

// RecordStatus writes a status change, whether reported by the device or
// derived from a dispatched command.
func (c *Client) RecordStatus(username, deviceType, status string) {
	c.writePoint(MeasurementStatus, username, deviceType, map[string]interface{}{
		"status": status,
	})
}

// RecordCommand writes a command dispatch attempt. accepted is false when
// the capability catalog refused the command.
func (c *Client) RecordCommand(username, deviceType, command string, accepted bool) {
	c.writePoint(MeasurementCommand, username, deviceType, map[string]interface{}{
		"command":  command,
		"accepted": accepted,
	})
}

// writePoint queues one activity point tagged by device.
func (c *Client) writePoint(measurement, username, deviceType string, fields map[string]interface{}) {
	if c == nil || !c.IsConnected() {
		return
	}

	tags := map[string]string{"username": username}
	if deviceType != "" {
		tags["type"] = deviceType
	}

	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, time.Now()))
}
