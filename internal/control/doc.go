// Package control runs the single loop that serialises all work.
//
// The loop selects over operator lines, the MQTT client's event stream and
// the managed broker's output. Operator lines and bus messages each run in
// one registry transaction, so a failed request leaves no partial state.
// When nothing arrives within the poll timeout the loop probes the store
// and the bus connection and logs any change in their health.
//
// Errors about a single request (bad syntax, unknown device, invalid
// command) are logged and the loop moves on. Panics and store failures are
// logged with a stack trace and followed by a fixed backoff, so a broken
// database does not flood the log.
package control
