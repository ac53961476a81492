// Package mqtt provides MQTT client connectivity for devcontrol.
//
// This package manages:
//   - Connection to the Mosquitto broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - An ordered event stream of inbound messages and connection changes
//   - Kicking stale device sessions
//
// # Topics
//
// Every device owns three topics under its broker username u:
//
//	u/lobby    presence and onboarding (hello, here, ping, credentials)
//	u/admin    status reports, schedule reports, time sync
//	u/control  commands and schedule edits
//
// The control plane subscribes to "#" and sorts traffic by ParseTopic.
//
// # Event stream
//
// paho delivers messages on its own goroutines. Forward turns a subscription
// into EventMessage entries on Events, and connection changes arrive there
// as EventConnected and EventConnectionLost, so one consumer sees all bus
// activity in order and needs no locking of its own.
//
// # Security Considerations
//
//   - TLS is required for production deployments (cfg.Broker.TLS=true)
//   - Credentials are checked by the broker's auth plugin against the
//     registry's auth table
//   - Message payloads are not encrypted beyond TLS transport
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	for ev := range client.Events() {
//	    if ev.Kind == mqtt.EventConnected {
//	        client.Forward(mqtt.Topics{}.All(), mqtt.QoSAtMostOnce)
//	    }
//	}
package mqtt
