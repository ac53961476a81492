// Package session implements the device-state protocol of the control plane.
//
// A Coordinator owns everything the protocol needs between messages: the
// guest set, the bus publisher, the kicker, the clock and the capability
// catalog. The registry is not owned; every entry point receives the
// device.Registry bound to the transaction of the current loop iteration,
// so a handler's store writes commit or roll back together.
//
// # Architecture
//
//	                 ┌──────────────────────────────┐
//	bus events ─────►│ HandleConnect / HandleMessage│
//	                 │   lobby: onboarding, presence│
//	                 │   admin: status, schedules ──┼──► Reconcile
//	                 └──────────────┬───────────────┘
//	                                │
//	operator verbs ────────────────►│ Provision, ExecuteCommand,
//	                                │ Schedule, Unschedule, ...
//	                                ▼
//	            catalog ─── registry ─── schedule codec ─── bus
//
// # Identity lifecycle
//
// An identity is Unknown until it asks for credentials on its lobby, then a
// Guest until an operator provisions it, then Provisioned for good.
// Provisioned devices toggle between connected and disconnected on presence
// messages. After every broker session start all devices are marked
// disconnected and pinged; only a fresh presence message marks them
// connected again.
//
// # Usage
//
//	coord := session.New(session.Config{KickPSK: cfg.Auth.KickPSK}, session.Deps{
//	    Catalog: catalog.Default(),
//	    Bus:     mqttClient,
//	    Kicker:  mqtt.NewKicker(cfg.MQTT),
//	    Hasher:  hasher,
//	})
//
//	err := repo.InTx(ctx, func(reg device.Registry) error {
//	    return coord.ExecuteCommand(ctx, reg, "kitchen", "on")
//	})
//
// # Thread Safety
//
// A Coordinator is not safe for concurrent use. The control loop is its only
// caller.
package session
