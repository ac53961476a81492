// Package device provides the Device Registry for devcontrol.
//
// The registry is the durable record of every device the control plane knows
// about: its profile (broker username, operator-facing display name, type,
// connection flag and last reported status), its broker credential and its
// authoritative schedule.
//
// # Architecture
//
//	┌──────────────────────────────────────────────────────────┐
//	│                      Device Registry                     │
//	│                                                          │
//	│  ┌──────────────────┐         ┌──────────────────────┐   │
//	│  │ Registry         │         │ SQLiteRepository     │   │
//	│  │ (registry.go)    │◀────────│ (repository.go)      │   │
//	│  │ • contract       │         │ • sqlx row mapping   │   │
//	│  └──────────────────┘         │ • InTx per loop unit │   │
//	│                               └──────────────────────┘   │
//	└──────────────────────────────────────────────────────────┘
//	                     │
//	                     ▼
//	        profile / auth / schedule tables
//
// # Identity
//
// Username is the only key other tables refer to. A display name is always
// resolved to a username (Registry.Username) before anything else happens.
// The superuser profile has type SuperuserType and is hidden from device
// listings.
//
// # Transactions
//
// The control loop wraps each operator line or bus message in
// SQLiteRepository.InTx. The Registry handed to the callback is bound to the
// transaction, so every mutation made while handling one unit commits or
// rolls back together.
//
// # Usage
//
//	repo := device.NewSQLiteRepository(db.DB)
//	err := repo.InTx(ctx, func(reg device.Registry) error {
//	    username, err := reg.Username(ctx, "kitchen")
//	    if err != nil {
//	        return err
//	    }
//	    return reg.SetStatus(ctx, username, "on")
//	})
package device
