// Package migrations embeds the devcontrol schema into the binary.
//
// The broker auth plugin reads the auth table directly, so its column names
// are part of the external interface.
package migrations

import "embed"

// FS holds every *.sql migration at its root. Pass it to database.DB.Migrate.
//
//go:embed *.sql
var FS embed.FS
