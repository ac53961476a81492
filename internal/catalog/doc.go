// Package catalog defines which commands each device type accepts, which
// statuses it can report, and what status a command leaves it in.
//
// Every type implements DeviceType. A type backed by fixed command and
// status sets (Enumerated) and one backed by arbitrary functions
// (Predicate) look the same to callers.
//
// Lookups for an unknown type never fail loudly: every predicate answers
// false and Transform reports no change. The superuser's "master" type is
// intentionally absent, so no command is ever valid for it.
package catalog
