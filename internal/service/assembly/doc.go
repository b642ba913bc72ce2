// Package assembly turns raw source-table fragments into outbound
// conversation documents.
//
// Assembly is deliberately strict: a conversation that is too short, is
// missing a required channel, or carries no usable text is skipped, not
// errored. Skips are first-class outcomes so callers can decide whether to
// mark the id processed (backfill) or leave it for a later cycle (CDC).
//
// The repository interface is defined here; the Postgres implementation
// lives in repository/postgres/.
package assembly
