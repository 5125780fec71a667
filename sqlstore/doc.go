// Package sqlstore is the durable store for refresh sessions, single-use
// tokens and the user rows their effects touch, on database/sql.
//
// Two drivers are supported: modernc.org/sqlite (pure Go) and PostgreSQL via
// pgx's stdlib adapter. Schemas live in migrations/{sqlite,postgres} and are
// applied with [Migrate].
//
// Every state transition that must have exactly one winner is a conditional
// UPDATE whose affected-row count decides the outcome:
//
//   - rotation: WHERE revoked_at IS NULL AND refresh_hash = ?
//   - redemption: WHERE used_at IS NULL
//   - revoke: WHERE revoked_at IS NULL
//
// Timestamps are stored as unix milliseconds. Rows are never deleted.
package sqlstore
