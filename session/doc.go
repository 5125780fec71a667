// Package session manages refresh-session lineages: creation on login,
// single-use rotation, reuse detection and revocation.
//
// # Rotation chain
//
// Every rotation revokes the presented row with reason "rotated", points it
// at a freshly inserted successor, and hands out a new secret. At most one
// row per lineage is live. Presenting the secret of a rotated row, or a
// secret that does not match a live row, is treated as theft: the row is
// flagged and the whole lineage, from the root to the current tail, is
// revoked.
//
// # Architecture boundaries
//
// This package owns the [Store] and the [Session] model. Durable state goes
// through a [Repository]; the sqlstore package provides one for SQLite and
// PostgreSQL.
//
// # What this package must NOT do
//
//   - Store raw refresh secrets.
//   - Delete rows. Revoked sessions are kept for audit.
//   - Import authcore (no upward imports).
package session
