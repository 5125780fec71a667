// Package stores implements single-use proof tokens (password reset, email
// verification) as one [Service] parameterized by a [Purpose].
//
// # Redemption order
//
// Consume decodes the token, loads the row, compares the secret hash in
// constant time, then rejects used and expired rows in that order. The
// winner is decided by a conditional update that only succeeds while
// used-at is null; the purpose-specific effect runs after it.
//
// # What this package must NOT do
//
//   - Deliver tokens. Mail and links belong to the caller.
//   - Invalidate earlier unused tokens when a new one is issued.
//   - Use non-constant-time comparisons for secret matching.
package stores
