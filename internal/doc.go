// Package internal holds helpers private to authcore: identifier and secret
// generation and secret hashing.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - rate: category rate limiter with Redis and in-process stores
//   - stores: purpose-parameterized single-use token service
//
// # What this package must NOT do
//
//   - Persist raw secrets or log them.
//   - Be imported by any package outside the authcore module.
package internal
