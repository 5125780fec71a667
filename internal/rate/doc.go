// Package rate throttles authentication-adjacent actions per category and
// identity.
//
// # Window semantics
//
// Fixed windows: the first hit starts the window expiry, and the counter and
// expiry are updated in one atomic round trip (a Lua script on Redis). A hit
// that pushes the count past MaxAttempts writes a block marker, and every
// attempt is rejected until the marker expires, even after the window has
// reset. Redis keys:
//   - arl:c:{category}:{identity} holds the window counter
//   - arl:b:{category}:{identity} holds the block marker (unix ms until)
//
// # Degraded mode
//
// When the distributed store fails or times out, the limiter stops
// contacting it for FailureBlock and either counts locally (memory) or
// rejects everything (deny). The first check after the cooldown probes the
// store again.
//
// # What this package must NOT do
//
//   - Surface store errors to callers.
//   - Keep process-global state; the local store is injected.
package rate
