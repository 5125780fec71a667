// Package middleware adapts authcore to net/http.
//
// [ClientContext] copies the caller's IP, user agent and device id into
// the request context where the engine reads them. [RateLimit] runs one
// rate-limit category before the wrapped handler and answers 429 with a
// Retry-After header when the identity is blocked.
//
// The package makes no authentication decisions of its own.
package middleware
