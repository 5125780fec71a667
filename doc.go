// Package authcore is the trust core of an authentication service: rotating
// refresh sessions with reuse detection, single-use password-reset and
// email-verification tokens, and attempt rate limiting with a Redis primary
// and an in-process fallback.
//
// Build an [Engine] with [New]:
//
//	cfg, _ := authcore.LoadConfig(".env")
//	engine, err := authcore.New().
//		WithConfig(cfg).
//		WithSQLStore(db).
//		WithRedis(rdb).
//		WithLogger(logger).
//		Build()
//
// Engine methods are safe for concurrent use. Client IP, user agent and
// device id travel in the context ([WithClientIP], [WithUserAgent],
// [WithDeviceID]).
//
// # Errors
//
// Every operation returns the sentinels in errors.go, never a raw driver
// error. Storage failures wrap [ErrStoreUnavailable] and are retryable.
// [PublicError] collapses credential failures into one indistinguishable
// [ErrUnauthorized] for end users.
//
// # Boundaries
//
// The package does not check login credentials, issue access tokens or
// send mail. Callers decide when to create a session and how to deliver
// reset and verification tokens.
package authcore
