package internaldefs

import (
	"github.com/MrEthical07/authcore"
)

// CounterDef names one engine counter for export.
type CounterDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

// HistogramDef names one engine latency histogram for export.
type HistogramDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

var CounterDefs = []CounterDef{
	{ID: authcore.MetricSessionCreated, Name: "authcore_session_created_total", Help: "Created refresh sessions."},
	{ID: authcore.MetricSessionRotated, Name: "authcore_session_rotated_total", Help: "Successful refresh rotations."},
	{ID: authcore.MetricSessionRotateFailure, Name: "authcore_session_rotate_failure_total", Help: "Rejected refresh rotations other than reuse."},
	{ID: authcore.MetricSessionReuseDetected, Name: "authcore_session_reuse_detected_total", Help: "Refresh token replays that revoked a lineage."},
	{ID: authcore.MetricSessionRevoked, Name: "authcore_session_revoked_total", Help: "Single-session revocations."},
	{ID: authcore.MetricSessionRevokedAll, Name: "authcore_session_revoked_all_total", Help: "Revoke-all operations."},
	{ID: authcore.MetricResetIssued, Name: "authcore_password_reset_issued_total", Help: "Issued password-reset tokens."},
	{ID: authcore.MetricResetConsumed, Name: "authcore_password_reset_consumed_total", Help: "Redeemed password-reset tokens."},
	{ID: authcore.MetricResetFailure, Name: "authcore_password_reset_failure_total", Help: "Rejected password-reset redemptions."},
	{ID: authcore.MetricVerificationIssued, Name: "authcore_email_verification_issued_total", Help: "Issued email-verification tokens."},
	{ID: authcore.MetricVerificationConsumed, Name: "authcore_email_verification_consumed_total", Help: "Redeemed email-verification tokens."},
	{ID: authcore.MetricVerificationFailure, Name: "authcore_email_verification_failure_total", Help: "Rejected email-verification redemptions."},
	{ID: authcore.MetricRateLimitAdmitted, Name: "authcore_rate_limit_admitted_total", Help: "Attempts admitted by the rate limiter."},
	{ID: authcore.MetricRateLimitBlocked, Name: "authcore_rate_limit_blocked_total", Help: "Attempts rejected by the rate limiter."},
	{ID: authcore.MetricRateLimitDegraded, Name: "authcore_rate_limit_degraded_total", Help: "Rate-limit decisions answered by the fallback policy."},
	{ID: authcore.MetricStoreUnavailable, Name: "authcore_store_unavailable_total", Help: "Operations that failed on an unavailable store."},
}

var HistogramDefs = []HistogramDef{
	{ID: authcore.MetricRotateLatency, Name: "authcore_session_rotate_latency_seconds", Help: "Refresh rotation latency."},
	{ID: authcore.MetricConsumeLatency, Name: "authcore_token_consume_latency_seconds", Help: "Single-use token redemption latency."},
}

// HistogramBounds are the upper bounds of the engine's eight latency
// buckets, in seconds.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix spells HistogramBounds for instrument names.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets pads or truncates raw to eight buckets.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
