package authcore

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrEthical07/authcore/password"
)

func TestPasswordResetRevokesSessions(t *testing.T) {
	env := newTestEngine(t, testConfig())
	env.createUser(t, "u1", "Ada@Example.com")
	ctx := clientCtx("10.0.0.1")

	before, err := env.engine.CreateSession(ctx, "u1", false)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	issued, err := env.engine.IssueResetToken(ctx, "u1")
	if err != nil {
		t.Fatalf("IssueResetToken failed: %v", err)
	}
	if got := issued.ExpiresAt.Sub(env.clock.Now()); got != 30*time.Minute {
		t.Fatalf("unexpected reset TTL %s", got)
	}

	env.clock.Advance(time.Minute)
	rec, err := env.engine.ConsumeResetToken(ctx, issued.Token, "correct horse battery staple")
	if err != nil {
		t.Fatalf("ConsumeResetToken failed: %v", err)
	}
	if rec.UserID != "u1" || rec.UsedAt == nil || rec.UsedIP != "10.0.0.1" {
		t.Fatalf("unexpected record: %+v", rec)
	}

	if _, err := env.engine.RotateSession(ctx, before.RefreshToken); !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("expected ErrSessionRevoked after reset, got %v", err)
	}

	user, err := env.db.UserByID(context.Background(), "u1")
	if err != nil {
		t.Fatalf("UserByID failed: %v", err)
	}
	hasher, err := password.NewArgon2(env.engine.config.passwordConfig())
	if err != nil {
		t.Fatalf("NewArgon2 failed: %v", err)
	}
	if ok, err := hasher.Verify("correct horse battery staple", user.PasswordHash); err != nil || !ok {
		t.Fatalf("stored hash does not verify: ok=%v err=%v", ok, err)
	}

	if _, err := env.engine.ConsumeResetToken(ctx, issued.Token, "another good password"); !errors.Is(err, ErrTokenAlreadyUsed) {
		t.Fatalf("expected ErrTokenAlreadyUsed, got %v", err)
	}
}

func TestPasswordResetRevokeFailureKeepsOldPassword(t *testing.T) {
	env := newTestEngine(t, testConfig())
	env.createUser(t, "u1", "ada@example.com")
	ctx := clientCtx("10.0.0.1")

	before, err := env.engine.CreateSession(ctx, "u1", false)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	issued, err := env.engine.IssueResetToken(ctx, "u1")
	if err != nil {
		t.Fatalf("IssueResetToken failed: %v", err)
	}

	env.sessions.failRevokes(nil, errors.New("connection reset"))
	_, err = env.engine.ConsumeResetToken(ctx, issued.Token, "correct horse battery staple")
	if PublicError(err) != ErrServiceUnavailable {
		t.Fatalf("expected service unavailable, got %v", err)
	}
	user, err := env.db.UserByID(context.Background(), "u1")
	if err != nil {
		t.Fatalf("UserByID failed: %v", err)
	}
	if user.PasswordHash != "unset" {
		t.Fatal("password hash must not change while sessions are still live")
	}

	env.sessions.failRevokes(nil, nil)
	env.clock.Advance(time.Minute)
	if _, err := env.engine.ConsumeResetToken(ctx, issued.Token, "correct horse battery staple"); err != nil {
		t.Fatalf("retry with the same token failed: %v", err)
	}
	if _, err := env.engine.RotateSession(ctx, before.RefreshToken); !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("expected ErrSessionRevoked after reset, got %v", err)
	}
	user, err = env.db.UserByID(context.Background(), "u1")
	if err != nil {
		t.Fatalf("UserByID failed: %v", err)
	}
	if user.PasswordHash == "unset" {
		t.Fatal("expected password hash replaced on retry")
	}
}

func TestPasswordResetPolicyKeepsTokenUsable(t *testing.T) {
	env := newTestEngine(t, testConfig())
	env.createUser(t, "u1", "ada@example.com")
	ctx := clientCtx("10.0.0.1")

	issued, err := env.engine.IssueResetToken(ctx, "u1")
	if err != nil {
		t.Fatalf("IssueResetToken failed: %v", err)
	}
	if _, err := env.engine.ConsumeResetToken(ctx, issued.Token, "short"); !errors.Is(err, ErrPasswordPolicy) {
		t.Fatalf("expected ErrPasswordPolicy, got %v", err)
	}
	if _, err := env.engine.ConsumeResetToken(ctx, issued.Token, "long enough password"); err != nil {
		t.Fatalf("token must survive a policy failure, got %v", err)
	}
}

func TestPasswordResetClearsPrincipalLimiter(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.Rules[RateLoginByPrincipal.String()] = RateRule{MaxAttempts: 2, Window: time.Minute, Block: time.Hour}
	env := newTestEngine(t, cfg)
	env.createUser(t, "u1", "ada@example.com")
	ctx := clientCtx("10.0.0.1")

	for i := 0; i < 3; i++ {
		_ = env.engine.CheckRateLimit(ctx, RateLoginByPrincipal, "ada@example.com")
	}
	if err := env.engine.CheckRateLimit(ctx, RateLoginByPrincipal, "ada@example.com"); !errors.Is(err, ErrRateLimitExceeded) {
		t.Fatalf("expected principal blocked, got %v", err)
	}

	issued, err := env.engine.IssueResetToken(ctx, "u1")
	if err != nil {
		t.Fatalf("IssueResetToken failed: %v", err)
	}
	if _, err := env.engine.ConsumeResetToken(ctx, issued.Token, "a brand new password"); err != nil {
		t.Fatalf("ConsumeResetToken failed: %v", err)
	}
	if err := env.engine.CheckRateLimit(ctx, RateLoginByPrincipal, "ADA@example.com "); err != nil {
		t.Fatalf("expected principal limiter cleared by reset, got %v", err)
	}
}

func TestConcurrentConsumeHasOneSuccess(t *testing.T) {
	env := newTestEngine(t, testConfig())
	env.createUser(t, "u1", "ada@example.com")
	ctx := clientCtx("10.0.0.1")

	issued, err := env.engine.IssueVerificationToken(ctx, "u1")
	if err != nil {
		t.Fatalf("IssueVerificationToken failed: %v", err)
	}

	var (
		wg        sync.WaitGroup
		successes atomic.Int32
	)
	start := make(chan struct{})
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := env.engine.ConsumeVerificationToken(ctx, issued.Token)
			if err == nil {
				successes.Add(1)
				return
			}
			if !errors.Is(err, ErrTokenAlreadyUsed) {
				t.Errorf("unexpected loser error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if successes.Load() != 1 {
		t.Fatalf("expected exactly one success, got %d", successes.Load())
	}
	user, err := env.db.UserByID(context.Background(), "u1")
	if err != nil {
		t.Fatalf("UserByID failed: %v", err)
	}
	if user.EmailVerifiedAt == nil {
		t.Fatal("email not marked verified")
	}
}

func TestTokenPurposesDoNotCross(t *testing.T) {
	env := newTestEngine(t, testConfig())
	env.createUser(t, "u1", "ada@example.com")
	ctx := clientCtx("10.0.0.1")

	reset, err := env.engine.IssueResetToken(ctx, "u1")
	if err != nil {
		t.Fatalf("IssueResetToken failed: %v", err)
	}
	verify, err := env.engine.IssueVerificationToken(ctx, "u1")
	if err != nil {
		t.Fatalf("IssueVerificationToken failed: %v", err)
	}
	session, err := env.engine.CreateSession(ctx, "u1", false)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	if _, err := env.engine.ConsumeVerificationToken(ctx, reset.Token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("reset token accepted as verification: %v", err)
	}
	if _, err := env.engine.ConsumeResetToken(ctx, verify.Token, "long enough password"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("verification token accepted as reset: %v", err)
	}
	if _, err := env.engine.RotateSession(ctx, reset.Token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("reset token accepted as refresh: %v", err)
	}
	if _, err := env.engine.ConsumeResetToken(ctx, session.RefreshToken, "long enough password"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("refresh token accepted as reset: %v", err)
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	env := newTestEngine(t, testConfig())
	env.createUser(t, "u1", "ada@example.com")
	ctx := clientCtx("10.0.0.1")

	issued, err := env.engine.IssueVerificationToken(ctx, "u1")
	if err != nil {
		t.Fatalf("IssueVerificationToken failed: %v", err)
	}
	env.clock.Advance(24*time.Hour + time.Second)

	_, err = env.engine.ConsumeVerificationToken(ctx, issued.Token)
	if err == nil {
		t.Fatal("expired token accepted")
	}
	if !errors.Is(PublicError(err), ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestIssuedTokensAreIndependent(t *testing.T) {
	env := newTestEngine(t, testConfig())
	env.createUser(t, "u1", "ada@example.com")
	ctx := clientCtx("10.0.0.1")

	a, err := env.engine.IssueVerificationToken(ctx, "u1")
	if err != nil {
		t.Fatalf("issue a: %v", err)
	}
	b, err := env.engine.IssueVerificationToken(ctx, "u1")
	if err != nil {
		t.Fatalf("issue b: %v", err)
	}
	if a.ID == b.ID || a.Token == b.Token {
		t.Fatal("tokens must be distinct")
	}
	if _, err := env.engine.ConsumeVerificationToken(ctx, a.Token); err != nil {
		t.Fatalf("consume a: %v", err)
	}
	if _, err := env.engine.ConsumeVerificationToken(ctx, b.Token); err != nil {
		t.Fatalf("consume b: %v", err)
	}
}

func TestResetForUnknownUserBurnsToken(t *testing.T) {
	env := newTestEngine(t, testConfig())
	ctx := clientCtx("10.0.0.1")

	issued, err := env.engine.IssueResetToken(ctx, "ghost")
	if err != nil {
		t.Fatalf("IssueResetToken failed: %v", err)
	}
	if _, err := env.engine.ConsumeResetToken(ctx, issued.Token, "long enough password"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
	if _, err := env.engine.ConsumeResetToken(ctx, issued.Token, "long enough password"); !errors.Is(err, ErrTokenAlreadyUsed) {
		t.Fatalf("expected ErrTokenAlreadyUsed, got %v", err)
	}
	if env.engine.MetricsSnapshot().Counters[MetricResetFailure] != 2 {
		t.Fatalf("unexpected failure count %d", env.engine.MetricsSnapshot().Counters[MetricResetFailure])
	}
}
