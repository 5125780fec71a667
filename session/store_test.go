package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/authcore/token"
)

var baseTime = time.Unix(1_700_000_000, 0)

func newTestStore(t *testing.T) (*Store, *fakeRepo) {
	t.Helper()
	codec, err := token.New(token.Config{Purpose: token.PurposeRefresh, Key: []byte("0123456789abcdef0123456789abcdef")})
	if err != nil {
		t.Fatalf("token.New failed: %v", err)
	}
	repo := newFakeRepo()
	store, err := NewStore(repo, codec, Config{
		DefaultTTL:    24 * time.Hour,
		RememberMeTTL: 30 * 24 * time.Hour,
		Timeout:       time.Second,
	}, nil)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	return store, repo
}

func TestCreateStoresHashOnly(t *testing.T) {
	store, repo := newTestStore(t)
	ctx := context.Background()

	sess, value, err := store.Create(ctx, CreateParams{UserID: "u1", IP: "10.0.0.1", UserAgent: "ua", DeviceID: "d1"}, baseTime)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if value == "" {
		t.Fatal("expected framed token")
	}

	row := repo.get(sess.ID)
	if row == nil {
		t.Fatal("expected persisted row")
	}
	if row.RefreshHash == "" || len(row.RefreshHash) != 64 {
		t.Fatalf("expected hex hash, got %q", row.RefreshHash)
	}
	if !row.ExpiresAt.Equal(baseTime.Add(24 * time.Hour)) {
		t.Fatalf("unexpected expiry %v", row.ExpiresAt)
	}

	remembered, _, err := store.Create(ctx, CreateParams{UserID: "u1", RememberMe: true}, baseTime)
	if err != nil {
		t.Fatalf("Create(rememberMe) failed: %v", err)
	}
	if !remembered.ExpiresAt.Equal(baseTime.Add(30 * 24 * time.Hour)) {
		t.Fatalf("expected remember-me ttl, got %v", remembered.ExpiresAt)
	}
}

func TestRotateLinksSuccessor(t *testing.T) {
	store, repo := newTestStore(t)
	ctx := context.Background()

	first, value, err := store.Create(ctx, CreateParams{UserID: "u1", IP: "10.0.0.1", UserAgent: "ua", DeviceID: "d1"}, baseTime)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	at := baseTime.Add(time.Hour)
	next, nextValue, err := store.Rotate(ctx, value, "10.0.0.2", "ua", at)
	if err != nil {
		t.Fatalf("Rotate failed: %v", err)
	}
	if nextValue == value {
		t.Fatal("expected a new token")
	}
	if next.ParentID != first.ID {
		t.Fatalf("expected parent %q, got %q", first.ID, next.ParentID)
	}
	if next.DeviceID != "d1" || next.UserAgent != "ua" || next.LastUsedIP != "10.0.0.2" {
		t.Fatalf("unexpected successor fields: %+v", next)
	}
	if !next.ExpiresAt.Equal(at.Add(24 * time.Hour)) {
		t.Fatalf("expected fresh ttl, got %v", next.ExpiresAt)
	}

	old := repo.get(first.ID)
	if !old.WasRotated() || old.SuccessorID != next.ID {
		t.Fatalf("expected old row rotated to %q, got %+v", next.ID, old)
	}
	if old.LastUsedIP != "10.0.0.2" {
		t.Fatalf("expected old row last-used ip updated, got %q", old.LastUsedIP)
	}
}

func TestReplayOfEarlierRotationRevokesLineage(t *testing.T) {
	store, repo := newTestStore(t)
	ctx := context.Background()

	_, value, err := store.Create(ctx, CreateParams{UserID: "u1"}, baseTime)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	const rotations = 5
	values := []string{value}
	ids := []string{}
	now := baseTime
	for i := 0; i < rotations; i++ {
		now = now.Add(time.Minute)
		next, nextValue, err := store.Rotate(ctx, values[len(values)-1], "ip", "ua", now)
		if err != nil {
			t.Fatalf("Rotate %d failed: %v", i, err)
		}
		values = append(values, nextValue)
		ids = append(ids, next.ID)
	}

	now = now.Add(time.Minute)
	_, _, err = store.Rotate(ctx, values[2], "ip", "ua", now)
	if !errors.Is(err, ErrReuseDetected) {
		t.Fatalf("expected ErrReuseDetected, got %v", err)
	}
	var rerr *ReuseError
	if !errors.As(err, &rerr) || rerr.UserID != "u1" {
		t.Fatalf("expected ReuseError with user context, got %v", err)
	}

	for _, id := range ids {
		row := repo.get(id)
		if row.RevokedAt == nil {
			t.Fatalf("expected %s revoked", id)
		}
	}
	tail := repo.get(ids[len(ids)-1])
	if tail.RevokeReason != ReasonReuseDetected {
		t.Fatalf("expected tail revoked for reuse, got %q", tail.RevokeReason)
	}

	if _, _, err := store.Rotate(ctx, values[len(values)-1], "ip", "ua", now); !errors.Is(err, ErrRevoked) {
		t.Fatalf("expected latest token to fail with ErrRevoked, got %v", err)
	}
}

func TestSecretMismatchOnActiveRowMarksReuse(t *testing.T) {
	store, repo := newTestStore(t)
	ctx := context.Background()

	sess, _, err := store.Create(ctx, CreateParams{UserID: "u1"}, baseTime)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	forged, err := store.codec.Encode(token.Claims{ID: sess.ID, Secret: []byte("guessed-secret"), ExpiresAt: sess.ExpiresAt})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	if _, _, err := store.Rotate(ctx, forged, "ip", "ua", baseTime.Add(time.Minute)); !errors.Is(err, ErrReuseDetected) {
		t.Fatalf("expected ErrReuseDetected, got %v", err)
	}
	row := repo.get(sess.ID)
	if row.ReuseDetectedAt == nil {
		t.Fatal("expected reuse-detected-at to be set")
	}
	if row.RevokeReason != ReasonReuseDetected {
		t.Fatalf("expected reuse-detected revoke, got %q", row.RevokeReason)
	}
}

func TestConcurrentRotateSingleWinner(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	_, value, err := store.Create(ctx, CreateParams{UserID: "u1"}, baseTime)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	const workers = 16
	start := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(workers)
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			<-start
			_, _, err := store.Rotate(ctx, value, "ip", "ua", baseTime.Add(time.Minute))
			results <- err
		}()
	}
	close(start)
	wg.Wait()
	close(results)

	success := 0
	for err := range results {
		switch {
		case err == nil:
			success++
		case errors.Is(err, ErrReuseDetected), errors.Is(err, ErrRevoked):
		default:
			t.Fatalf("unexpected rotate error: %v", err)
		}
	}
	if success != 1 {
		t.Fatalf("expected exactly one winner, got %d", success)
	}
}

func TestRotateRejectsRevokedAndUnknown(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	sess, value, err := store.Create(ctx, CreateParams{UserID: "u1"}, baseTime)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := store.Revoke(ctx, sess.ID, ReasonLogout, baseTime); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	if err := store.Revoke(ctx, sess.ID, ReasonAdmin, baseTime); err != nil {
		t.Fatalf("second Revoke should be idempotent: %v", err)
	}
	if _, _, err := store.Rotate(ctx, value, "ip", "ua", baseTime); !errors.Is(err, ErrRevoked) {
		t.Fatalf("expected ErrRevoked, got %v", err)
	}

	unknown, err := store.codec.Encode(token.Claims{ID: "missing", Secret: []byte("s"), ExpiresAt: baseTime.Add(time.Hour)})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if _, _, err := store.Rotate(ctx, unknown, "ip", "ua", baseTime); !errors.Is(err, token.ErrInvalid) {
		t.Fatalf("expected token.ErrInvalid for unknown session, got %v", err)
	}
	if _, _, err := store.Rotate(ctx, "garbage", "ip", "ua", baseTime); !errors.Is(err, token.ErrInvalid) {
		t.Fatalf("expected token.ErrInvalid for garbage, got %v", err)
	}
	if err := store.Revoke(ctx, "missing", ReasonLogout, baseTime); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRotateAfterExpiryIsRejected(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	_, value, err := store.Create(ctx, CreateParams{UserID: "u1"}, baseTime)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	_, _, err = store.Rotate(ctx, value, "ip", "ua", baseTime.Add(25*time.Hour))
	if !errors.Is(err, token.ErrInvalid) && !errors.Is(err, ErrExpired) {
		t.Fatalf("expected expired session to be rejected, got %v", err)
	}
}

func TestStateAt(t *testing.T) {
	now := baseTime
	s := &Session{ExpiresAt: now.Add(time.Minute)}
	if s.StateAt(now) != StateActive {
		t.Fatal("expected active")
	}
	if s.StateAt(now.Add(time.Minute)) != StateExpired {
		t.Fatal("expected expired at boundary")
	}
	revokedAt := now
	s.RevokedAt = &revokedAt
	if s.StateAt(now.Add(time.Hour)) != StateRevoked {
		t.Fatal("expected revoked to win over expired")
	}
}

func TestRevokeAllForUser(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	var values []string
	for i := 0; i < 3; i++ {
		_, v, err := store.Create(ctx, CreateParams{UserID: "u1"}, baseTime)
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		values = append(values, v)
	}
	if _, _, err := store.Create(ctx, CreateParams{UserID: "u2"}, baseTime); err != nil {
		t.Fatalf("Create(u2) failed: %v", err)
	}

	n, err := store.RevokeAllForUser(ctx, "u1", ReasonPasswordReset, baseTime.Add(time.Minute))
	if err != nil {
		t.Fatalf("RevokeAllForUser failed: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 revoked, got %d", n)
	}
	for _, v := range values {
		if _, _, err := store.Rotate(ctx, v, "ip", "ua", baseTime.Add(2*time.Minute)); !errors.Is(err, ErrRevoked) {
			t.Fatalf("expected ErrRevoked after revoke-all, got %v", err)
		}
	}

	active, err := store.ListActiveForUser(ctx, "u2", baseTime.Add(time.Minute))
	if err != nil {
		t.Fatalf("ListActiveForUser failed: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("expected u2 untouched, got %d active", len(active))
	}
}

func TestRepositoryFailureIsUnavailable(t *testing.T) {
	store, repo := newTestStore(t)
	ctx := context.Background()

	_, value, err := store.Create(ctx, CreateParams{UserID: "u1"}, baseTime)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	repo.setFail(errors.New("connection refused"))
	if _, _, err := store.Rotate(ctx, value, "ip", "ua", baseTime); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if _, err := store.RevokeAllForUser(ctx, "u1", ReasonAdmin, baseTime); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestInterruptedContainmentResumesOnNextRotation(t *testing.T) {
	store, repo := newTestStore(t)
	ctx := context.Background()

	root, first, err := store.Create(ctx, CreateParams{UserID: "u1"}, baseTime)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	next, second, err := store.Rotate(ctx, first, "ip", "ua", baseTime.Add(time.Minute))
	if err != nil {
		t.Fatalf("Rotate failed: %v", err)
	}
	if next.LineageID != root.ID {
		t.Fatalf("expected successor lineage %q, got %q", root.ID, next.LineageID)
	}

	repo.setFailRevoke(errors.New("connection reset"))
	_, _, err = store.Rotate(ctx, first, "ip", "ua", baseTime.Add(2*time.Minute))
	if !errors.Is(err, ErrReuseDetected) {
		t.Fatalf("expected ErrReuseDetected, got %v", err)
	}
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected interrupted containment to report ErrUnavailable, got %v", err)
	}
	if repo.get(next.ID).RevokedAt != nil {
		t.Fatal("expected successor to survive the failed revoke")
	}

	repo.setFailRevoke(nil)
	_, _, err = store.Rotate(ctx, second, "ip", "ua", baseTime.Add(3*time.Minute))
	if !errors.Is(err, ErrReuseDetected) {
		t.Fatalf("expected rotation of a flagged lineage to fail with ErrReuseDetected, got %v", err)
	}
	if errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected completed containment, got %v", err)
	}
	row := repo.get(next.ID)
	if row.RevokedAt == nil || row.RevokeReason != ReasonReuseDetected {
		t.Fatalf("expected successor revoked for reuse, got %+v", row)
	}
	if _, _, err := store.Rotate(ctx, second, "ip", "ua", baseTime.Add(4*time.Minute)); !errors.Is(err, ErrRevoked) {
		t.Fatalf("expected ErrRevoked after containment, got %v", err)
	}
}
