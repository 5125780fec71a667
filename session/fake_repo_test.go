package session

import (
	"context"
	"sort"
	"sync"
	"time"
)

type fakeRepo struct {
	mu   sync.Mutex
	rows map[string]*Session
	fail error
	// failRevoke fails only RevokeSession.
	failRevoke error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{rows: make(map[string]*Session)}
}

func (r *fakeRepo) setFail(err error) {
	r.mu.Lock()
	r.fail = err
	r.mu.Unlock()
}

func (r *fakeRepo) LoadSession(_ context.Context, id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return nil, r.fail
	}
	row, ok := r.rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	return row.Clone(), nil
}

func (r *fakeRepo) InsertSession(_ context.Context, s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	r.rows[s.ID] = s.Clone()
	return nil
}

func (r *fakeRepo) RotateSession(_ context.Context, p RotateParams) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	old, ok := r.rows[p.OldID]
	if !ok || old.RevokedAt != nil || old.RefreshHash != p.OldHash {
		return ErrConflict
	}
	now := p.Now
	old.RevokedAt = &now
	old.RevokeReason = ReasonRotated
	old.SuccessorID = p.Successor.ID
	old.LastUsedAt = now
	old.LastUsedIP = p.IP
	r.rows[p.Successor.ID] = p.Successor.Clone()
	return nil
}

func (r *fakeRepo) setFailRevoke(err error) {
	r.mu.Lock()
	r.failRevoke = err
	r.mu.Unlock()
}

func (r *fakeRepo) RevokeSession(_ context.Context, id string, reason RevokeReason, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return false, r.fail
	}
	if r.failRevoke != nil {
		return false, r.failRevoke
	}
	row, ok := r.rows[id]
	if !ok {
		return false, ErrNotFound
	}
	if row.RevokedAt != nil {
		return false, nil
	}
	row.RevokedAt = &now
	row.RevokeReason = reason
	return true, nil
}

func (r *fakeRepo) MarkSessionReuse(_ context.Context, id string, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return false, r.fail
	}
	row, ok := r.rows[id]
	if !ok {
		return false, ErrNotFound
	}
	if row.ReuseDetectedAt != nil {
		return false, nil
	}
	row.ReuseDetectedAt = &now
	return true, nil
}

func (r *fakeRepo) LineageCompromised(_ context.Context, lineageID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return false, r.fail
	}
	for _, row := range r.rows {
		if row.Lineage() == lineageID && row.ReuseDetectedAt != nil {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeRepo) RevokeSessionsForUser(_ context.Context, userID string, reason RevokeReason, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return 0, r.fail
	}
	n := 0
	for _, row := range r.rows {
		if row.UserID == userID && row.RevokedAt == nil && now.Before(row.ExpiresAt) {
			t := now
			row.RevokedAt = &t
			row.RevokeReason = reason
			n++
		}
	}
	return n, nil
}

func (r *fakeRepo) ListSessionsForUser(_ context.Context, userID string, now time.Time) ([]*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return nil, r.fail
	}
	var out []*Session
	for _, row := range r.rows {
		if row.UserID == userID && row.StateAt(now) == StateActive {
			out = append(out, row.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *fakeRepo) get(id string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rows[id].Clone()
}
