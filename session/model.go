package session

import "time"

// RevokeReason records why a session stopped being usable.
type RevokeReason string

const (
	ReasonRotated        RevokeReason = "rotated"
	ReasonLogout         RevokeReason = "logout"
	ReasonPasswordReset  RevokeReason = "password-reset"
	ReasonPasswordChange RevokeReason = "password-change"
	ReasonReuseDetected  RevokeReason = "reuse-detected"
	ReasonCompromise     RevokeReason = "compromise"
	ReasonAdmin          RevokeReason = "admin"
)

// Valid reports whether r is one of the known reasons.
func (r RevokeReason) Valid() bool {
	switch r {
	case ReasonRotated, ReasonLogout, ReasonPasswordReset, ReasonPasswordChange,
		ReasonReuseDetected, ReasonCompromise, ReasonAdmin:
		return true
	}
	return false
}

// State is the evaluated lifecycle state of a session at a point in time.
type State uint8

const (
	StateActive State = iota
	StateRevoked
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateRevoked:
		return "revoked"
	case StateExpired:
		return "expired"
	}
	return "unknown"
}

// Session is one row in a refresh lineage. RefreshHash is the hex SHA-256
// of the live secret; the secret itself is never stored.
type Session struct {
	ID          string
	UserID      string
	RefreshHash string
	DeviceID    string
	UserAgent   string
	CreatedIP   string
	LastUsedIP  string

	CreatedAt  time.Time
	LastUsedAt time.Time
	ExpiresAt  time.Time

	RevokedAt    *time.Time
	RevokeReason RevokeReason

	SuccessorID string
	ParentID    string
	// LineageID is the id of the lineage root, shared by every successor.
	LineageID  string
	RememberMe bool

	ReuseDetectedAt *time.Time
}

// StateAt evaluates the session at now. Revocation wins over expiry.
func (s *Session) StateAt(now time.Time) State {
	if s.RevokedAt != nil {
		return StateRevoked
	}
	if !now.Before(s.ExpiresAt) {
		return StateExpired
	}
	return StateActive
}

func (s *Session) IsRevoked() bool {
	return s.RevokedAt != nil
}

// WasRotated reports whether the row was superseded by a successor.
func (s *Session) WasRotated() bool {
	return s.RevokedAt != nil && s.RevokeReason == ReasonRotated
}

// Lineage returns the lineage id, falling back to the row id for rows
// written before lineage ids existed.
func (s *Session) Lineage() string {
	if s.LineageID != "" {
		return s.LineageID
	}
	return s.ID
}

// Clone returns a deep copy so callers can't alias pointer fields.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	if s.RevokedAt != nil {
		t := *s.RevokedAt
		out.RevokedAt = &t
	}
	if s.ReuseDetectedAt != nil {
		t := *s.ReuseDetectedAt
		out.ReuseDetectedAt = &t
	}
	return &out
}
