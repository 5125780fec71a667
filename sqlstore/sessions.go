package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authcore/session"
)

const sessionColumns = `id, user_id, refresh_hash, device_id, user_agent, created_ip, last_used_ip,
	created_at, last_used_at, expires_at, revoked_at, revoke_reason, successor_id, parent_id,
	lineage_id, remember_me, reuse_detected_at`

var _ session.Repository = (*DB)(nil)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*session.Session, error) {
	var (
		s                            session.Session
		createdAt, lastUsed, expires int64
		revokedAt, reuseAt           sql.NullInt64
		reason                       string
	)
	err := row.Scan(
		&s.ID, &s.UserID, &s.RefreshHash, &s.DeviceID, &s.UserAgent, &s.CreatedIP, &s.LastUsedIP,
		&createdAt, &lastUsed, &expires, &revokedAt, &reason, &s.SuccessorID, &s.ParentID,
		&s.LineageID, &s.RememberMe, &reuseAt,
	)
	if err != nil {
		return nil, err
	}
	s.CreatedAt = fromMillis(createdAt)
	s.LastUsedAt = fromMillis(lastUsed)
	s.ExpiresAt = fromMillis(expires)
	s.RevokedAt = fromNullMillis(revokedAt)
	s.RevokeReason = session.RevokeReason(reason)
	s.ReuseDetectedAt = fromNullMillis(reuseAt)
	return &s, nil
}

// LoadSession returns the row with id, or session.ErrNotFound.
func (db *DB) LoadSession(ctx context.Context, id string) (*session.Session, error) {
	row := db.conn.QueryRowContext(ctx,
		db.rebind(`SELECT `+sessionColumns+` FROM refresh_sessions WHERE id = ?`), id)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return s, nil
}

// InsertSession writes a new session row.
func (db *DB) InsertSession(ctx context.Context, s *session.Session) error {
	if err := db.insertSession(ctx, db.conn, s); err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

func (db *DB) insertSession(ctx context.Context, q querier, s *session.Session) error {
	query := `INSERT INTO refresh_sessions (` + sessionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := q.ExecContext(ctx, db.rebind(query),
		s.ID, s.UserID, s.RefreshHash, s.DeviceID, s.UserAgent, s.CreatedIP, s.LastUsedIP,
		millis(s.CreatedAt), millis(s.LastUsedAt), millis(s.ExpiresAt),
		nullMillis(s.RevokedAt), string(s.RevokeReason), s.SuccessorID, s.ParentID,
		s.LineageID, s.RememberMe, nullMillis(s.ReuseDetectedAt),
	)
	return err
}

// RotateSession revokes the old row and inserts the successor in one
// transaction. The revoke is conditional on the row being unrevoked and still
// carrying OldHash.
func (db *DB) RotateSession(ctx context.Context, p session.RotateParams) error {
	if p.Successor == nil {
		return errors.New("sqlstore: rotate without successor")
	}
	return db.withTx(ctx, func(tx *sql.Tx) error {
		if err := db.lockUser(ctx, tx, p.Successor.UserID); err != nil {
			return err
		}

		now := millis(p.Now)
		res, err := tx.ExecContext(ctx, db.rebind(`
			UPDATE refresh_sessions
			SET revoked_at = ?, revoke_reason = ?, successor_id = ?, last_used_at = ?, last_used_ip = ?
			WHERE id = ? AND revoked_at IS NULL AND refresh_hash = ?`),
			now, string(session.ReasonRotated), p.Successor.ID, now, p.IP,
			p.OldID, p.OldHash,
		)
		if err != nil {
			return fmt.Errorf("failed to revoke rotated session: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read rows affected: %w", err)
		}
		if n == 0 {
			return session.ErrConflict
		}

		if err := db.insertSession(ctx, tx, p.Successor); err != nil {
			return fmt.Errorf("failed to insert successor session: %w", err)
		}
		return nil
	})
}

// RevokeSession revokes id if it is still live and reports whether it changed.
func (db *DB) RevokeSession(ctx context.Context, id string, reason session.RevokeReason, now time.Time) (bool, error) {
	res, err := db.conn.ExecContext(ctx, db.rebind(`
		UPDATE refresh_sessions SET revoked_at = ?, revoke_reason = ?
		WHERE id = ? AND revoked_at IS NULL`),
		millis(now), string(reason), id,
	)
	if err != nil {
		return false, fmt.Errorf("failed to revoke session: %w", err)
	}
	return db.sessionChanged(ctx, res, id)
}

// MarkSessionReuse sets reuse_detected_at once; later calls report false.
func (db *DB) MarkSessionReuse(ctx context.Context, id string, now time.Time) (bool, error) {
	res, err := db.conn.ExecContext(ctx, db.rebind(`
		UPDATE refresh_sessions SET reuse_detected_at = ?
		WHERE id = ? AND reuse_detected_at IS NULL`),
		millis(now), id,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark session reuse: %w", err)
	}
	return db.sessionChanged(ctx, res, id)
}

// LineageCompromised reports whether any row of lineageID was flagged by
// reuse detection.
func (db *DB) LineageCompromised(ctx context.Context, lineageID string) (bool, error) {
	var one int
	err := db.conn.QueryRowContext(ctx, db.rebind(`
		SELECT 1 FROM refresh_sessions
		WHERE lineage_id = ? AND reuse_detected_at IS NOT NULL
		LIMIT 1`), lineageID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check session lineage: %w", err)
	}
	return true, nil
}

// RevokeSessionsForUser revokes every live row of userID in one statement.
func (db *DB) RevokeSessionsForUser(ctx context.Context, userID string, reason session.RevokeReason, now time.Time) (int, error) {
	var n int64
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		if err := db.lockUser(ctx, tx, userID); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, db.rebind(`
			UPDATE refresh_sessions SET revoked_at = ?, revoke_reason = ?
			WHERE user_id = ? AND revoked_at IS NULL AND expires_at > ?`),
			millis(now), string(reason), userID, millis(now),
		)
		if err != nil {
			return fmt.Errorf("failed to revoke user sessions: %w", err)
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// ListSessionsForUser returns the unrevoked, unexpired rows of userID.
func (db *DB) ListSessionsForUser(ctx context.Context, userID string, now time.Time) ([]*session.Session, error) {
	rows, err := db.conn.QueryContext(ctx, db.rebind(`
		SELECT `+sessionColumns+` FROM refresh_sessions
		WHERE user_id = ? AND revoked_at IS NULL AND expires_at > ?
		ORDER BY created_at`),
		userID, millis(now),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var out []*session.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %w", err)
	}
	return out, nil
}

// sessionChanged turns a conditional update result into (changed, error),
// returning ErrNotFound when no row with id exists at all.
func (db *DB) sessionChanged(ctx context.Context, res sql.Result, id string) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n > 0 {
		return true, nil
	}

	var one int
	err = db.conn.QueryRowContext(ctx, db.rebind(`SELECT 1 FROM refresh_sessions WHERE id = ?`), id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, session.ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("failed to check session row: %w", err)
	}
	return false, nil
}
