package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/MrEthical07/authcore/internal/stores"
	"github.com/MrEthical07/authcore/token"
)

var _ stores.TokenRepository = (*DB)(nil)

// LoadToken returns the token row with id, or stores.ErrNotFound.
func (db *DB) LoadToken(ctx context.Context, id string) (*stores.Record, error) {
	query := `SELECT id, purpose, user_id, secret_hash, created_at, expires_at, used_at,
		requested_ip, requested_user_agent, used_ip, used_user_agent
		FROM single_use_tokens WHERE id = ?`

	var (
		r                    stores.Record
		purpose              string
		createdAt, expiresAt int64
		usedAt               sql.NullInt64
	)
	err := db.conn.QueryRowContext(ctx, db.rebind(query), id).Scan(
		&r.ID, &purpose, &r.UserID, &r.SecretHash, &createdAt, &expiresAt, &usedAt,
		&r.RequestedIP, &r.RequestedUserAgent, &r.UsedIP, &r.UsedUserAgent,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, stores.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load single-use token: %w", err)
	}

	r.Purpose = token.Purpose(purpose)
	r.CreatedAt = fromMillis(createdAt)
	r.ExpiresAt = fromMillis(expiresAt)
	r.UsedAt = fromNullMillis(usedAt)
	return &r, nil
}

// InsertToken writes a new token row.
func (db *DB) InsertToken(ctx context.Context, r *stores.Record) error {
	query := `INSERT INTO single_use_tokens (id, purpose, user_id, secret_hash, created_at, expires_at,
		used_at, requested_ip, requested_user_agent, used_ip, used_user_agent)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := db.conn.ExecContext(ctx, db.rebind(query),
		r.ID, string(r.Purpose), r.UserID, r.SecretHash, millis(r.CreatedAt), millis(r.ExpiresAt),
		nullMillis(r.UsedAt), r.RequestedIP, r.RequestedUserAgent, r.UsedIP, r.UsedUserAgent,
	)
	if err != nil {
		return fmt.Errorf("failed to insert single-use token: %w", err)
	}
	return nil
}

// MarkTokenUsed is the only redemption gate: the update applies while
// used_at is still null, so exactly one concurrent caller sees a changed row.
func (db *DB) MarkTokenUsed(ctx context.Context, r stores.Redemption) (bool, error) {
	res, err := db.conn.ExecContext(ctx, db.rebind(`
		UPDATE single_use_tokens SET used_at = ?, used_ip = ?, used_user_agent = ?
		WHERE id = ? AND used_at IS NULL`),
		millis(r.Now), r.IP, r.UserAgent, r.ID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark single-use token used: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n == 1, nil
}

// ReleaseToken undoes one MarkTokenUsed. The used_at match keeps it from
// clearing a redemption it did not write.
func (db *DB) ReleaseToken(ctx context.Context, r stores.Redemption) (bool, error) {
	res, err := db.conn.ExecContext(ctx, db.rebind(`
		UPDATE single_use_tokens SET used_at = NULL, used_ip = '', used_user_agent = ''
		WHERE id = ? AND used_at = ?`),
		r.ID, millis(r.Now),
	)
	if err != nil {
		return false, fmt.Errorf("failed to release single-use token: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n == 1, nil
}
