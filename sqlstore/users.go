package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrEmailTaken   = errors.New("email already registered")
)

// User is the minimal account row the token effects mutate.
type User struct {
	ID              string
	Email           string
	PasswordHash    string
	EmailVerifiedAt *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (db *DB) CreateUser(ctx context.Context, u *User) error {
	if u.ID == "" || u.Email == "" {
		return errors.New("sqlstore: user id and email are required")
	}
	u.Email = normalizeEmail(u.Email)

	var exists int
	err := db.conn.QueryRowContext(ctx, db.rebind(`SELECT 1 FROM users WHERE email = ?`), u.Email).Scan(&exists)
	if err == nil {
		return ErrEmailTaken
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to check email: %w", err)
	}

	_, err = db.conn.ExecContext(ctx, db.rebind(`
		INSERT INTO users (id, email, password_hash, email_verified_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`),
		u.ID, u.Email, u.PasswordHash, nullMillis(u.EmailVerifiedAt), millis(u.CreatedAt), millis(u.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (db *DB) scanUser(row *sql.Row) (*User, error) {
	var (
		u                  User
		verified           sql.NullInt64
		createdAt, updated int64
	)
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &verified, &createdAt, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	u.EmailVerifiedAt = fromNullMillis(verified)
	u.CreatedAt = fromMillis(createdAt)
	u.UpdatedAt = fromMillis(updated)
	return &u, nil
}

func (db *DB) UserByID(ctx context.Context, id string) (*User, error) {
	return db.scanUser(db.conn.QueryRowContext(ctx, db.rebind(`
		SELECT id, email, password_hash, email_verified_at, created_at, updated_at
		FROM users WHERE id = ?`), id))
}

func (db *DB) UserByEmail(ctx context.Context, email string) (*User, error) {
	return db.scanUser(db.conn.QueryRowContext(ctx, db.rebind(`
		SELECT id, email, password_hash, email_verified_at, created_at, updated_at
		FROM users WHERE email = ?`), normalizeEmail(email)))
}

// PrincipalFor returns the login principal of userID, its email.
func (db *DB) PrincipalFor(ctx context.Context, userID string) (string, error) {
	var email string
	err := db.conn.QueryRowContext(ctx, db.rebind(`SELECT email FROM users WHERE id = ?`), userID).Scan(&email)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrUserNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to load principal: %w", err)
	}
	return email, nil
}

// UpdatePasswordHash replaces the stored hash of userID.
func (db *DB) UpdatePasswordHash(ctx context.Context, userID, hash string, now time.Time) error {
	res, err := db.conn.ExecContext(ctx, db.rebind(`
		UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?`),
		hash, millis(now), userID,
	)
	if err != nil {
		return fmt.Errorf("failed to update password hash: %w", err)
	}
	return requireOne(res)
}

// MarkEmailVerified sets email_verified_at once; later calls keep the first
// timestamp.
func (db *DB) MarkEmailVerified(ctx context.Context, userID string, now time.Time) error {
	res, err := db.conn.ExecContext(ctx, db.rebind(`
		UPDATE users SET email_verified_at = COALESCE(email_verified_at, ?), updated_at = ? WHERE id = ?`),
		millis(now), millis(now), userID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark email verified: %w", err)
	}
	return requireOne(res)
}

func requireOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return ErrUserNotFound
	}
	return nil
}
