package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"campus/auth-identity/internal/model"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrDuplicateEmail = errors.New("duplicate email")
)

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (model.User, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, email, password_hash, first_name, last_name, active, mfa_enabled, last_login_at, created_at, updated_at
		FROM users
		WHERE lower(email) = lower($1)
	`, email)
	return scanUser(row)
}

func (s *Store) GetUserByID(ctx context.Context, userID string) (model.User, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, email, password_hash, first_name, last_name, active, mfa_enabled, last_login_at, created_at, updated_at
		FROM users
		WHERE id = $1
	`, userID)
	return scanUser(row)
}

func scanUser(row pgx.Row) (model.User, error) {
	var user model.User
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&user.FirstName,
		&user.LastName,
		&user.Active,
		&user.MFAEnabled,
		&user.LastLoginAt,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.User{}, ErrNotFound
	}
	return user, err
}

func (s *Store) CreateUser(ctx context.Context, user model.User, roles []model.RoleAssignment) error {
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO users (id, email, password_hash, first_name, last_name, active, mfa_enabled, created_at, updated_at)
			VALUES ($1, lower($2), $3, $4, $5, $6, $7, $8, $9)
		`, user.ID, user.Email, user.PasswordHash, user.FirstName, user.LastName, user.Active, user.MFAEnabled, user.CreatedAt, user.UpdatedAt)
		if err != nil {
			return err
		}
		for _, role := range roles {
			_, err := tx.Exec(ctx, `
				INSERT INTO role_assignments (id, user_id, role, school_id)
				VALUES ($1, $2, $3, $4)
			`, role.ID, role.UserID, role.Role, role.SchoolID)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if isUniqueViolation(err) {
		return ErrDuplicateEmail
	}
	return err
}

func (s *Store) UpdatePasswordHash(ctx context.Context, userID, hash string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE users SET password_hash = $1, updated_at = $2 WHERE id = $3
	`, hash, at, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ActivateUser sets the password and flips the account active. Used when
// an invitation is accepted.
func (s *Store) ActivateUser(ctx context.Context, userID, hash string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE users SET password_hash = $1, active = true, updated_at = $2 WHERE id = $3
	`, hash, at, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) TouchLastLogin(ctx context.Context, userID string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE users SET last_login_at = $1 WHERE id = $2
	`, at, userID)
	return err
}

func (s *Store) GetRoleAssignments(ctx context.Context, userID string) ([]model.RoleAssignment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, role, school_id
		FROM role_assignments
		WHERE user_id = $1
		ORDER BY id
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assignments []model.RoleAssignment
	for rows.Next() {
		var assignment model.RoleAssignment
		if err := rows.Scan(&assignment.ID, &assignment.UserID, &assignment.Role, &assignment.SchoolID); err != nil {
			return nil, err
		}
		assignments = append(assignments, assignment)
	}
	return assignments, rows.Err()
}

func (s *Store) GetSchoolIdentifier(ctx context.Context, schoolID string) (string, error) {
	var identifier string
	err := s.pool.QueryRow(ctx, `SELECT identifier FROM schools WHERE id = $1`, schoolID).Scan(&identifier)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	return identifier, err
}

// CreatePendingSession replaces any open MFA challenge for the user: a
// newer login always overwrites the previous pending state.
func (s *Store) CreatePendingSession(ctx context.Context, session model.Session) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			DELETE FROM sessions WHERE user_id = $1 AND phase = 'pending'
		`, session.UserID)
		if err != nil {
			return err
		}
		return insertSession(ctx, tx, session)
	})
}

func (s *Store) CreateFinalSession(ctx context.Context, session model.Session) error {
	return insertSession(ctx, s.pool, session)
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertSession(ctx context.Context, db execer, session model.Session) error {
	_, err := db.Exec(ctx, `
		INSERT INTO sessions (id, user_id, token_hash, phase, code_hash, code_expires_at, attempts, created_at, expires_at, revoked_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, session.ID, session.UserID, session.TokenHash, session.Phase, session.CodeHash, session.CodeExpiresAt,
		session.Attempts, session.CreatedAt, session.ExpiresAt, session.RevokedAt)
	return err
}

func (s *Store) GetSessionByTokenHash(ctx context.Context, tokenHash string) (model.Session, error) {
	var session model.Session
	row := s.pool.QueryRow(ctx, `
		SELECT id, user_id, token_hash, phase, code_hash, code_expires_at, attempts, created_at, expires_at, revoked_at
		FROM sessions
		WHERE token_hash = $1
	`, tokenHash)
	err := row.Scan(
		&session.ID,
		&session.UserID,
		&session.TokenHash,
		&session.Phase,
		&session.CodeHash,
		&session.CodeExpiresAt,
		&session.Attempts,
		&session.CreatedAt,
		&session.ExpiresAt,
		&session.RevokedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Session{}, ErrNotFound
	}
	return session, err
}

// ClearSessionCode drops the code hash but keeps the code expiry, so a
// repeated check after expiry reports expiry again rather than a missing
// challenge. Conditional on the hash the caller saw: a resend landing
// after the read keeps its fresh code.
func (s *Store) ClearSessionCode(ctx context.Context, sessionID, codeHash string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sessions SET code_hash = NULL WHERE id = $1 AND code_hash = $2
	`, sessionID, codeHash)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ConsumeSessionCode clears both code fields after a successful
// verification; the pending row stays behind so a replayed verify sees
// "no pending code" instead of a session error. Conditional on the hash
// that was verified: returns false when a concurrent resend already
// replaced the code, in which case the submitted code is superseded.
func (s *Store) ConsumeSessionCode(ctx context.Context, sessionID, codeHash string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sessions SET code_hash = NULL, code_expires_at = NULL WHERE id = $1 AND code_hash = $2
	`, sessionID, codeHash)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ReplaceSessionCode swaps in a fresh code conditionally on the current
// token hash, so a resend racing a verify cannot resurrect a stale
// challenge. Returns false when the pending session is gone.
func (s *Store) ReplaceSessionCode(ctx context.Context, tokenHash, codeHash string, expiresAt time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sessions
		SET code_hash = $1, code_expires_at = $2, attempts = 0
		WHERE token_hash = $3 AND phase = 'pending' AND revoked_at IS NULL
	`, codeHash, expiresAt, tokenHash)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// IncrementSessionAttempts bumps the per-challenge failure counter
// atomically and returns the new value.
func (s *Store) IncrementSessionAttempts(ctx context.Context, sessionID string) (int, error) {
	var attempts int
	err := s.pool.QueryRow(ctx, `
		UPDATE sessions SET attempts = attempts + 1 WHERE id = $1 RETURNING attempts
	`, sessionID).Scan(&attempts)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	return attempts, err
}

// RotateSessionToken swaps the token hash conditionally on the current
// one; the old token stops matching in the same statement.
func (s *Store) RotateSessionToken(ctx context.Context, oldHash, newHash string, expiresAt time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sessions
		SET token_hash = $1, expires_at = $2
		WHERE token_hash = $3 AND phase = 'final' AND revoked_at IS NULL
	`, newHash, expiresAt, oldHash)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) RevokeSessionByTokenHash(ctx context.Context, tokenHash string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE sessions SET revoked_at = $1 WHERE token_hash = $2 AND revoked_at IS NULL
	`, at, tokenHash)
	return err
}

func (s *Store) RevokeUserSessions(ctx context.Context, userID string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE sessions SET revoked_at = $1 WHERE user_id = $2 AND revoked_at IS NULL
	`, at, userID)
	return err
}

func (s *Store) withTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

// isUniqueViolation detects PostgreSQL unique constraint violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
