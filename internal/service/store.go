package service

import (
	"context"
	"time"

	"campus/auth-identity/internal/model"
)

// Store is the credential-store contract. Implemented by
// repository.Store; implementations signal missing rows with
// repository.ErrNotFound and unique-email conflicts with
// repository.ErrDuplicateEmail.
type Store interface {
	GetUserByEmail(ctx context.Context, email string) (model.User, error)
	GetUserByID(ctx context.Context, userID string) (model.User, error)
	CreateUser(ctx context.Context, user model.User, roles []model.RoleAssignment) error
	UpdatePasswordHash(ctx context.Context, userID, hash string, at time.Time) error
	ActivateUser(ctx context.Context, userID, hash string, at time.Time) error
	TouchLastLogin(ctx context.Context, userID string, at time.Time) error

	GetRoleAssignments(ctx context.Context, userID string) ([]model.RoleAssignment, error)
	GetSchoolIdentifier(ctx context.Context, schoolID string) (string, error)

	CreatePendingSession(ctx context.Context, session model.Session) error
	CreateFinalSession(ctx context.Context, session model.Session) error
	GetSessionByTokenHash(ctx context.Context, tokenHash string) (model.Session, error)
	ClearSessionCode(ctx context.Context, sessionID, codeHash string) (bool, error)
	ConsumeSessionCode(ctx context.Context, sessionID, codeHash string) (bool, error)
	ReplaceSessionCode(ctx context.Context, tokenHash, codeHash string, expiresAt time.Time) (bool, error)
	IncrementSessionAttempts(ctx context.Context, sessionID string) (int, error)
	RotateSessionToken(ctx context.Context, oldHash, newHash string, expiresAt time.Time) (bool, error)
	RevokeSessionByTokenHash(ctx context.Context, tokenHash string, at time.Time) error
	RevokeUserSessions(ctx context.Context, userID string, at time.Time) error
}
