package service

import (
	"time"

	"campus/auth-identity/internal/model"
)

type UserInfo struct {
	ID         string
	Email      string
	FirstName  string
	LastName   string
	MFAEnabled bool
}

// AuthContext is the full authenticated view returned by a completed
// login, a successful verification, or a session validation.
type AuthContext struct {
	User                    UserInfo
	Roles                   []model.RoleAssignment
	PrimaryRole             string
	PrimarySchoolID         string
	PrimarySchoolIdentifier string
	SessionToken            string
	SessionExpiresAt        time.Time
}

// LoginResult carries one of the two login outcomes: an MFA challenge
// (pending token, no usable session yet) or a full context.
type LoginResult struct {
	MFARequired         bool
	UserID              string
	PendingSessionToken string
	Context             *AuthContext
}

// ValidationResult is binary by design: an invalid token carries no
// detail. When Rotated is set the caller must persist the new token in
// Context.SessionToken and discard the old one.
type ValidationResult struct {
	Valid   bool
	Rotated bool
	Context *AuthContext
}

type CreateAccountInput struct {
	Email      string
	FirstName  string
	LastName   string
	Role       string
	SchoolID   string
	MFAEnabled bool
	// Invite selects the invitation flow: the account starts inactive
	// and the caller receives a signed token instead of a password.
	Invite bool
}

type CreateAccountResult struct {
	User              UserInfo
	Role              string
	SchoolID          string
	GeneratedPassword string
	InvitationToken   string
}
