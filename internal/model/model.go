package model

import "time"

type User struct {
	ID           string
	Email        string
	PasswordHash string
	FirstName    string
	LastName     string
	Active       bool
	MFAEnabled   bool
	LastLoginAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Role tags, ordered by descending privilege.
const (
	RoleGlobalAdmin = "global_admin"
	RoleSchoolAdmin = "school_admin"
	RoleSchoolStaff = "school_staff"
	RoleTeacher     = "teacher"
	RoleStudent     = "student"
)

// RolePrecedence drives primary-role selection: the first tag a user
// holds an assignment for wins.
var RolePrecedence = []string{
	RoleGlobalAdmin,
	RoleSchoolAdmin,
	RoleSchoolStaff,
	RoleTeacher,
	RoleStudent,
}

func ValidRole(role string) bool {
	for _, known := range RolePrecedence {
		if role == known {
			return true
		}
	}
	return false
}

type RoleAssignment struct {
	ID       string
	UserID   string
	Role     string
	SchoolID *string
}

type School struct {
	ID         string
	Identifier string
}

// Session phases. A pending session authorizes only verify/resend for
// its user; a final session authorizes protected operations.
const (
	PhasePending = "pending"
	PhaseFinal   = "final"
)

type Session struct {
	ID            string
	UserID        string
	TokenHash     string
	Phase         string
	CodeHash      *string
	CodeExpiresAt *time.Time
	Attempts      int
	CreatedAt     time.Time
	ExpiresAt     time.Time
	RevokedAt     *time.Time
}
