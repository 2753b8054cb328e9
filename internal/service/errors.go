// Package service implements the authentication state machine: login,
// MFA code verification and resend, session validation and rotation,
// logout, and the administrative account operations.
package service

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrInvalidCredentials covers unknown email, inactive account,
	// wrong password, and any store fault during login. Callers must
	// not be able to tell those apart.
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrTooManyRequests    = errors.New("too many login attempts")

	ErrUserNotFound    = errors.New("user not found")
	ErrInvalidSession  = errors.New("invalid session")
	ErrNoPendingCode   = errors.New("no pending verification code")
	ErrCodeExpired     = errors.New("verification code expired")
	ErrCodeIncorrect   = errors.New("incorrect verification code")
	ErrTooManyAttempts = errors.New("verification attempts exceeded")

	ErrMFANotEnabled  = errors.New("mfa not enabled")
	ErrResendCooldown = errors.New("resend cooldown active")

	ErrUnauthorized      = errors.New("unauthorized")
	ErrForbidden         = errors.New("insufficient role")
	ErrDuplicateEmail    = errors.New("email already registered")
	ErrInvalidInvitation = errors.New("invalid invitation")
	ErrWeakPassword      = errors.New("password does not meet policy")
)

// ValidationError reports field-level problems detected before any store
// mutation.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return fmt.Sprintf("validation failed: %s", strings.Join(names, ", "))
}
