package service

import (
	"context"
	"errors"
	"log"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"campus/auth-identity/internal/crypto"
	"campus/auth-identity/internal/invite"
	"campus/auth-identity/internal/mailer"
	"campus/auth-identity/internal/metrics"
	"campus/auth-identity/internal/model"
	"campus/auth-identity/internal/rate"
	"campus/auth-identity/internal/repository"
)

type Config struct {
	SessionTTL        time.Duration
	SessionRenewAfter time.Duration
	CodeTTL           time.Duration
	MaxCodeAttempts   int
	InviteSecret      string
	InviteIssuer      string
	InviteTTL         time.Duration
}

type Service struct {
	store   Store
	mail    mailer.Mailer
	limiter *rate.Limiter
	cfg     Config
	now     func() time.Time

	// Compared against when the email does not resolve, so unknown and
	// known emails cost the same.
	dummyHash string
}

func New(store Store, mail mailer.Mailer, limiter *rate.Limiter, cfg Config) *Service {
	dummyHash, err := crypto.HashPassword(uuid.NewString())
	if err != nil {
		// bcrypt only fails on invalid cost; this input is fixed.
		panic(err)
	}
	return &Service{
		store:     store,
		mail:      mail,
		limiter:   limiter,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
		dummyHash: dummyHash,
	}
}

// SetClock replaces the time source. Test hook.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Login verifies credentials and either opens an MFA challenge or issues
// a final session. Every credential-side failure, including store
// faults, collapses to ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, email, password, ip string) (*LoginResult, error) {
	email = strings.TrimSpace(strings.ToLower(email))

	if err := s.limiter.CheckLogin(ctx, email, ip); err != nil {
		if errors.Is(err, rate.ErrLoginThrottled) {
			metrics.IncLogin("throttled")
			return nil, ErrTooManyRequests
		}
		// Throttle backend down: let the attempt through.
		log.Printf("login throttle check failed: %v", err)
	}

	// Empty email or password falls through the normal lookup/compare
	// path so every credential failure has the same cost and shape.
	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		// Equalize cost with the password-mismatch path.
		_ = crypto.CheckPassword(s.dummyHash, password)
		return nil, s.failLogin(ctx, email, ip)
	}

	if err := crypto.CheckPassword(user.PasswordHash, password); err != nil {
		return nil, s.failLogin(ctx, email, ip)
	}
	if !user.Active {
		return nil, s.failLogin(ctx, email, ip)
	}

	if err := s.limiter.ResetLogin(ctx, email, ip); err != nil {
		log.Printf("login throttle reset failed: %v", err)
	}

	if user.MFAEnabled {
		pendingToken, err := s.openChallenge(ctx, user)
		if err != nil {
			log.Printf("mfa challenge for user %s failed: %v", user.ID, err)
			metrics.IncLogin("failure")
			return nil, ErrInvalidCredentials
		}
		metrics.IncLogin("mfa_required")
		return &LoginResult{
			MFARequired:         true,
			UserID:              user.ID,
			PendingSessionToken: pendingToken,
		}, nil
	}

	authCtx, err := s.completeAuthentication(ctx, user)
	if err != nil {
		log.Printf("session issuance for user %s failed: %v", user.ID, err)
		metrics.IncLogin("failure")
		return nil, ErrInvalidCredentials
	}
	metrics.IncLogin("success")
	return &LoginResult{Context: authCtx}, nil
}

func (s *Service) failLogin(ctx context.Context, email, ip string) error {
	if err := s.limiter.NoteLoginFailure(ctx, email, ip); err != nil {
		if errors.Is(err, rate.ErrLoginThrottled) {
			metrics.IncLogin("throttled")
			return ErrTooManyRequests
		}
		log.Printf("login failure count failed: %v", err)
	}
	metrics.IncLogin("failure")
	return ErrInvalidCredentials
}

// openChallenge stores a fresh pending session plus code and dispatches
// the code. A newer login overwrites any existing challenge.
func (s *Service) openChallenge(ctx context.Context, user model.User) (string, error) {
	code, err := crypto.NewVerificationCode()
	if err != nil {
		return "", err
	}
	pendingToken, err := crypto.NewSessionToken()
	if err != nil {
		return "", err
	}

	now := s.now()
	codeHash := crypto.HashToken(code)
	codeExpiry := now.Add(s.cfg.CodeTTL)
	session := model.Session{
		ID:            uuid.NewString(),
		UserID:        user.ID,
		TokenHash:     crypto.HashToken(pendingToken),
		Phase:         model.PhasePending,
		CodeHash:      &codeHash,
		CodeExpiresAt: &codeExpiry,
		CreatedAt:     now,
		ExpiresAt:     codeExpiry,
	}
	if err := s.store.CreatePendingSession(ctx, session); err != nil {
		return "", err
	}

	if err := s.mail.SendLoginCode(user.Email, code, int(s.cfg.CodeTTL.Minutes())); err != nil {
		return "", err
	}
	metrics.IncCodeSent("login")
	return pendingToken, nil
}

// VerifyCode checks an MFA code against the user's pending challenge and
// upgrades to a final session on success. The final token is always
// freshly generated; the pending token never authenticates anything
// beyond verify/resend.
func (s *Service) VerifyCode(ctx context.Context, userID, code, pendingToken string) (*AuthContext, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			metrics.IncVerify("user_not_found")
			return nil, ErrUserNotFound
		}
		metrics.IncVerify("failure")
		return nil, ErrInvalidSession
	}

	session, err := s.pendingSession(ctx, user.ID, pendingToken)
	if err != nil {
		metrics.IncVerify("invalid_session")
		return nil, err
	}

	now := s.now()
	switch {
	case session.CodeExpiresAt == nil:
		// Nothing pending: either never issued or consumed by a prior
		// successful verify.
		metrics.IncVerify("no_pending_code")
		return nil, ErrNoPendingCode
	case !now.Before(*session.CodeExpiresAt):
		// One-shot cleanup; the expiry stays so a repeat check reports
		// expiry again instead of a missing challenge.
		if session.CodeHash != nil {
			if _, err := s.store.ClearSessionCode(ctx, session.ID, *session.CodeHash); err != nil {
				log.Printf("clearing expired code for session %s failed: %v", session.ID, err)
			}
		}
		metrics.IncVerify("expired")
		return nil, ErrCodeExpired
	case session.CodeHash == nil:
		// Challenge invalidated (attempt cap) but not yet expired.
		metrics.IncVerify("no_pending_code")
		return nil, ErrNoPendingCode
	}

	if crypto.HashToken(code) != *session.CodeHash {
		attempts, err := s.store.IncrementSessionAttempts(ctx, session.ID)
		if err != nil {
			metrics.IncVerify("failure")
			return nil, ErrInvalidSession
		}
		if attempts >= s.cfg.MaxCodeAttempts {
			if _, err := s.store.ClearSessionCode(ctx, session.ID, *session.CodeHash); err != nil {
				log.Printf("invalidating challenge for session %s failed: %v", session.ID, err)
			}
			metrics.IncVerify("attempts_exceeded")
			return nil, ErrTooManyAttempts
		}
		metrics.IncVerify("incorrect")
		return nil, ErrCodeIncorrect
	}

	// Consumption is conditional on the hash just checked. Losing the
	// condition means a resend replaced the code after the read above;
	// the submitted code is superseded, and the fresh one stays intact.
	consumed, err := s.store.ConsumeSessionCode(ctx, session.ID, *session.CodeHash)
	if err != nil {
		metrics.IncVerify("failure")
		return nil, ErrInvalidSession
	}
	if !consumed {
		metrics.IncVerify("incorrect")
		return nil, ErrCodeIncorrect
	}

	authCtx, err := s.completeAuthentication(ctx, user)
	if err != nil {
		log.Printf("session issuance for user %s failed: %v", user.ID, err)
		metrics.IncVerify("failure")
		return nil, ErrInvalidSession
	}
	metrics.IncVerify("success")
	return authCtx, nil
}

// ResendCode replaces the pending challenge's code with a fresh one.
// The previous code stops working immediately.
func (s *Service) ResendCode(ctx context.Context, userID, pendingToken string) error {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrUserNotFound
		}
		return ErrInvalidSession
	}

	session, err := s.pendingSession(ctx, user.ID, pendingToken)
	if err != nil {
		return err
	}
	if !user.MFAEnabled {
		return ErrMFANotEnabled
	}

	if err := s.limiter.AllowResend(ctx, user.ID); err != nil {
		if errors.Is(err, rate.ErrResendCooldown) {
			return ErrResendCooldown
		}
		// Cooldown backend down: refuse rather than allow unmetered
		// regeneration.
		log.Printf("resend cooldown check failed: %v", err)
		return ErrResendCooldown
	}

	code, err := crypto.NewVerificationCode()
	if err != nil {
		s.releaseResendSlot(ctx, user.ID)
		return ErrInvalidSession
	}
	replaced, err := s.store.ReplaceSessionCode(ctx, session.TokenHash, crypto.HashToken(code), s.now().Add(s.cfg.CodeTTL))
	if err != nil || !replaced {
		s.releaseResendSlot(ctx, user.ID)
		return ErrInvalidSession
	}

	if err := s.mail.SendLoginCode(user.Email, code, int(s.cfg.CodeTTL.Minutes())); err != nil {
		log.Printf("resend dispatch for user %s failed: %v", user.ID, err)
		s.releaseResendSlot(ctx, user.ID)
		return ErrInvalidSession
	}
	metrics.IncCodeSent("resend")
	return nil
}

// releaseResendSlot gives the cooldown window back after a resend that
// never produced a delivered code.
func (s *Service) releaseResendSlot(ctx context.Context, userID string) {
	if err := s.limiter.ReleaseResend(ctx, userID); err != nil {
		log.Printf("releasing resend cooldown for user %s failed: %v", userID, err)
	}
}

func (s *Service) pendingSession(ctx context.Context, userID, pendingToken string) (model.Session, error) {
	if pendingToken == "" {
		return model.Session{}, ErrInvalidSession
	}
	session, err := s.store.GetSessionByTokenHash(ctx, crypto.HashToken(pendingToken))
	if err != nil {
		return model.Session{}, ErrInvalidSession
	}
	if session.UserID != userID || session.Phase != model.PhasePending || session.RevokedAt != nil {
		return model.Session{}, ErrInvalidSession
	}
	return session, nil
}

// ValidateSession is the per-request check behind every protected
// operation. It is binary: invalid tokens carry no detail. Sessions past
// the renewal age are rotated and the replacement token returned.
func (s *Service) ValidateSession(ctx context.Context, token string) (*ValidationResult, error) {
	invalid := &ValidationResult{Valid: false}
	if token == "" {
		metrics.IncValidation(false)
		return invalid, nil
	}

	session, err := s.store.GetSessionByTokenHash(ctx, crypto.HashToken(token))
	if err != nil {
		metrics.IncValidation(false)
		return invalid, nil
	}
	now := s.now()
	if session.Phase != model.PhaseFinal || session.RevokedAt != nil || !now.Before(session.ExpiresAt) {
		metrics.IncValidation(false)
		return invalid, nil
	}

	user, err := s.store.GetUserByID(ctx, session.UserID)
	if err != nil || !user.Active {
		metrics.IncValidation(false)
		return invalid, nil
	}

	expiresAt := session.ExpiresAt
	rotated := false
	if session.ExpiresAt.Sub(now) < s.cfg.SessionTTL-s.cfg.SessionRenewAfter {
		newToken, err := crypto.NewSessionToken()
		if err == nil {
			ok, err := s.store.RotateSessionToken(ctx, session.TokenHash, crypto.HashToken(newToken), now.Add(s.cfg.SessionTTL))
			if err == nil && ok {
				// A losing racer keeps the old token for this response;
				// its next call fails validation and re-authenticates.
				token = newToken
				expiresAt = now.Add(s.cfg.SessionTTL)
				rotated = true
			}
		}
	}

	authCtx, err := s.buildContext(ctx, user, token, expiresAt)
	if err != nil {
		metrics.IncValidation(false)
		return invalid, nil
	}
	metrics.IncValidation(true)
	return &ValidationResult{Valid: true, Rotated: rotated, Context: authCtx}, nil
}

// Logout revokes the session server-side before acknowledging, so a
// copied token cannot authenticate after the client discards its state.
// Idempotent: unknown and already-revoked tokens acknowledge too.
func (s *Service) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := s.store.RevokeSessionByTokenHash(ctx, crypto.HashToken(token), s.now()); err != nil {
		return err
	}
	return nil
}

// CreateAccount provisions a user either with a generated one-time
// password or through the invitation flow. Requires a final session with
// global_admin, or school_admin scoped to the target school.
func (s *Service) CreateAccount(ctx context.Context, requestToken string, input CreateAccountInput) (*CreateAccountResult, error) {
	actor, err := s.authorize(ctx, requestToken)
	if err != nil {
		return nil, err
	}

	input.Email = strings.TrimSpace(strings.ToLower(input.Email))
	input.Role = strings.TrimSpace(strings.ToLower(input.Role))
	input.SchoolID = strings.TrimSpace(input.SchoolID)

	if err := s.authorizeAccountChange(actor, input.Role, input.SchoolID); err != nil {
		return nil, err
	}
	if err := validateAccountInput(input); err != nil {
		return nil, err
	}

	password := ""
	passwordHash := ""
	if input.Invite {
		// Placeholder credential; the account stays inactive until the
		// invitation is accepted.
		placeholder, err := crypto.NewRandomPassword()
		if err != nil {
			return nil, err
		}
		passwordHash, err = crypto.HashPassword(placeholder)
		if err != nil {
			return nil, err
		}
	} else {
		password, err = crypto.NewRandomPassword()
		if err != nil {
			return nil, err
		}
		passwordHash, err = crypto.HashPassword(password)
		if err != nil {
			return nil, err
		}
	}

	now := s.now()
	user := model.User{
		ID:           uuid.NewString(),
		Email:        input.Email,
		PasswordHash: passwordHash,
		FirstName:    strings.TrimSpace(input.FirstName),
		LastName:     strings.TrimSpace(input.LastName),
		Active:       !input.Invite,
		MFAEnabled:   input.MFAEnabled,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	assignment := model.RoleAssignment{
		ID:     uuid.NewString(),
		UserID: user.ID,
		Role:   input.Role,
	}
	if input.SchoolID != "" {
		schoolID := input.SchoolID
		assignment.SchoolID = &schoolID
	}

	if err := s.store.CreateUser(ctx, user, []model.RoleAssignment{assignment}); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, ErrDuplicateEmail
		}
		return nil, err
	}

	result := &CreateAccountResult{
		User: UserInfo{
			ID:         user.ID,
			Email:      user.Email,
			FirstName:  user.FirstName,
			LastName:   user.LastName,
			MFAEnabled: user.MFAEnabled,
		},
		Role:              input.Role,
		SchoolID:          input.SchoolID,
		GeneratedPassword: password,
	}

	if input.Invite {
		token, err := invite.NewToken(s.cfg.InviteSecret, s.cfg.InviteIssuer, user.ID, s.cfg.InviteTTL)
		if err != nil {
			return nil, err
		}
		result.InvitationToken = token
		if err := s.mail.SendInvitation(user.Email, token); err != nil {
			// The token is in the response; the admin can deliver it.
			log.Printf("invitation dispatch for user %s failed: %v", user.ID, err)
		}
	}
	return result, nil
}

// AcceptInvitation finishes the invitation flow: the invited user sets
// their password and the account becomes active.
func (s *Service) AcceptInvitation(ctx context.Context, token, password string) error {
	userID, err := invite.ParseToken(s.cfg.InviteSecret, s.cfg.InviteIssuer, token)
	if err != nil {
		return ErrInvalidInvitation
	}
	if !passwordMeetsPolicy(password) {
		return ErrWeakPassword
	}
	hash, err := crypto.HashPassword(password)
	if err != nil {
		return err
	}
	if err := s.store.ActivateUser(ctx, userID, hash, s.now()); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrInvalidInvitation
		}
		return err
	}
	return nil
}

// ResetPassword overwrites the target's credential with a generated
// password and revokes their sessions. The plaintext is returned exactly
// once and never logged.
func (s *Service) ResetPassword(ctx context.Context, requestToken, targetUserID string) (string, error) {
	actor, err := s.authorize(ctx, requestToken)
	if err != nil {
		return "", err
	}

	target, err := s.store.GetUserByID(ctx, targetUserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", ErrUserNotFound
		}
		return "", err
	}

	if actor.PrimaryRole != model.RoleGlobalAdmin {
		if actor.PrimaryRole != model.RoleSchoolAdmin {
			return "", ErrForbidden
		}
		targetRoles, err := s.store.GetRoleAssignments(ctx, target.ID)
		if err != nil {
			return "", err
		}
		if !holdsRoleInSchool(targetRoles, actor.PrimarySchoolID) {
			return "", ErrForbidden
		}
	}

	password, err := crypto.NewRandomPassword()
	if err != nil {
		return "", err
	}
	hash, err := crypto.HashPassword(password)
	if err != nil {
		return "", err
	}
	now := s.now()
	if err := s.store.UpdatePasswordHash(ctx, target.ID, hash, now); err != nil {
		return "", err
	}
	if err := s.store.RevokeUserSessions(ctx, target.ID, now); err != nil {
		log.Printf("revoking sessions for user %s failed: %v", target.ID, err)
	}
	return password, nil
}

// authorize resolves a final session without rotating it. Admin callers
// are servers; forcing token churn on them buys nothing.
func (s *Service) authorize(ctx context.Context, token string) (*AuthContext, error) {
	if token == "" {
		return nil, ErrUnauthorized
	}
	session, err := s.store.GetSessionByTokenHash(ctx, crypto.HashToken(token))
	if err != nil {
		return nil, ErrUnauthorized
	}
	now := s.now()
	if session.Phase != model.PhaseFinal || session.RevokedAt != nil || !now.Before(session.ExpiresAt) {
		return nil, ErrUnauthorized
	}
	user, err := s.store.GetUserByID(ctx, session.UserID)
	if err != nil || !user.Active {
		return nil, ErrUnauthorized
	}
	authCtx, err := s.buildContext(ctx, user, token, session.ExpiresAt)
	if err != nil {
		return nil, ErrUnauthorized
	}
	return authCtx, nil
}

func (s *Service) authorizeAccountChange(actor *AuthContext, role, schoolID string) error {
	switch actor.PrimaryRole {
	case model.RoleGlobalAdmin:
		return nil
	case model.RoleSchoolAdmin:
		if role == model.RoleGlobalAdmin {
			return ErrForbidden
		}
		if actor.PrimarySchoolID == "" || schoolID != actor.PrimarySchoolID {
			return ErrForbidden
		}
		return nil
	default:
		return ErrForbidden
	}
}

// completeAuthentication issues a final session and assembles the
// authenticated context; it also stamps last-login and fires the
// best-effort notification.
func (s *Service) completeAuthentication(ctx context.Context, user model.User) (*AuthContext, error) {
	token, err := crypto.NewSessionToken()
	if err != nil {
		return nil, err
	}
	now := s.now()
	expiresAt := now.Add(s.cfg.SessionTTL)
	session := model.Session{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		TokenHash: crypto.HashToken(token),
		Phase:     model.PhaseFinal,
		CreatedAt: now,
		ExpiresAt: expiresAt,
	}
	if err := s.store.CreateFinalSession(ctx, session); err != nil {
		return nil, err
	}

	if err := s.store.TouchLastLogin(ctx, user.ID, now); err != nil {
		log.Printf("last-login stamp for user %s failed: %v", user.ID, err)
	}

	authCtx, err := s.buildContext(ctx, user, token, expiresAt)
	if err != nil {
		return nil, err
	}

	s.notifyLogin(user)
	return authCtx, nil
}

// notifyLogin is fire-and-forget: never awaited, never propagated.
func (s *Service) notifyLogin(user model.User) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("login notification panic for user %s: %v", user.ID, r)
			}
		}()
		if err := s.mail.SendLoginNotification(user.Email, user.FirstName); err != nil {
			log.Printf("login notification for user %s failed: %v", user.ID, err)
		}
	}()
}

func (s *Service) buildContext(ctx context.Context, user model.User, token string, expiresAt time.Time) (*AuthContext, error) {
	roles, err := s.store.GetRoleAssignments(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	primaryRole, primarySchoolID := selectPrimaryRole(roles)
	identifier := ""
	if primarySchoolID != "" {
		identifier, err = s.store.GetSchoolIdentifier(ctx, primarySchoolID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
	}

	return &AuthContext{
		User: UserInfo{
			ID:         user.ID,
			Email:      user.Email,
			FirstName:  user.FirstName,
			LastName:   user.LastName,
			MFAEnabled: user.MFAEnabled,
		},
		Roles:                   roles,
		PrimaryRole:             primaryRole,
		PrimarySchoolID:         primarySchoolID,
		PrimarySchoolIdentifier: identifier,
		SessionToken:            token,
		SessionExpiresAt:        expiresAt,
	}, nil
}

// selectPrimaryRole walks the privilege order; within a tag, the first
// assignment wins.
func selectPrimaryRole(roles []model.RoleAssignment) (string, string) {
	for _, tag := range model.RolePrecedence {
		for _, assignment := range roles {
			if assignment.Role != tag {
				continue
			}
			schoolID := ""
			if assignment.SchoolID != nil {
				schoolID = *assignment.SchoolID
			}
			return assignment.Role, schoolID
		}
	}
	return "", ""
}

func holdsRoleInSchool(roles []model.RoleAssignment, schoolID string) bool {
	if schoolID == "" {
		return false
	}
	for _, assignment := range roles {
		if assignment.SchoolID != nil && *assignment.SchoolID == schoolID {
			return true
		}
	}
	return false
}

func validateAccountInput(input CreateAccountInput) error {
	fields := make(map[string]string)
	if _, err := mail.ParseAddress(input.Email); err != nil {
		fields["email"] = "invalid email address"
	}
	if strings.TrimSpace(input.FirstName) == "" {
		fields["firstName"] = "required"
	}
	if strings.TrimSpace(input.LastName) == "" {
		fields["lastName"] = "required"
	}
	if !model.ValidRole(input.Role) {
		fields["role"] = "unknown role"
	} else if input.Role != model.RoleGlobalAdmin && input.SchoolID == "" {
		fields["schoolId"] = "required for school-scoped roles"
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

func passwordMeetsPolicy(password string) bool {
	if len(password) < 8 {
		return false
	}
	return hasDigit(password) && hasLetter(password)
}

func hasDigit(s string) bool {
	for _, r := range s {
		if r >= '0' && r <= '9' {
			return true
		}
	}
	return false
}

func hasLetter(s string) bool {
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			return true
		}
	}
	return false
}
