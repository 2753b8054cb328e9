// Package http exposes the authentication service over HTTP. Handlers
// decode strictly, delegate to the service, and translate its sentinel
// errors to stable snake_case codes.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"campus/auth-identity/internal/service"
)

// AuthService is the slice of the service the handlers need.
type AuthService interface {
	Login(ctx context.Context, email, password, ip string) (*service.LoginResult, error)
	VerifyCode(ctx context.Context, userID, code, pendingToken string) (*service.AuthContext, error)
	ResendCode(ctx context.Context, userID, pendingToken string) error
	ValidateSession(ctx context.Context, token string) (*service.ValidationResult, error)
	Logout(ctx context.Context, token string) error
	CreateAccount(ctx context.Context, requestToken string, input service.CreateAccountInput) (*service.CreateAccountResult, error)
	AcceptInvitation(ctx context.Context, token, password string) error
	ResetPassword(ctx context.Context, requestToken, targetUserID string) (string, error)
}

type Server struct {
	svc AuthService
}

func NewServer(svc AuthService) *Server {
	return &Server{svc: svc}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", s.handleLogin)
		r.Post("/verify-code", s.handleVerifyCode)
		r.Post("/resend-code", s.handleResendCode)
		r.Post("/validate", s.handleValidate)
		r.Post("/logout", s.handleLogout)
		r.Post("/accept-invitation", s.handleAcceptInvitation)
	})

	r.Post("/users", s.handleCreateUser)
	r.Post("/users/{userID}/reset-password", s.handleResetPassword)

	return r
}

type userPayload struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	FirstName  string `json:"firstName"`
	LastName   string `json:"lastName"`
	MFAEnabled bool   `json:"mfaEnabled"`
}

type rolePayload struct {
	Role     string `json:"role"`
	SchoolID string `json:"schoolId,omitempty"`
}

type contextPayload struct {
	User                    userPayload   `json:"user"`
	Roles                   []rolePayload `json:"roles"`
	PrimaryRole             string        `json:"primaryRole"`
	PrimarySchoolID         string        `json:"primarySchoolId,omitempty"`
	PrimarySchoolIdentifier string        `json:"primarySchoolIdentifier,omitempty"`
	SessionToken            string        `json:"sessionToken"`
	SessionExpiresAt        time.Time     `json:"sessionExpiresAt"`
}

func toContextPayload(authCtx *service.AuthContext) contextPayload {
	roles := make([]rolePayload, 0, len(authCtx.Roles))
	for _, assignment := range authCtx.Roles {
		role := rolePayload{Role: assignment.Role}
		if assignment.SchoolID != nil {
			role.SchoolID = *assignment.SchoolID
		}
		roles = append(roles, role)
	}
	return contextPayload{
		User: userPayload{
			ID:         authCtx.User.ID,
			Email:      authCtx.User.Email,
			FirstName:  authCtx.User.FirstName,
			LastName:   authCtx.User.LastName,
			MFAEnabled: authCtx.User.MFAEnabled,
		},
		Roles:                   roles,
		PrimaryRole:             authCtx.PrimaryRole,
		PrimarySchoolID:         authCtx.PrimarySchoolID,
		PrimarySchoolIdentifier: authCtx.PrimarySchoolIdentifier,
		SessionToken:            authCtx.SessionToken,
		SessionExpiresAt:        authCtx.SessionExpiresAt,
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := s.svc.Login(r.Context(), req.Email, req.Password, clientIP(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if result.MFARequired {
		writeJSON(w, http.StatusOK, map[string]any{
			"mfaRequired":         true,
			"userId":              result.UserID,
			"pendingSessionToken": result.PendingSessionToken,
		})
		return
	}
	writeJSON(w, http.StatusOK, toContextPayload(result.Context))
}

func (s *Server) handleVerifyCode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID              string `json:"userId"`
		Code                string `json:"code"`
		PendingSessionToken string `json:"pendingSessionToken"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	authCtx, err := s.svc.VerifyCode(r.Context(), req.UserID, req.Code, req.PendingSessionToken)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toContextPayload(authCtx))
}

func (s *Server) handleResendCode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID              string `json:"userId"`
		PendingSessionToken string `json:"pendingSessionToken"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := s.svc.ResendCode(r.Context(), req.UserID, req.PendingSessionToken); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "verification code sent",
	})
}

// handleValidate always answers 200; validity is in the body. An invalid
// token carries no detail about why.
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionToken string `json:"sessionToken"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	token := req.SessionToken
	if token == "" {
		token = bearerToken(r)
	}

	result, err := s.svc.ValidateSession(r.Context(), token)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "session validation failed")
		return
	}
	if !result.Valid {
		writeJSON(w, http.StatusOK, map[string]any{"valid": false})
		return
	}

	payload := toContextPayload(result.Context)
	if !result.Rotated {
		// Only a rotation hands out a token; otherwise the caller keeps
		// what it sent.
		payload.SessionToken = ""
	}
	writeJSON(w, http.StatusOK, validatePayload{
		Valid:                   true,
		Rotated:                 result.Rotated,
		User:                    payload.User,
		Roles:                   payload.Roles,
		PrimaryRole:             payload.PrimaryRole,
		PrimarySchoolID:         payload.PrimarySchoolID,
		PrimarySchoolIdentifier: payload.PrimarySchoolIdentifier,
		SessionToken:            payload.SessionToken,
		SessionExpiresAt:        payload.SessionExpiresAt,
	})
}

type validatePayload struct {
	Valid                   bool          `json:"valid"`
	Rotated                 bool          `json:"rotated,omitempty"`
	User                    userPayload   `json:"user"`
	Roles                   []rolePayload `json:"roles"`
	PrimaryRole             string        `json:"primaryRole"`
	PrimarySchoolID         string        `json:"primarySchoolId,omitempty"`
	PrimarySchoolIdentifier string        `json:"primarySchoolIdentifier,omitempty"`
	SessionToken            string        `json:"sessionToken,omitempty"`
	SessionExpiresAt        time.Time     `json:"sessionExpiresAt"`
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionToken string `json:"sessionToken"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	token := req.SessionToken
	if token == "" {
		token = bearerToken(r)
	}

	if err := s.svc.Logout(r.Context(), token); err != nil {
		log.Printf("logout failed: %v", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "logout failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email      string `json:"email"`
		FirstName  string `json:"firstName"`
		LastName   string `json:"lastName"`
		Role       string `json:"role"`
		SchoolID   string `json:"schoolId"`
		MFAEnabled bool   `json:"mfaEnabled"`
		Invite     bool   `json:"invite"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := s.svc.CreateAccount(r.Context(), bearerToken(r), service.CreateAccountInput{
		Email:      req.Email,
		FirstName:  req.FirstName,
		LastName:   req.LastName,
		Role:       req.Role,
		SchoolID:   req.SchoolID,
		MFAEnabled: req.MFAEnabled,
		Invite:     req.Invite,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	body := map[string]any{
		"user": userPayload{
			ID:         result.User.ID,
			Email:      result.User.Email,
			FirstName:  result.User.FirstName,
			LastName:   result.User.LastName,
			MFAEnabled: result.User.MFAEnabled,
		},
		"role": result.Role,
	}
	if result.SchoolID != "" {
		body["schoolId"] = result.SchoolID
	}
	if result.GeneratedPassword != "" {
		body["generatedPassword"] = result.GeneratedPassword
	}
	if result.InvitationToken != "" {
		body["invitationToken"] = result.InvitationToken
	}
	writeJSON(w, http.StatusCreated, body)
}

func (s *Server) handleAcceptInvitation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		InvitationToken string `json:"invitationToken"`
		Password        string `json:"password"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := s.svc.AcceptInvitation(r.Context(), req.InvitationToken, req.Password); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	targetUserID := chi.URLParam(r, "userID")

	password, err := s.svc.ResetPassword(r.Context(), bearerToken(r), targetUserID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"generatedPassword": password})
}

// writeServiceError maps service sentinels to (status, code). Unmapped
// errors become an opaque 500.
func writeServiceError(w http.ResponseWriter, err error) {
	var verr *service.ValidationError
	if errors.As(err, &verr) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":   "validation_error",
			"message": verr.Error(),
			"fields":  verr.Fields,
		})
		return
	}

	switch {
	case errors.Is(err, service.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid email or password")
	case errors.Is(err, service.ErrTooManyRequests):
		writeError(w, http.StatusTooManyRequests, "too_many_requests", "too many login attempts, retry later")
	case errors.Is(err, service.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "user_not_found", "user not found")
	case errors.Is(err, service.ErrInvalidSession):
		writeError(w, http.StatusUnauthorized, "invalid_session", "invalid or expired session")
	case errors.Is(err, service.ErrNoPendingCode):
		writeError(w, http.StatusConflict, "no_pending_code", "no verification code is pending")
	case errors.Is(err, service.ErrCodeExpired):
		writeError(w, http.StatusGone, "expired_code", "verification code expired, request a new one")
	case errors.Is(err, service.ErrCodeIncorrect):
		writeError(w, http.StatusUnauthorized, "incorrect_code", "incorrect verification code")
	case errors.Is(err, service.ErrTooManyAttempts):
		writeError(w, http.StatusTooManyRequests, "too_many_attempts", "too many attempts, request a new code")
	case errors.Is(err, service.ErrMFANotEnabled):
		writeError(w, http.StatusConflict, "mfa_not_enabled", "mfa is not enabled for this account")
	case errors.Is(err, service.ErrResendCooldown):
		writeError(w, http.StatusTooManyRequests, "resend_cooldown", "wait before requesting another code")
	case errors.Is(err, service.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
	case errors.Is(err, service.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", "insufficient privileges")
	case errors.Is(err, service.ErrDuplicateEmail):
		writeError(w, http.StatusConflict, "duplicate_email", "email already registered")
	case errors.Is(err, service.ErrInvalidInvitation):
		writeError(w, http.StatusUnauthorized, "invalid_invitation", "invalid or expired invitation")
	case errors.Is(err, service.ErrWeakPassword):
		writeError(w, http.StatusBadRequest, "weak_password", "password must be at least 8 characters with a letter and a digit")
	default:
		log.Printf("unhandled service error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed request body")
		return false
	}
	return true
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return header[len(prefix):]
	}
	return ""
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("writing response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{
		"error":   code,
		"message": message,
	})
}
