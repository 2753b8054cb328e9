package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrResendCooldown = errors.New("resend cooldown active")
	ErrLoginThrottled = errors.New("login attempts throttled")
	ErrUnavailable    = errors.New("rate limiter backend unavailable")
)

type Config struct {
	ResendCooldown   time.Duration
	LoginWindow      time.Duration
	LoginMaxAttempts int
}

// Limiter enforces the server-side resend cooldown and a per-email/IP
// login throttle. With a nil redis client every check passes; the
// throttle is an abuse guard, not a correctness dependency.
type Limiter struct {
	redis *redis.Client
	cfg   Config
}

func New(redisClient *redis.Client, cfg Config) *Limiter {
	return &Limiter{redis: redisClient, cfg: cfg}
}

// AllowResend claims the cooldown slot for a user. The first call inside
// a window succeeds and starts the window; later calls fail until expiry.
func (l *Limiter) AllowResend(ctx context.Context, userID string) error {
	if l.redis == nil {
		return nil
	}
	set, err := l.redis.SetNX(ctx, resendKey(userID), "1", l.cfg.ResendCooldown).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !set {
		return ErrResendCooldown
	}
	return nil
}

// ReleaseResend frees the cooldown slot early. Used when the code that
// claimed it was never stored or delivered, so the user is not stuck
// waiting out a cooldown for a code they never received.
func (l *Limiter) ReleaseResend(ctx context.Context, userID string) error {
	if l.redis == nil {
		return nil
	}
	return l.redis.Del(ctx, resendKey(userID)).Err()
}

// NoteLoginFailure counts a failed credential check and reports whether
// the caller is over the window budget.
func (l *Limiter) NoteLoginFailure(ctx context.Context, email, ip string) error {
	if l.redis == nil {
		return nil
	}
	key := loginKey(email, ip)
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if count == 1 {
		if err := l.redis.Expire(ctx, key, l.cfg.LoginWindow).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	if int(count) > l.cfg.LoginMaxAttempts {
		return ErrLoginThrottled
	}
	return nil
}

// CheckLogin reports whether the caller already exhausted the window
// budget, without consuming an attempt.
func (l *Limiter) CheckLogin(ctx context.Context, email, ip string) error {
	if l.redis == nil {
		return nil
	}
	value, err := l.redis.Get(ctx, loginKey(email, ip)).Int64()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if int(value) > l.cfg.LoginMaxAttempts {
		return ErrLoginThrottled
	}
	return nil
}

// ResetLogin clears the failure counter after a successful login.
func (l *Limiter) ResetLogin(ctx context.Context, email, ip string) error {
	if l.redis == nil {
		return nil
	}
	return l.redis.Del(ctx, loginKey(email, ip)).Err()
}

func resendKey(userID string) string {
	return "mfa:resend:" + userID
}

func loginKey(email, ip string) string {
	return "login:" + email + ":" + ip
}
