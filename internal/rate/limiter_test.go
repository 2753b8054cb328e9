package rate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func testLimiter(t *testing.T) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client, Config{
		ResendCooldown:   time.Minute,
		LoginWindow:      15 * time.Minute,
		LoginMaxAttempts: 3,
	}), mr
}

func TestResendCooldown(t *testing.T) {
	limiter, mr := testLimiter(t)
	ctx := context.Background()

	if err := limiter.AllowResend(ctx, "user-1"); err != nil {
		t.Fatalf("first resend should pass: %v", err)
	}
	if err := limiter.AllowResend(ctx, "user-1"); !errors.Is(err, ErrResendCooldown) {
		t.Fatalf("expected cooldown, got %v", err)
	}
	if err := limiter.AllowResend(ctx, "user-2"); err != nil {
		t.Fatalf("cooldown must be per user: %v", err)
	}

	mr.FastForward(time.Minute + time.Second)
	if err := limiter.AllowResend(ctx, "user-1"); err != nil {
		t.Fatalf("resend should pass after cooldown: %v", err)
	}
}

func TestReleaseResendFreesTheSlot(t *testing.T) {
	limiter, _ := testLimiter(t)
	ctx := context.Background()

	if err := limiter.AllowResend(ctx, "user-1"); err != nil {
		t.Fatalf("claim error: %v", err)
	}
	if err := limiter.ReleaseResend(ctx, "user-1"); err != nil {
		t.Fatalf("release error: %v", err)
	}
	if err := limiter.AllowResend(ctx, "user-1"); err != nil {
		t.Fatalf("slot should be free after release: %v", err)
	}
}

func TestLoginThrottle(t *testing.T) {
	limiter, _ := testLimiter(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := limiter.NoteLoginFailure(ctx, "a@example.com", "10.0.0.1"); err != nil {
			t.Fatalf("attempt %d should pass: %v", i, err)
		}
	}
	if err := limiter.NoteLoginFailure(ctx, "a@example.com", "10.0.0.1"); !errors.Is(err, ErrLoginThrottled) {
		t.Fatalf("expected throttle, got %v", err)
	}
	if err := limiter.CheckLogin(ctx, "a@example.com", "10.0.0.1"); !errors.Is(err, ErrLoginThrottled) {
		t.Fatalf("expected check to report throttle, got %v", err)
	}

	if err := limiter.ResetLogin(ctx, "a@example.com", "10.0.0.1"); err != nil {
		t.Fatalf("reset error: %v", err)
	}
	if err := limiter.CheckLogin(ctx, "a@example.com", "10.0.0.1"); err != nil {
		t.Fatalf("expected clean slate after reset, got %v", err)
	}
}

func TestNilRedisPasses(t *testing.T) {
	limiter := New(nil, Config{})
	ctx := context.Background()
	if err := limiter.AllowResend(ctx, "user-1"); err != nil {
		t.Fatalf("nil redis must pass: %v", err)
	}
	if err := limiter.CheckLogin(ctx, "a@example.com", ""); err != nil {
		t.Fatalf("nil redis must pass: %v", err)
	}
}
