package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"campus/auth-identity/internal/config"
	"campus/auth-identity/internal/db"
	authhttp "campus/auth-identity/internal/http"
	"campus/auth-identity/internal/mailer"
	"campus/auth-identity/internal/rate"
	"campus/auth-identity/internal/repository"
	"campus/auth-identity/internal/service"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("connecting to postgres: %v", err)
	}
	defer pool.Close()

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Fatalf("connecting to redis: %v", err)
		}
		defer redisClient.Close()
	} else {
		log.Println("REDIS_ADDR not set, resend cooldown and login throttle disabled")
	}

	var mail mailer.Mailer
	if cfg.SMTPHost != "" {
		mail = mailer.NewSMTP(mailer.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			User:     cfg.SMTPUser,
			Password: cfg.SMTPPassword,
			AppName:  cfg.AppName,
		})
	} else {
		log.Println("SMTP_HOST not set, mail goes to the process log")
		mail = mailer.LogMailer{}
	}

	if cfg.InviteSecret == "" {
		log.Fatal("INVITE_SECRET is required")
	}

	limiter := rate.New(redisClient, rate.Config{
		ResendCooldown:   cfg.ResendCooldown,
		LoginWindow:      cfg.LoginWindow,
		LoginMaxAttempts: cfg.LoginMaxAttempts,
	})

	svc := service.New(repository.NewStore(pool), mail, limiter, service.Config{
		SessionTTL:        cfg.SessionTTL,
		SessionRenewAfter: cfg.SessionRenewAfter,
		CodeTTL:           cfg.MFACodeTTL,
		MaxCodeAttempts:   cfg.MFAMaxAttempts,
		InviteSecret:      cfg.InviteSecret,
		InviteIssuer:      cfg.AppName,
		InviteTTL:         cfg.InviteTTL,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           authhttp.NewServer(svc).Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("auth-identity listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown: %v", err)
	}
}
