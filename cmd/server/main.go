// main wires high-level dependencies and keeps the server lifecycle small.
// Business logic lives in the internal services packages.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"ravegate/internal/challenge"
	"ravegate/internal/lockout"
	"ravegate/internal/login"
	loginmetrics "ravegate/internal/login/metrics"
	"ravegate/internal/otp"
	"ravegate/internal/otp/providerlocal"
	"ravegate/internal/platform/config"
	"ravegate/internal/platform/httpserver"
	"ravegate/internal/platform/logger"
	"ravegate/internal/platform/postgres"
	platformredis "ravegate/internal/platform/redis"
	"ravegate/internal/profile"
	profilestore "ravegate/internal/profile/store"
	"ravegate/internal/session"
	httptransport "ravegate/internal/transport/http"
	"ravegate/pkg/audit"
	auditkafka "ravegate/pkg/audit/kafka"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}

	log := logger.New(slog.LevelInfo)
	slog.SetDefault(log)

	// Optional backends; absence degrades to in-memory implementations.
	redisClient, err := platformredis.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	db, err := postgres.Open(ctx, cfg.PostgresDSN)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	var auditor audit.Publisher
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaPub, err := auditkafka.New(ctx, cfg.Kafka.Brokers, cfg.Kafka.Topic, auditkafka.WithLogger(log))
		if err != nil {
			return err
		}
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = kafkaPub.Close(closeCtx)
		}()
		auditor = kafkaPub
	} else {
		auditor = audit.NewMemoryPublisher()
	}

	provider := providerlocal.New(
		[]byte(cfg.CredentialSigningKey),
		cfg.HandleTTL,
		cfg.OTPLength,
		providerlocal.WithLogger(log),
	)

	// Headless deployment behaves like the native client: no widget to
	// mount, a proof is furnished on demand.
	chp := challenge.NewNative(challenge.PrompterFunc(func(_ context.Context) (challenge.Token, error) {
		return challenge.Token{Value: uuid.NewString(), IssuedAt: time.Now()}, nil
	}))
	defer chp.Close()

	sessions := session.New(provider, session.WithLogger(log))
	defer sessions.Close()

	var profiles profile.Store = profilestore.NewMemory()
	if db != nil {
		profiles = profilestore.NewPostgres(db)
	}
	if redisClient != nil {
		profiles = profilestore.NewRedisCache(profiles, redisClient.Client, 5*time.Minute,
			profilestore.WithRedisCacheLogger(log))
	}
	resolver := profile.NewResolver(profiles, cfg.ProfileReadTimeout, profile.WithLogger(log))

	var lockStore lockout.Store = lockout.NewMemoryStore()
	if redisClient != nil {
		lockStore = lockout.NewRedisStore(redisClient.Client)
	}
	locks, err := lockout.New(lockStore, cfg.LockoutThreshold, cfg.LockoutWindow,
		lockout.WithLogger(log),
		lockout.WithAuditPublisher(auditor),
	)
	if err != nil {
		return err
	}

	manager, err := otp.NewManager(provider, chp, otp.Config{
		CodeLength:      cfg.OTPLength,
		MinPhoneDigits:  cfg.MinPhoneDigits,
		ExchangeTimeout: cfg.ExchangeTimeout,
	}, otp.WithLogger(log), otp.WithAuditPublisher(auditor))
	if err != nil {
		return err
	}

	flow, err := login.New(manager, chp, sessions, resolver, login.Config{
		CodeLength:          cfg.OTPLength,
		MinPhoneDigits:      cfg.MinPhoneDigits,
		ChallengeRetryDelay: cfg.ChallengeRetryDelay,
		SessionReplayWait:   cfg.SessionReplayWait,
	},
		login.WithLogger(log),
		login.WithMetrics(loginmetrics.New()),
		login.WithLockout(locks),
		login.WithAuditPublisher(auditor),
	)
	if err != nil {
		return err
	}

	handler := httptransport.New(flow, log, httptransport.WithHealth(
		httptransport.HealthFunc(func(r *http.Request) error {
			if redisClient != nil {
				if err := redisClient.Health(r.Context()); err != nil {
					return err
				}
			}
			if db != nil {
				return db.PingContext(r.Context())
			}
			return nil
		}),
	))

	srv := httpserver.New(cfg.Addr, handler.Router())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting ravegate", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
