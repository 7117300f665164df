package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	httpapi "github.com/mediation-hub/mediation-hub/internal/api/http"
	"github.com/mediation-hub/mediation-hub/internal/api/socket"
	"github.com/mediation-hub/mediation-hub/internal/application/audit"
	"github.com/mediation-hub/mediation-hub/internal/application/auth"
	"github.com/mediation-hub/mediation-hub/internal/application/chat"
	"github.com/mediation-hub/mediation-hub/internal/application/ledger"
	"github.com/mediation-hub/mediation-hub/internal/application/mediation"
	"github.com/mediation-hub/mediation-hub/internal/application/notification"
	appRealtime "github.com/mediation-hub/mediation-hub/internal/application/realtime"
	"github.com/mediation-hub/mediation-hub/internal/application/txn"
	"github.com/mediation-hub/mediation-hub/internal/application/user"
	"github.com/mediation-hub/mediation-hub/internal/config"
	domainAudit "github.com/mediation-hub/mediation-hub/internal/domain/audit"
	domainNotification "github.com/mediation-hub/mediation-hub/internal/domain/notification"
	"github.com/mediation-hub/mediation-hub/internal/domain/realtime"
	domainSession "github.com/mediation-hub/mediation-hub/internal/domain/session"
	domainUser "github.com/mediation-hub/mediation-hub/internal/domain/user"
	"github.com/mediation-hub/mediation-hub/internal/infrastructure/memory"
	"github.com/mediation-hub/mediation-hub/internal/infrastructure/postgres"
	"github.com/mediation-hub/mediation-hub/internal/infrastructure/redis"
	"github.com/mediation-hub/mediation-hub/internal/infrastructure/sse"
	"github.com/mediation-hub/mediation-hub/internal/infrastructure/ws"
)

type storage struct {
	tx            txn.Runner
	users         domainUser.Repository
	sessions      domainSession.Repository
	notifications domainNotification.Repository
	audit         domainAudit.Repository
	close         func()
}

type presenceRegistry interface {
	realtime.Presence
	realtime.Registry
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := zerolog.New(os.Stderr).With().Timestamp().Logger()
		boot.Fatal().Err(err).Msg("config error")
	}
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStorage(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("storage error")
	}
	defer store.close()

	fees, err := mediation.NewFeePolicy(cfg.FeeExpression)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid MEDIATOR_FEE_EXPRESSION")
	}

	g, gctx := errgroup.WithContext(ctx)

	// realtime
	var (
		presence presenceRegistry = memory.NewPresence()
		broker   *redis.Broker
	)
	if cfg.RedisURL != "" {
		client, err := redis.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis error")
		}
		defer client.Close()
		rp := redis.NewPresence(client, cfg.PresenceTTL, logger)
		g.Go(func() error { rp.Run(gctx); return nil })
		presence = rp
		broker = redis.NewBroker(client, cfg.NodeID, logger)
	}
	var remote realtime.Publisher
	if broker != nil {
		remote = broker
	}
	router := appRealtime.NewRouter(cfg.NodeID, remote)
	sseHub := sse.NewHub(cfg.NodeID, presence, logger)
	wsHub := ws.NewHub(cfg.NodeID, presence, logger)
	router.Handle(realtime.TransportSSE, sseHub)
	router.Handle(realtime.TransportWebSocket, wsHub)
	if broker != nil {
		g.Go(func() error { return broker.Run(gctx, router) })
	}
	dispatcher := appRealtime.NewDispatcher(presence, router, logger, appRealtime.DefaultGapTimeout)

	// services
	auditSvc := audit.NewService(store.audit, logger, cfg.AuditSigningKey)
	authSvc := auth.NewService(store.users, store.sessions, cfg.SessionTTL, logger)
	userSvc := user.NewService(store.users, store.sessions, auditSvc, logger)
	mediationSvc := mediation.NewService(store.tx, fees, dispatcher, auditSvc, logger)
	chatSvc := chat.NewService(store.tx, dispatcher, auditSvc, logger)
	ledgerSvc := ledger.NewService(store.tx, dispatcher, auditSvc, logger)
	notificationSvc := notification.NewService(store.notifications, logger)

	apiServer := httpapi.NewServer(
		authSvc, userSvc, mediationSvc, chatSvc, ledgerSvc, notificationSvc, auditSvc,
		sseHub, wsHub, socket.NewHandler(chatSvc, store.users, logger),
		httpapi.Options{
			SessionCookieName:   cfg.SessionCookieName,
			SessionCookieSecure: cfg.SessionCookieSecure,
			AllowedOrigins:      cfg.AllowedOrigins,
		},
		logger,
	)

	httpServer := &http.Server{
		Addr:              cfg.ServerAddr,
		Handler:           apiServer.Router(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g.Go(func() error { return authSvc.RunJanitor(gctx, 10*time.Minute) })
	g.Go(func() error {
		logger.Info().Str("addr", cfg.ServerAddr).Str("node", cfg.NodeID).Str("storage", cfg.StorageDriver).Msg("http server started")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		sseHub.Stop()
		wsHub.Stop()
		err := httpServer.Shutdown(shutdownCtx)
		dispatcher.Wait()
		return err
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("server stopped with error")
		return
	}
	logger.Info().Msg("server stopped")
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.LogFormat == "console" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func openStorage(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*storage, error) {
	if cfg.StorageDriver == config.StorageMemory {
		logger.Warn().Msg("using in-memory storage, state is lost on restart")
		mem := memory.NewStore()
		return &storage{
			tx:            mem,
			users:         mem.UserRepository(),
			sessions:      memory.NewSessionRepository(),
			notifications: mem.NotificationRepository(),
			audit:         memory.NewAuditRepository(),
			close:         func() {},
		}, nil
	}

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := postgres.RunMigrations(ctx, pool, cfg.MigrationsDir, logger); err != nil {
		pool.Close()
		return nil, err
	}
	return &storage{
		tx:            postgres.NewTxRunner(pool),
		users:         postgres.NewUserRepository(pool),
		sessions:      postgres.NewSessionRepository(pool),
		notifications: postgres.NewNotificationRepository(pool),
		audit:         postgres.NewAuditRepository(pool),
		close:         pool.Close,
	}, nil
}
