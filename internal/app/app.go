package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"task-management-api/internal/config"
	"task-management-api/internal/database"
	"task-management-api/internal/event"
	"task-management-api/internal/handler"
	"task-management-api/internal/mail"
	"task-management-api/internal/metrics"
	"task-management-api/internal/middleware"
	"task-management-api/internal/ratelimit"
	"task-management-api/internal/repository"
	"task-management-api/internal/repository/memory"
	"task-management-api/internal/router"
	"task-management-api/internal/security"
	"task-management-api/internal/service"
	"task-management-api/internal/worker"
)

const Version = "1.0.0"

type App struct {
	server       *http.Server
	auth         *service.AuthService
	cancel       context.CancelFunc
	background   []<-chan struct{}
	cleanupFuncs []func()
}

type options struct {
	sender   mail.Sender
	clock    security.Clock
	registry *prometheus.Registry
}

type Option func(*options)

// WithMailSender replaces the sender chosen by MAIL_DRIVER.
func WithMailSender(sender mail.Sender) Option {
	return func(o *options) { o.sender = sender }
}

func WithClock(clock security.Clock) Option {
	return func(o *options) { o.clock = clock }
}

type stores struct {
	users    service.UserStore
	sessions interface {
		service.SessionStore
		worker.Expirer
	}
	oneTime interface {
		service.OneTimeTokenStore
		worker.Expirer
	}
	audit service.AuditStore
	db    *database.DB
}

func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	if cfg.DatabaseURL == "" {
		slog.Warn("DATABASE_URL not set; using in-memory stores, state is lost on restart")
		return &stores{
			users:    memory.NewUserStore(),
			sessions: memory.NewSessionStore(),
			oneTime:  memory.NewOneTimeTokenStore(),
			audit:    memory.NewAuditStore(),
		}, nil
	}

	if cfg.AutoMigrate {
		if err := database.Migrate(cfg.DatabaseURL); err != nil {
			return nil, fmt.Errorf("apply migrations: %w", err)
		}
	}

	slog.Info("connecting to PostgreSQL")
	db, err := database.New(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	return &stores{
		users:    repository.NewUserRepository(db.Pool),
		sessions: repository.NewSessionRepository(db.Pool),
		oneTime:  repository.NewOneTimeTokenRepository(db.Pool),
		audit:    repository.NewAuditRepository(db.Pool),
		db:       db,
	}, nil
}

func newSender(cfg *config.Config) (mail.Sender, error) {
	if cfg.MailDriver != "smtp" {
		return mail.LogSender{}, nil
	}
	return mail.NewSMTPSender(mail.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUser,
		Password: cfg.SMTPPassword,
		From:     cfg.MailFrom,
	})
}

func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	o := options{clock: security.SystemClock{}}
	for _, opt := range opts {
		opt(&o)
	}
	if o.registry == nil {
		o.registry = prometheus.NewRegistry()
		o.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	if o.sender == nil {
		sender, err := newSender(cfg)
		if err != nil {
			return nil, fmt.Errorf("configure mail: %w", err)
		}
		o.sender = sender
	}

	st, err := openStores(ctx, cfg)
	if err != nil {
		return nil, err
	}

	a := &App{}
	if st.db != nil {
		a.cleanupFuncs = append(a.cleanupFuncs, st.db.Close)
	}

	collector := metrics.NewCollector(o.registry)
	retry := service.RetryPolicy{
		MaxRetries: uint64(max(cfg.StoreReadRetries, 0)),
		Base:       cfg.StoreRetryBase,
		Timeout:    cfg.StoreTimeout,
	}

	limitTarget := worker.Target{Name: "rate_limit_memory"}
	var limitStore ratelimit.Store
	if cfg.RateLimitStore == "postgres" && st.db != nil {
		counters := repository.NewRateLimitRepository(st.db.Pool)
		limitStore, limitTarget = counters, worker.Target{Name: "rate_limit_counters", Store: counters}
	} else {
		counters := ratelimit.NewMemoryStore()
		limitStore, limitTarget.Store = counters, counters
	}

	policy, err := ratelimit.ParseFailurePolicy(cfg.RateLimitFailurePolicy)
	if err != nil {
		a.Close()
		return nil, err
	}
	limiter := ratelimit.New(limitStore,
		ratelimit.WithClock(o.clock),
		ratelimit.WithStoreTimeout(cfg.RateLimitStoreTimeout),
		ratelimit.WithFailurePolicy(policy),
		ratelimit.WithStoreFailureHook(func(error) { collector.RecordRateLimitStoreFailure() }),
	)

	hasher, err := security.NewBcryptHasher(cfg.BcryptCost)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("configure password hashing: %w", err)
	}

	tokens, err := service.NewTokenService(service.TokenConfig{
		Secret:     cfg.JWTSecret,
		Issuer:     cfg.JWTIssuer,
		AccessTTL:  cfg.JWTAccessTTL,
		RefreshTTL: cfg.JWTRefreshTTL,
	}, st.sessions, o.clock, retry)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("initialize token service: %w", err)
	}

	oneTime := service.NewOneTimeTokenService(st.oneTime, o.clock, retry, cfg.EmailVerifyTTL, cfg.PasswordResetTTL)
	audit := service.NewAuditService(st.audit, o.clock, cfg.StoreTimeout, collector)
	bus := event.NewBus()

	a.auth, err = service.NewAuthService(service.AuthConfig{
		PasswordMinLength:       cfg.PasswordMinLength,
		RegisterIssuesTokens:    cfg.RegisterIssuesTokens,
		RequireVerifiedLogin:    cfg.RequireVerifiedLogin,
		AppBaseURL:              cfg.AppBaseURL,
		LoginAttemptsPerAccount: cfg.LoginAttemptsPerAccount,
		LoginWindow:             cfg.RateLimitWindow,
	}, service.AuthDeps{
		Users:   st.users,
		Tokens:  tokens,
		OneTime: oneTime,
		Hasher:  hasher,
		Audit:   audit,
		Bus:     bus,
		Limiter: limiter,
		Replays: collector,
		Clock:   o.clock,
		Retry:   retry,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("initialize auth service: %w", err)
	}

	bgCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.cancel = cancel
	a.background = append(a.background,
		mail.NewDispatcher(bus, o.sender, cfg.MailSendTimeout, collector).Start(bgCtx),
		worker.NewCleanup(cfg.CleanupInterval, o.clock, collector,
			worker.Target{Name: "sessions", Store: st.sessions},
			worker.Target{Name: "one_time_tokens", Store: st.oneTime, Retention: cfg.OneTimeTokenRetention},
			limitTarget,
		).Start(bgCtx),
	)

	var pinger interface {
		Ping(ctx context.Context) error
	}
	if st.db != nil {
		pinger = st.db
	}

	h := router.Handlers{
		Auth:   handler.NewAuthHandler(a.auth),
		Audit:  handler.NewAuditHandler(audit),
		Health: handler.NewHealthHandler(pinger, Version),
		Docs:   handler.NewDocsHandler(),
	}
	if cfg.MetricsEnabled {
		h.Metrics = metrics.Handler(o.registry)
	}

	appRouter := router.New(cfg,
		middleware.NewAuthMiddleware(tokens),
		middleware.NewRateLimitMiddleware(limiter, cfg.RateLimitWindow, collector, audit),
		collector,
		h,
	)

	a.server = &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           appRouter,
		ReadHeaderTimeout: cfg.ServerReadTimeout,
		ReadTimeout:       cfg.ServerReadTimeout,
		WriteTimeout:      cfg.ServerWriteTimeout,
		IdleTimeout:       cfg.ServerIdleTimeout,
	}

	return a, nil
}

func (a *App) Handler() http.Handler {
	return a.server.Handler
}

func (a *App) Auth() *service.AuthService {
	return a.auth
}

// Close stops background workers, flushing queued mail, then releases the
// database pool.
func (a *App) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	for _, done := range a.background {
		<-done
	}
	a.background = nil

	for _, cleanup := range a.cleanupFuncs {
		cleanup()
	}
	a.cleanupFuncs = nil
}

func (a *App) Run() error {
	serveErr := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	select {
	case err := <-serveErr:
		a.Close()
		return fmt.Errorf("server failed: %w", err)
	case <-stop:
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	shutdownErr := a.server.Shutdown(ctx)
	a.Close()
	if shutdownErr != nil {
		return fmt.Errorf("graceful shutdown failed: %w", shutdownErr)
	}

	slog.Info("server stopped")
	return nil
}
