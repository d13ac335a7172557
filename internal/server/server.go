package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jjudge-oj/identity/config"
	"github.com/jjudge-oj/identity/internal/auth"
	"github.com/jjudge-oj/identity/internal/db"
	"github.com/jjudge-oj/identity/internal/handlers"
	"github.com/jjudge-oj/identity/internal/metrics"
	"github.com/jjudge-oj/identity/internal/mq"
	"github.com/jjudge-oj/identity/internal/notify"
	"github.com/jjudge-oj/identity/internal/services"
	"github.com/jjudge-oj/identity/internal/store"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server wraps the HTTP server and router.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	db         *sql.DB
	mq         *mq.MQ
	logger     *slog.Logger
}

// Users is a credential store backed by Postgres or by process memory.
type Users struct {
	services.UserRepository
	db *sql.DB
}

// Close releases the database connection, if any.
func (u *Users) Close() error {
	if u.db == nil {
		return nil
	}
	return u.db.Close()
}

// OpenUsers selects the credential store named by cfg.Database. Postgres
// stores are migrated after the connection answers when DB_AUTO_MIGRATE is set.
func OpenUsers(ctx context.Context, cfg config.Config, hasher store.PasswordHasher) (*Users, error) {
	if cfg.Database.InMemory() {
		return &Users{UserRepository: store.NewMemoryUserRepository(hasher)}, nil
	}

	// Open pings with backoff, so migrations only run once Postgres answers.
	dsn := cfg.Database.DSN()
	conn, err := openDB(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if cfg.Database.AutoMigrate {
		if err := migrateUp(dsn); err != nil {
			_ = conn.Close()
			return nil, err
		}
	}
	return &Users{UserRepository: store.NewUserRepository(conn, hasher), db: conn}, nil
}

// Replaced in tests.
var (
	openDB    = db.Open
	migrateUp = runMigrations
)

func runMigrations(dsn string) error {
	migrator, err := db.NewMigrator(dsn)
	if err != nil {
		return err
	}
	defer func() {
		_ = migrator.Close()
	}()
	return migrator.Up()
}

// New constructs a Server with basic middleware and defaults.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	hasher := auth.NewPasswordHasher(cfg.Auth.BcryptCost)
	users, err := OpenUsers(ctx, cfg, hasher)
	if err != nil {
		return nil, err
	}

	broker, err := mq.Open(ctx, cfg.ResetNotify)
	if err != nil {
		_ = users.Close()
		return nil, err
	}

	registry, m := metrics.NewRegistry()
	sessions := auth.NewSessionTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, nil)

	opts := []services.Option{
		services.WithMetrics(m),
		services.WithLogger(logger.With("component", "accounts")),
	}
	if broker != nil {
		opts = append(opts, services.WithResetNotifier(notify.NewResetNotifier(broker, cfg.ResetNotify.Channel)))
	}
	accounts := services.NewAccountService(users, hasher, sessions, auth.NewResetTokenManager(nil), opts...)

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		middleware.Logger,
		middleware.Timeout(60*time.Second),
		handlers.Authenticate(auth.NewGate(sessions)),
	)
	router.Get("/healthz", handlers.Healthz)
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	router.Route("/auth", func(r chi.Router) {
		handlers.AuthRouter(r, accounts)
	})

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: httpServer,
		router:     router,
		db:         users.db,
		mq:         broker,
		logger:     logger,
	}, nil
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start runs the HTTP server. It returns nil after a graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and closes the database and broker.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	if s.mq != nil {
		err = errors.Join(err, s.mq.Close())
	}
	if s.db != nil {
		err = errors.Join(err, s.db.Close())
	}
	return err
}
