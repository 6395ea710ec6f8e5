// Package server sets up the HTTP server, router, and all route definitions.
//
// SERVER ARCHITECTURE:
// This package is the "wiring" layer. It connects handlers, middleware and
// routes, and it is the only place that knows every concrete type:
//
//	config.Config → sqlite.DB, auth.TokenService, authz.Policy, upload.Storage,
//	                imaging.Thumbnailer, mailer (SendGrid or Log)
//	              → service.Deps → AuthService, CollectionsService, CockpitService
//	              → handler.AuthHandler, CollectionsHandler, CockpitHandler
//
// This is the "composition root" pattern: dependencies are wired in one
// place (New/setupRoutes) rather than scattered across the codebase.
package server

import (
	"context"
	"crypto/subtle"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sakif/pairshot/internal/auth"
	"github.com/sakif/pairshot/internal/authz"
	"github.com/sakif/pairshot/internal/config"
	"github.com/sakif/pairshot/internal/handler"
	"github.com/sakif/pairshot/internal/imaging"
	"github.com/sakif/pairshot/internal/mailer"
	"github.com/sakif/pairshot/internal/middleware"
	sqliteRepo "github.com/sakif/pairshot/internal/repository/sqlite"
	"github.com/sakif/pairshot/internal/service"
	"github.com/sakif/pairshot/internal/upload"
)

// Server represents the HTTP server and all its dependencies.
//
// RESOURCE MANAGEMENT:
// The Server owns the database connection. Start closes it during graceful
// shutdown so pending WAL writes are flushed and the file lock released.
type Server struct {
	router *chi.Mux
	config *config.Config
	logger *slog.Logger
	db     *sqliteRepo.DB
	tokens *auth.TokenService
	files  *upload.Storage

	authHandler        *handler.AuthHandler
	collectionsHandler *handler.CollectionsHandler
	cockpitHandler     *handler.CockpitHandler
}

// New assembles the whole dependency chain from cfg.
//
// IMPORT ALIAS:
// repository/sqlite is imported as sqliteRepo so it is not confused with
// the sqlite driver package.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	// === DATABASE ===
	db, err := sqliteRepo.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
		db:     db,
	}

	if err := s.wire(); err != nil {
		db.Close()
		return nil, err
	}
	s.setupRoutes()
	return s, nil
}

// wire builds services and handlers.
func (s *Server) wire() error {
	cfg := s.config

	tokens, err := auth.NewTokenService(cfg.Auth.JWTSecret)
	if err != nil {
		return fmt.Errorf("creating token service: %w", err)
	}
	s.tokens = tokens

	policy, err := authz.New(authz.Config{ModelPath: cfg.Authz.ModelPath, PolicyPath: cfg.Authz.PolicyPath}, s.logger)
	if err != nil {
		return fmt.Errorf("loading authorization policy: %w", err)
	}

	files, err := upload.New(cfg.Storage.UploadsDir, cfg.Storage.PublicPrefix)
	if err != nil {
		return fmt.Errorf("preparing uploads directory: %w", err)
	}
	s.files = files
	images, err := imaging.New(imaging.Config{
		Root:         files.Root(),
		PublicPrefix: cfg.Storage.PublicPrefix,
		BaseURL:      baseURL(cfg.Server.APIHost),
	})
	if err != nil {
		return fmt.Errorf("creating thumbnailer: %w", err)
	}

	deps := service.Deps{
		Store:       s.db,
		Collections: s.db,
		Tokens:      tokens,
		Passwords:   auth.NewPasswordService(cfg.Auth.BcryptCost),
		Policy:      policy,
		Mailer:      newMailer(cfg.Mail, s.logger),
		Templates:   mailer.NewTemplates(cfg.Mail.TemplateDir),
		Images:      images,
		Files:       files,
		Logger:      s.logger,
	}
	settings := service.Settings{
		SessionTTL: cfg.Auth.SessionTTL,
		ResetTTL:   cfg.Auth.ResetTTL,
		VerifyTTL:  cfg.Auth.VerifyTTL,
		PublicURL:  cfg.Server.PublicURL,
		APIHost:    cfg.Server.APIHost,
		Edition:    cfg.App.Edition,
	}

	collections := service.NewCollectionsService(deps, settings)
	if err := collections.LoadPolicies(context.Background()); err != nil {
		return fmt.Errorf("loading collection policies: %w", err)
	}

	maxBody := cfg.Storage.MaxUploadMB << 20
	s.authHandler = handler.NewAuthHandler(service.NewAuthService(deps, settings), maxBody, s.logger)
	s.collectionsHandler = handler.NewCollectionsHandler(collections, maxBody, s.logger)
	s.cockpitHandler = handler.NewCockpitHandler(service.NewCockpitService(deps), maxBody, s.logger)
	return nil
}

// newMailer picks the delivery adapter. The log provider is for local
// development: messages end up in the log instead of an inbox.
func newMailer(cfg config.MailConfig, logger *slog.Logger) mailer.Mailer {
	if cfg.Provider == "sendgrid" {
		return mailer.NewSendGrid(mailer.SendGridConfig{
			APIKey:      cfg.APIKey,
			FromName:    cfg.FromName,
			FromAddress: cfg.FromAddress,
			Logger:      logger,
		})
	}
	logger.Warn("mail provider is \"log\": no mail will be delivered")
	return mailer.NewLog(logger)
}

// requireBearer answers 401 unless the request carries token as a bearer
// credential.
func requireBearer(token string, next http.Handler) http.Handler {
	want := []byte("Bearer " + token)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if subtle.ConstantTimeCompare([]byte(r.Header.Get("Authorization")), want) != 1 {
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// filesOnly hides directories from http.FileServer so uploads can be
// fetched by path but never listed.
type filesOnly struct{ root http.FileSystem }

func (f filesOnly) Open(name string) (http.File, error) {
	file, err := f.root.Open(name)
	if err != nil {
		return nil, err
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}
	if info.IsDir() {
		file.Close()
		return nil, fs.ErrNotExist
	}
	return file, nil
}

// baseURL turns the configured API host into an absolute URL prefix.
func baseURL(host string) string {
	host = strings.TrimRight(host, "/")
	if strings.Contains(host, "://") {
		return host
	}
	return "http://" + host
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
// GET       /healthz                         → liveness + database ping
// GET       /metrics                         → Prometheus exposition (bearer token)
// GET       /storage/*                       → uploaded files
// POST      /api/cockpit/authUser            → login            (rate limited)
// POST      /api/cockpit/isLogged            → session refresh
// POST      /api/cockpit/saveUser            → sign-up / account update
// POST      /api/cockpit/verifyEmail         → account activation
// POST      /api/cockpit/resetPassword       → reset mail       (rate limited)
// POST      /api/cockpit/verifyLostPassLink  → reset code check
// POST      /api/cockpit/savePassword        → new password     (rate limited)
// GET|POST  /api/cockpit/listUsers           → account directory
// POST      /api/cockpit/uploadPortfolio     → portfolio picture (auth)
// POST      /api/cockpit/removePortfolioImage→ portfolio removal (auth)
// GET       /api/cockpit/image               → image derivatives
// GET|POST  /api/cockpit/assets              → asset listing
// GET|POST  /api/collections/get/{collection}
// POST      /api/collections/save/{collection}
// POST      /api/collections/remove/{collection}
// POST      /api/collections/createCollection
// POST      /api/collections/updateCollection/{name}
// GET       /api/collections/collection/{name}
// GET       /api/collections/listCollections
// POST      /api/collections/upload          → discussion turn
//
// MIDDLEWARE ORDER MATTERS:
//  1. RequestID: every log line of a request shares an id
//  2. RealIP: rate limits and logs see the client, not the proxy
//  3. Logger, then Recoverer: a panic is still logged as a 500
//  4. Metrics: per route pattern
//  5. CORS: answers preflights before auth runs
//  6. OptionalAuth: puts the caller, if any, in the context
func (s *Server) setupRoutes() {
	cfg := s.config

	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.Metrics)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.Server.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))
	s.router.Use(auth.OptionalAuth(s.tokens))

	s.router.Get("/healthz", s.handleHealth)
	if cfg.Server.MetricsToken != "" {
		s.router.Handle("/metrics", requireBearer(cfg.Server.MetricsToken, promhttp.Handler()))
	}

	prefix := strings.TrimRight(cfg.Storage.PublicPrefix, "/")
	fileServer := http.FileServer(filesOnly{http.Dir(s.files.Root())})
	s.router.Handle(prefix+"/*", http.StripPrefix(prefix+"/", fileServer))

	// Credential endpoints are limited per client IP.
	limited := func(r chi.Router) chi.Router { return r }
	if cfg.Server.RateLimit > 0 {
		limiter := httprate.LimitByIP(cfg.Server.RateLimit, time.Minute)
		limited = func(r chi.Router) chi.Router { return r.With(limiter) }
	}

	ah, ch, kh := s.authHandler, s.collectionsHandler, s.cockpitHandler

	s.router.Route("/api/cockpit", func(r chi.Router) {
		limited(r).Post("/authUser", ah.HandleAuthUser)
		limited(r).Post("/resetPassword", ah.HandleResetPassword)
		limited(r).Post("/savePassword", ah.HandleSavePassword)

		r.Post("/isLogged", ah.HandleIsLogged)
		r.Post("/saveUser", ah.HandleSaveUser)
		r.Post("/verifyEmail", ah.HandleVerifyEmail)
		r.Post("/verifyLostPassLink", ah.HandleVerifyLostPassLink)
		r.Get("/listUsers", ah.HandleListUsers)
		r.Post("/listUsers", ah.HandleListUsers)
		r.Get("/image", kh.HandleImage)
		r.Get("/assets", kh.HandleAssets)
		r.Post("/assets", kh.HandleAssets)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAuth(s.tokens))
			r.Post("/uploadPortfolio", ah.HandleUploadPortfolio)
			r.Post("/removePortfolioImage", ah.HandleRemovePortfolioImage)
		})
	})

	s.router.Route("/api/collections", func(r chi.Router) {
		r.Get("/get/{collection}", ch.HandleGet)
		r.Post("/get/{collection}", ch.HandleGet)
		r.Post("/save/{collection}", ch.HandleSave)
		r.Post("/remove/{collection}", ch.HandleRemove)
		r.Post("/createCollection", ch.HandleCreateCollection)
		r.Post("/updateCollection/{name}", ch.HandleUpdateCollection)
		r.Get("/collection/{name}", ch.HandleCollection)
		r.Get("/listCollections", ch.HandleListCollections)
		r.Post("/upload", ch.HandleUpload)
	})
}

// handleHealth answers 200 while the database responds.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := s.db.Ping(); err != nil {
		s.logger.Error("health check failed", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"unavailable"}`))
		return
	}
	w.Write([]byte(`{"status":"ok"}`))
}

// Handler exposes the router, for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close releases the database. Start calls it on shutdown.
func (s *Server) Close() error {
	return s.db.Close()
}

// Start starts the HTTP server and handles graceful shutdown.
//
// GRACEFUL SHUTDOWN:
//  1. Stop accepting new HTTP connections
//  2. Wait for in-flight requests to finish (30s timeout)
//  3. Close the database connection (flushes WAL, releases file lock)
func (s *Server) Start() error {
	defer s.Close()

	// WriteTimeout leaves room for thumbnailing large uploads.
	srv := &http.Server{
		Addr:         s.config.Addr(),
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.String("addr", srv.Addr),
			slog.String("database", s.config.Database.Path),
			slog.String("uploads", s.config.Storage.UploadsDir),
			slog.String("mail_provider", s.config.Mail.Provider),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
