// Package server sets up the HTTP server, router, and all route definitions.
//
// SERVER ARCHITECTURE:
// This package is the wiring layer. It decides which URL patterns map to
// which handlers, what middleware runs on which routes, and how the server
// starts and stops.
//
// DEPENDENCY INJECTION FLOW:
//
//	config.Config → Server.New() creates:
//	  sqlite.DB → LocationService (+ Geonames) → IdentityService
//	  sqlite.DB → AuthService
//	  SessionService, providers → identity middleware
//	  services → handlers → routes
//
// Every dependency is assembled here, in one composition root.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/fixjam/internal/auth"
	"github.com/sakif/fixjam/internal/config"
	"github.com/sakif/fixjam/internal/geo"
	"github.com/sakif/fixjam/internal/handler"
	"github.com/sakif/fixjam/internal/middleware"
	"github.com/sakif/fixjam/internal/model"
	sqliteRepo "github.com/sakif/fixjam/internal/repository/sqlite"
	"github.com/sakif/fixjam/internal/service"
)

// Server represents the HTTP server and all its dependencies.
//
// RESOURCE MANAGEMENT:
// The Server owns the database connection and closes it on shutdown.
type Server struct {
	router *chi.Mux
	config *config.Config
	logger *slog.Logger
	db     *sqliteRepo.DB
}

// New opens the database and builds the router.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	db, err := sqliteRepo.New(cfg.Server.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
		db:     db,
	}

	if err := s.setupRoutes(); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting up routes: %w", err)
	}
	return s, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close releases the database.
func (s *Server) Close() error {
	return s.db.Close()
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
// GET    /healthz               → database ping (no identity resolution)
// POST   /auth/register         → create native account
// POST   /auth/login            → native login
// POST   /auth/logout           → clear session
// GET    /auth/twitter/login    → start Twitter OAuth (if configured)
// GET    /auth/twitter/callback → finish Twitter OAuth
// GET    /api/me                → current identity          [login required]
// GET    /api/me/location       → derive + return location  [login required]
// GET    /api/me/pages          → connected Facebook pages  [login required]
// POST   /api/me/status         → post a Twitter status     [login required]
//
// MIDDLEWARE ORDER:
// RequestID, RealIP, Recoverer, Logger run on every request. ResolveIdentity
// wraps everything except /healthz, so a banned identity is refused before
// any handler runs.
func (s *Server) setupRoutes() error {
	cfg := s.config

	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.Logger(s.logger))

	sessions, err := auth.NewSessionService(cfg.Server.SessionSecret, cfg.Server.SessionTTL, cfg.Server.CookieSecure)
	if err != nil {
		return fmt.Errorf("creating session service: %w", err)
	}

	geocoder := geo.NewGeonames(geo.Config{
		BaseURL:   cfg.Geonames.BaseURL,
		Username:  cfg.Geonames.Username,
		UserAgent: cfg.Geonames.UserAgent,
		Timeout:   cfg.Geonames.Timeout,
		Rate:      cfg.Geonames.Rate,
		Burst:     cfg.Geonames.Burst,
	})
	locations := service.NewLocationService(s.db, geocoder, s.logger)
	identities := service.NewIdentityService(s.db, s.db, locations, cfg.Server.ProfileCacheTTL, s.logger)
	authService := service.NewAuthService(s.db, auth.NewPasswordService(), s.logger)

	deps := middleware.IdentityDeps{
		Sessions: sessions,
		Proofs:   authService,
		Resolver: identities,
		Logger:   s.logger,
	}

	// === Providers ===
	// An unconfigured provider stays a nil interface, never a typed nil.
	if cfg.Facebook.AppID != "" && cfg.Facebook.AppSecret != "" {
		fb := auth.NewFacebookProvider(cfg.Facebook.AppID, cfg.Facebook.AppSecret, cfg.Facebook.GraphURL)
		deps.Facebook = fb
		deps.FacebookClient = func(sess *model.FacebookSession) service.FacebookClient {
			return fb.Client(sess)
		}
	} else {
		s.logger.Warn("FACEBOOK_APP_ID not set, facebook login is disabled")
	}

	var (
		twitterLogin handler.TwitterLogin
		flows        *auth.FlowStore
	)
	if cfg.Twitter.ClientID != "" {
		tw := auth.NewTwitterProvider(cfg.Twitter.ClientID, cfg.Twitter.ClientSecret, cfg.Twitter.CallbackURL, auth.TwitterEndpoints{
			AuthURL:  cfg.Twitter.AuthURL,
			TokenURL: cfg.Twitter.TokenURL,
			APIURL:   cfg.Twitter.APIURL,
		})
		flows, err = auth.NewFlowStore(cfg.Server.FlowSecret, cfg.Server.CookieSecure)
		if err != nil {
			return fmt.Errorf("creating oauth flow store: %w", err)
		}
		deps.Twitter = tw
		twitterLogin = tw
	} else {
		s.logger.Warn("TWITTER_CLIENT_ID not set, twitter login is disabled")
	}

	authHandler := handler.NewAuthHandler(authService, sessions, flows, twitterLogin, s.logger)
	meHandler := handler.NewMeHandler(identities, s.logger)

	s.router.Get("/healthz", handler.HandleHealth(s.db))

	s.router.Group(func(r chi.Router) {
		r.Use(middleware.ResolveIdentity(deps))

		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", authHandler.HandleRegister)
			r.Post("/login", authHandler.HandleLogin)
			r.Post("/logout", authHandler.HandleLogout)
			r.Get("/twitter/login", authHandler.HandleTwitterLogin)
			r.Get("/twitter/callback", authHandler.HandleTwitterCallback)
		})

		r.Route("/api", func(r chi.Router) {
			r.Use(middleware.RequireIdentity)
			r.Get("/me", meHandler.HandleMe)
			r.Get("/me/location", meHandler.HandleLocation)
			r.Get("/me/pages", meHandler.HandlePages)
			r.Post("/me/status", meHandler.HandleStatus)
		})
	})

	return nil
}

// Start starts the HTTP server and handles graceful shutdown.
//
// GRACEFUL SHUTDOWN:
//  1. Stop accepting new HTTP connections
//  2. Wait for in-flight requests to finish (30s timeout)
//  3. Close the database connection (flushes WAL, releases file lock)
func (s *Server) Start() error {
	defer s.db.Close()

	// WriteTimeout leaves room for a Graph API call plus a 10s geocode.
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Server.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Server.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", s.config.Server.Port)),
			slog.String("database", s.config.Server.DBPath),
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
