// ABOUTME: Gateway orchestrator that wires the session registry to the HTTP API
// ABOUTME: Manages listeners (TCP or Tailscale), health endpoints, and shutdown order

package gateway

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/wa-broker/internal/auth"
	"github.com/2389/wa-broker/internal/backend"
	"github.com/2389/wa-broker/internal/backend/whatsapp"
	"github.com/2389/wa-broker/internal/config"
	"github.com/2389/wa-broker/internal/dedupe"
	"github.com/2389/wa-broker/internal/media"
	"github.com/2389/wa-broker/internal/session"
	"github.com/2389/wa-broker/internal/store"
)

// Gateway orchestrates the wa-broker server components.
type Gateway struct {
	config      *config.Config
	registry    *session.Registry
	authStore   *store.AuthStore
	fetcher     *media.Fetcher
	replays     *dedupe.Cache
	handler     http.Handler
	httpServer  *http.Server
	tsnetServer *tsnet.Server
	logger      *slog.Logger
	startedAt   time.Time
}

type options struct {
	backend backend.Backend
}

// Option customizes New.
type Option func(*options)

// WithBackend replaces the whatsmeow backend, e.g. with backend.MockBackend in tests.
func WithBackend(b backend.Backend) Option {
	return func(o *options) {
		o.backend = b
	}
}

// New creates a new Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Gateway, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	authStore, err := store.NewAuthStore(cfg.WhatsApp.AuthDir, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing auth store: %w", err)
	}
	if users, err := authStore.List(); err != nil {
		logger.Warn("listing stored credentials failed", "error", err)
	} else if len(users) > 0 {
		logger.Info("found stored credentials", "resumable", len(users), "user_ids", users)
	}

	be := o.backend
	if be == nil {
		wa, err := whatsapp.New(whatsapp.Config{
			Driver: cfg.WhatsApp.SQLDriver,
			OSName: cfg.WhatsApp.OSName,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("initializing backend: %w", err)
		}
		be = wa
	}

	registry, err := session.NewRegistry(session.RegistryConfig{
		Backend:          be,
		AuthStore:        authStore,
		Logger:           logger.With("component", "sessions"),
		IdleTimeout:      cfg.Sessions.IdleTimeout,
		PollInterval:     cfg.Sessions.PollInterval,
		RecreateInterval: cfg.Sessions.RecreateInterval,
		RecreateBurst:    cfg.Sessions.RecreateBurst,
		RecreateMaxDelay: cfg.Sessions.RecreateMaxDelay,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing session registry: %w", err)
	}

	gw := &Gateway{
		config:    cfg,
		registry:  registry,
		authStore: authStore,
		fetcher:   media.NewFetcher(cfg.Media.FetchTimeout, cfg.Media.MaxBytes, logger),
		replays:   dedupe.New(dedupe.DefaultTTL, dedupe.DefaultMaxKeys),
		logger:    logger.With("component", "gateway"),
		startedAt: time.Now(),
	}

	mux := http.NewServeMux()

	// Health endpoints - no auth required
	mux.HandleFunc("GET /health", gw.handleHealth)
	mux.HandleFunc("GET /health/ready", gw.handleReady)

	// API endpoints - auth required if JWT secret is configured
	if err := gw.registerHTTPAPIRoutes(mux, cfg, logger); err != nil {
		gw.replays.Close()
		registry.Close()
		return nil, err
	}

	gw.handler = mux
	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// registerHTTPAPIRoutes mounts the session API, wrapped in JWT auth when a secret is set.
func (g *Gateway) registerHTTPAPIRoutes(mux *http.ServeMux, cfg *config.Config, logger *slog.Logger) error {
	routes := map[string]http.HandlerFunc{
		"POST /start-session":       g.handleStartSession,
		"GET /check-login/{userId}": g.handleCheckLogin,
		"POST /send-message":        g.idempotent(g.handleSendMessage),
		"POST /send-pdf-url":        g.idempotent(g.handleSendPDFURL),
		"POST /send-pdf-base64":     g.idempotent(g.handleSendPDFBase64),
		"POST /send-image-base64":   g.idempotent(g.handleSendImageBase64),
		"GET /sessions":             g.handleListSessions,
		"DELETE /sessions/{userId}": g.handleLogout,
	}

	wrap := func(h http.Handler) http.Handler { return h }
	if cfg.Auth.JWTSecret != "" {
		verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
		if err != nil {
			return fmt.Errorf("creating HTTP JWT verifier: %w", err)
		}
		wrap = auth.HTTPAuthMiddleware(verifier, logger.With("component", "auth"))
		logger.Info("HTTP auth middleware enabled")
	} else {
		logger.Warn("HTTP auth disabled - no jwt_secret configured")
	}

	for pattern, h := range routes {
		mux.Handle(pattern, wrap(h))
	}
	return nil
}

// Handler returns the HTTP handler serving every gateway route.
func (g *Gateway) Handler() http.Handler {
	return g.handler
}

// Registry returns the session registry.
func (g *Gateway) Registry() *session.Registry {
	return g.registry
}

// setupTCPListener creates a standard TCP listener for HTTP.
func (g *Gateway) setupTCPListener() (net.Listener, error) {
	g.logger.Info("starting gateway", "http_addr", g.config.Server.HTTPAddr)

	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// setupListener creates the listener based on configuration (Tailscale or TCP).
func (g *Gateway) setupListener(ctx context.Context) (net.Listener, error) {
	if g.config.Tailscale.Enabled {
		if os.Getenv("PORT") != "" {
			g.logger.Warn("PORT and server.http_addr are ignored when tailscale is enabled",
				"http_addr", g.config.Server.HTTPAddr,
			)
		}
		return g.setupTailscaleListener(ctx)
	}
	return g.setupTCPListener()
}

// startServer starts the HTTP server in a goroutine, returning its error channel.
func (g *Gateway) startServer(ln net.Listener) chan error {
	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()
	return errCh
}

// waitForShutdownSignal waits for context cancellation or server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		return err
	}
}

// Run starts the HTTP server and blocks until the context is canceled.
// Returns nil on graceful shutdown (context canceled), or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := g.setupListener(ctx)
	if err != nil {
		g.registry.Close()
		g.replays.Close()
		return err
	}

	errCh := g.startServer(ln)
	serverErr := g.waitForShutdownSignal(ctx, errCh)

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() since the original context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "wa-broker", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable")
	}
	return authKey, nil
}

// setupTailscaleListener creates a tsnet server and returns the HTTP listener on it.
func (g *Gateway) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := g.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, err
	}

	g.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	g.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := g.tsnetServer.Up(ctx)
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}
	g.logTailscaleStatus(tsCfg.Hostname, status)

	return g.createTailscaleHTTPListener(tsCfg)
}

// logTailscaleStatus logs info about the tailscale node status.
func (g *Gateway) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		g.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	g.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}

// createTailscaleHTTPListener creates the appropriate HTTP listener based on config.
func (g *Gateway) createTailscaleHTTPListener(tsCfg config.TailscaleConfig) (net.Listener, error) {
	switch {
	case tsCfg.Funnel:
		g.logger.Info("enabling tailscale funnel (public HTTPS) on :443")
		ln, err := g.tsnetServer.ListenFunnel("tcp", ":443")
		if err != nil {
			_ = g.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale funnel port: %w", err)
		}
		return ln, nil
	case tsCfg.HTTPS:
		return g.createTailscaleTLSListener()
	default:
		ln, err := g.tsnetServer.Listen("tcp", ":80")
		if err != nil {
			_ = g.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
		}
		return ln, nil
	}
}

// createTailscaleTLSListener creates a TLS listener using Tailscale's auto-provisioned certs.
func (g *Gateway) createTailscaleTLSListener() (net.Listener, error) {
	g.logger.Info("enabling HTTPS with Tailscale certs on :443")
	ln, err := g.tsnetServer.Listen("tcp", ":443")
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale HTTPS port: %w", err)
	}
	lc, err := g.tsnetServer.LocalClient()
	if err != nil {
		_ = ln.Close()
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("getting tailscale local client: %w", err)
	}
	return tls.NewListener(ln, &tls.Config{
		GetCertificate: lc.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}), nil
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops accepting requests, then closes every session. Credentials
// stay on disk so sessions resume after a restart.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}

	g.registry.Close()
	g.replays.Close()

	return errors.Join(errs...)
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK with the number of live and ready sessions.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d sessions, %d authenticated, up %s)",
		g.registry.Len(), g.registry.CountReady(), time.Since(g.startedAt).Round(time.Second))
}
