// Package server exposes the authentication orchestrator over HTTP with
// cookie-backed sessions.
package server

import (
	"context"
	"crypto/sha256"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/hashicorp/terraform-plugin-log/tflog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/isometry/ad-auth-bridge/internal/auth"
	"github.com/isometry/ad-auth-bridge/internal/config"
	"github.com/isometry/ad-auth-bridge/internal/logging"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 5 * time.Second
)

// Authenticator runs a login and installs the principal on success.
type Authenticator interface {
	Login(ctx context.Context, req auth.Request, sc auth.SecurityContext) auth.AuthResult
}

// HealthChecker reports whether a dependency is usable.
type HealthChecker interface {
	Healthcheck(ctx context.Context) error
}

// Server is the HTTP login adapter.
type Server struct {
	httpServer *http.Server
}

// Option configures the router.
type Option func(*routerOptions)

type routerOptions struct {
	gatherer prometheus.Gatherer
}

// WithMetrics serves gatherer at /metrics.
func WithMetrics(gatherer prometheus.Gatherer) Option {
	return func(o *routerOptions) {
		o.gatherer = gatherer
	}
}

// New creates a Server listening on cfg.Listen. Request contexts carry the
// loggers of ctx but not its cancellation, so in-flight logins complete while
// Run drains them.
func New(ctx context.Context, cfg config.ServerConfig, authenticator Authenticator, health HealthChecker, opts ...Option) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.Listen,
			Handler:           NewRouter(cfg, authenticator, health, opts...),
			ReadHeaderTimeout: readHeaderTimeout,
			BaseContext: func(net.Listener) context.Context {
				return context.WithoutCancel(ctx)
			},
		},
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.ListenAndServe()
	}()

	tflog.SubsystemInfo(ctx, logging.HTTPSubsystem, "Server listening", map[string]any{
		"address": s.httpServer.Addr,
	})

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	tflog.SubsystemInfo(ctx, logging.HTTPSubsystem, "Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

// NewRouter builds the gin engine.
func NewRouter(cfg config.ServerConfig, authenticator Authenticator, health HealthChecker, opts ...Option) *gin.Engine {
	var options routerOptions
	for _, opt := range opts {
		opt(&options)
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.Use(sessions.Sessions(cfg.SessionName, newSessionStore(cfg)))

	h := &handlers{authenticator: authenticator, health: health}

	r.GET("/healthz", h.healthz)
	if options.gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(options.gatherer, promhttp.HandlerOpts{})))
	}

	api := r.Group("/api")
	api.POST("/login", h.login)
	api.POST("/logout", h.logout)
	api.GET("/whoami", h.whoami)

	return r
}

// newSessionStore returns a signed and encrypted cookie store.
func newSessionStore(cfg config.ServerConfig) sessions.Store {
	encryptionKey := sha256.Sum256([]byte(cfg.SessionSecret))
	store := cookie.NewStore([]byte(cfg.SessionSecret), encryptionKey[:])
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   int(cfg.SessionMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   cfg.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	return store
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		tflog.SubsystemDebug(c.Request.Context(), logging.HTTPSubsystem, "Request served", map[string]any{
			"method":      c.Request.Method,
			"path":        c.FullPath(),
			"status":      c.Writer.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
		})
	}
}
