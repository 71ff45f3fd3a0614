// Package httptransport provides an HTTP transport.
package httptransport

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/takezou621/sedori-platform-sub003/internal/quota/core"
	"github.com/takezou621/sedori-platform-sub003/internal/quota/observability"
)

// HTTPTransport serves the admission, usage and admin APIs over HTTP.
type HTTPTransport struct {
	addr         string
	srv          *http.Server
	listener     net.Listener
	admission    core.AdmissionService
	admin        core.AdminService
	usage        core.UsageService
	appReady     func() bool
	metrics      http.Handler
	router       http.Handler
	mu           sync.Mutex
	readTimeout  time.Duration
	writeTimeout time.Duration
	idleTimeout  time.Duration
	maxBodyBytes int64
	enableAuth   bool
	adminToken   string
	logger       observability.Logger
	now          func() time.Time
	closed       bool
}

// HTTPTransportConfig configures the HTTP transport.
type HTTPTransportConfig struct {
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	MaxBodyBytes int64
	EnableAuth   bool
	AdminToken   string
	Logger       observability.Logger
	// Metrics serves /metrics; nil disables the route.
	Metrics http.Handler
	// Now is the clock used for RateLimit-Reset headers.
	Now func() time.Time
}

// NewHTTPTransport constructs a transport bound to an address.
func NewHTTPTransport(addr string, ready func() bool) *HTTPTransport {
	if addr == "" {
		addr = ":8080"
	}
	if ready == nil {
		ready = func() bool { return false }
	}
	return &HTTPTransport{addr: addr, appReady: ready, now: time.Now}
}

// ServeAdmission registers the admission service.
func (t *HTTPTransport) ServeAdmission(service core.AdmissionService) error {
	if service == nil {
		return errors.New("admission service is required")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.admission = service
	return nil
}

// ServeAdmin registers the admin service.
func (t *HTTPTransport) ServeAdmin(service core.AdminService) error {
	if service == nil {
		return errors.New("admin service is required")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.admin = service
	return nil
}

// ServeUsage registers the usage service.
func (t *HTTPTransport) ServeUsage(service core.UsageService) error {
	if service == nil {
		return errors.New("usage service is required")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.usage = service
	return nil
}

// Configure applies transport configuration values.
func (t *HTTPTransport) Configure(cfg HTTPTransportConfig) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.readTimeout = cfg.ReadTimeout
	t.writeTimeout = cfg.WriteTimeout
	t.idleTimeout = cfg.IdleTimeout
	if cfg.MaxBodyBytes > 0 {
		t.maxBodyBytes = cfg.MaxBodyBytes
	}
	t.enableAuth = cfg.EnableAuth
	t.adminToken = cfg.AdminToken
	t.logger = cfg.Logger
	t.metrics = cfg.Metrics
	if cfg.Now != nil {
		t.now = cfg.Now
	}
}

// Listen binds the listener without serving. Start calls it when needed.
func (t *HTTPTransport) Listen() (net.Addr, error) {
	if t == nil {
		return nil, errors.New("http transport is nil")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listener != nil {
		return t.listener.Addr(), nil
	}
	listener, err := net.Listen("tcp", t.addr)
	if err != nil {
		return nil, err
	}
	t.listener = listener
	return listener.Addr(), nil
}

// Start begins serving HTTP requests.
func (t *HTTPTransport) Start() error {
	if t == nil {
		return errors.New("http transport is nil")
	}
	handler, err := t.handler()
	if err != nil {
		return err
	}
	if _, err := t.Listen(); err != nil {
		return err
	}
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	if t.srv == nil {
		t.srv = &http.Server{
			Addr:         t.addr,
			Handler:      handler,
			ReadTimeout:  t.readTimeout,
			WriteTimeout: t.writeTimeout,
			IdleTimeout:  t.idleTimeout,
		}
	}
	srv := t.srv
	listener := t.listener
	t.mu.Unlock()

	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the HTTP server.
func (t *HTTPTransport) Shutdown(ctx context.Context) error {
	if t == nil {
		return errors.New("http transport is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	t.mu.Lock()
	t.closed = true
	srv := t.srv
	listener := t.listener
	t.mu.Unlock()
	if srv == nil {
		if listener != nil {
			return listener.Close()
		}
		return nil
	}
	return srv.Shutdown(ctx)
}

// Handler returns the HTTP handler for testing.
func (t *HTTPTransport) Handler() (http.Handler, error) {
	return t.handler()
}

func (t *HTTPTransport) handler() (http.Handler, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.router != nil {
		return t.router, nil
	}
	if t.admission == nil || t.admin == nil || t.usage == nil {
		return nil, errors.New("services must be registered before starting")
	}
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	t.registerRoutes(router)
	t.router = router
	return router, nil
}
