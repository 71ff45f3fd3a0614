// Package app wires application dependencies.
package app

import (
	"context"
	"errors"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/takezou621/sedori-platform-sub003/internal/quota/config"
	"github.com/takezou621/sedori-platform-sub003/internal/quota/core"
	"github.com/takezou621/sedori-platform-sub003/internal/quota/observability"
	"github.com/takezou621/sedori-platform-sub003/internal/quota/store/inmemory"
	"github.com/takezou621/sedori-platform-sub003/internal/quota/store/redisstore"
	grpctransport "github.com/takezou621/sedori-platform-sub003/internal/quota/transport/grpc"
	httptransport "github.com/takezou621/sedori-platform-sub003/internal/quota/transport/http"
)

// Options carries wiring inputs that do not belong in the config file.
type Options struct {
	// Logger defaults to a zap logger on stderr at the configured level.
	Logger observability.Logger
	// Store replaces the store selected by the Redis settings.
	Store core.Store
	// WatchPath enables quota hot reload from the given config file.
	WatchPath string
	Now       func() time.Time
}

// Application holds core components for the service.
type Application struct {
	Config        *config.Config
	Store         core.Store
	Registry      *core.Registry
	Limiter       *core.Limiter
	Usage         *core.UsageRecorder
	Breaker       *core.CircuitBreaker
	Monitor       *core.StoreMonitor
	HealthLoop    *core.HealthLoop
	Watcher       *config.QuotaWatcher
	Metrics       *observability.PrometheusMetrics
	ready         atomic.Bool
	httpTransport *httptransport.HTTPTransport
	grpcTransport *grpctransport.GRPCTransport
	closeStore    func() error
	shutdownTrace func(context.Context) error
	logger        observability.Logger
	cancel        context.CancelFunc
	group         *errgroup.Group
	mu            sync.Mutex
}

// NewApplication validates configuration and prepares the application.
func NewApplication(cfg *config.Config, opts Options) (*Application, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = observability.NewZapLogger(os.Stderr, cfg.LogLevel)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	quotas, err := cfg.QuotaConfigs()
	if err != nil {
		return nil, err
	}
	registry, err := core.NewRegistry(quotas...)
	if err != nil {
		return nil, err
	}

	store := opts.Store
	closeStore := func() error { return nil }
	if store == nil {
		if cfg.Redis.Addr != "" {
			redis, err := redisstore.New(redisstore.Options{
				Addr:        cfg.Redis.Addr,
				Password:    cfg.Redis.Password,
				DB:          cfg.Redis.DB,
				PoolSize:    cfg.Redis.PoolSize,
				DialTimeout: cfg.Redis.DialTimeout,
			})
			if err != nil {
				return nil, err
			}
			store = redis
			closeStore = redis.Close
		} else {
			logger.Warn("redis address not set, using in-memory store", nil)
			store = inmemory.NewStore(now)
		}
	}

	metrics := observability.NewPrometheusMetrics()
	keys := core.NewKeyBuilder(cfg.KeyPrefix)
	breaker := core.NewCircuitBreaker(cfg.BreakerOptions())
	limiter := core.NewLimiter(registry, store, core.LimiterOptions{
		StoreTimeout: cfg.StoreTimeout,
		Now:          now,
		Keys:         keys,
		Breaker:      breaker,
		Logger:       logger,
		Metrics:      metrics,
	})
	usage := core.NewUsageRecorder(store, core.UsageOptions{
		StoreTimeout: cfg.StoreTimeout,
		Retention:    cfg.UsageRetention,
		Now:          now,
		Keys:         keys,
		Logger:       logger,
		Metrics:      metrics,
	})
	monitor := core.NewStoreMonitor(limiter, cfg.UnhealthyAfter, logger)

	app := &Application{
		Config:     cfg,
		Store:      store,
		Registry:   registry,
		Limiter:    limiter,
		Usage:      usage,
		Breaker:    breaker,
		Monitor:    monitor,
		HealthLoop: core.NewHealthLoop(monitor, cfg.HealthInterval),
		Metrics:    metrics,
		closeStore: closeStore,
		logger:     logger,
	}

	if opts.WatchPath != "" {
		watcher, err := config.NewQuotaWatcher(opts.WatchPath, limiter, logger)
		if err != nil {
			return nil, err
		}
		app.Watcher = watcher
	}

	if cfg.HTTP.Enabled {
		transport := httptransport.NewHTTPTransport(cfg.HTTP.Addr, app.Ready)
		if err := transport.ServeAdmission(limiter); err != nil {
			return nil, err
		}
		if err := transport.ServeAdmin(limiter); err != nil {
			return nil, err
		}
		if err := transport.ServeUsage(usage); err != nil {
			return nil, err
		}
		transport.Configure(httptransport.HTTPTransportConfig{
			ReadTimeout:  cfg.HTTP.ReadTimeout,
			WriteTimeout: cfg.HTTP.WriteTimeout,
			IdleTimeout:  cfg.HTTP.IdleTimeout,
			MaxBodyBytes: cfg.HTTP.MaxBodyBytes,
			EnableAuth:   cfg.Auth.Enabled,
			AdminToken:   cfg.Auth.AdminToken,
			Logger:       logger,
			Metrics:      metrics.Handler(),
			Now:          now,
		})
		app.httpTransport = transport
	}

	if cfg.GRPC.Enabled {
		transport := grpctransport.NewGRPCTransport(cfg.GRPC.Addr, grpctransport.GRPCTransportConfig{
			KeepAlive: cfg.GRPC.KeepAlive,
			Logger:    logger,
		})
		monitor.OnChange(func(mode core.OperatingMode) {
			transport.SetServing(mode == core.ModeNormal)
		})
		app.grpcTransport = transport
	}

	return app, nil
}

// Start begins background work for the application.
func (app *Application) Start(ctx context.Context) error {
	if app == nil {
		return errors.New("application is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	_, shutdownTrace, err := observability.InitTracer(ctx, app.Config.Tracing)
	if err != nil {
		return err
	}
	if app.httpTransport != nil {
		if _, err := app.httpTransport.Listen(); err != nil {
			_ = shutdownTrace(ctx)
			return err
		}
	}
	if app.Watcher != nil {
		if _, err := app.Watcher.Reload(); err != nil {
			app.logger.Warn("initial quota reload failed", map[string]any{"error": err.Error()})
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	group, gctx := errgroup.WithContext(ctx)
	app.mu.Lock()
	app.cancel = cancel
	app.group = group
	app.shutdownTrace = shutdownTrace
	app.mu.Unlock()

	group.Go(func() error {
		return app.HealthLoop.Start(gctx)
	})
	if app.Watcher != nil {
		group.Go(func() error {
			return app.Watcher.Start(gctx)
		})
	}
	if app.httpTransport != nil {
		group.Go(app.httpTransport.Start)
	}
	if app.grpcTransport != nil {
		app.grpcTransport.SetServing(app.Monitor.Mode() == core.ModeNormal)
		group.Go(app.grpcTransport.Start)
	}

	app.ready.Store(true)
	app.logger.Info("application started", map[string]any{
		"store":           app.storeKind(),
		"http_enabled":    app.Config.HTTP.Enabled,
		"grpc_enabled":    app.Config.GRPC.Enabled,
		"configured_apis": len(app.Registry.Names()),
	})
	return nil
}

// Shutdown stops background work for the application.
func (app *Application) Shutdown(ctx context.Context) error {
	if app == nil {
		return errors.New("application is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	app.ready.Store(false)
	app.logger.Info("application shutdown", map[string]any{
		"http_enabled": app.Config.HTTP.Enabled,
		"grpc_enabled": app.Config.GRPC.Enabled,
	})
	if app.Config.DrainTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, app.Config.DrainTimeout)
		defer cancel()
	}

	var errs []error
	if app.httpTransport != nil {
		if err := app.httpTransport.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if app.grpcTransport != nil {
		if err := app.grpcTransport.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	app.mu.Lock()
	cancel := app.cancel
	group := app.group
	shutdownTrace := app.shutdownTrace
	app.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if group != nil {
		done := make(chan error, 1)
		go func() {
			done <- group.Wait()
		}()
		select {
		case err := <-done:
			if err != nil && !errors.Is(err, context.Canceled) {
				errs = append(errs, err)
			}
		case <-ctx.Done():
			errs = append(errs, ctx.Err())
		}
	}
	if shutdownTrace != nil {
		if err := shutdownTrace(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if app.closeStore != nil {
		if err := app.closeStore(); err != nil {
			errs = append(errs, err)
		}
	}
	if syncer, ok := app.logger.(interface{ Sync() error }); ok {
		_ = syncer.Sync()
	}
	return errors.Join(errs...)
}

// Ready reports whether the application has completed startup.
func (app *Application) Ready() bool {
	if app == nil {
		return false
	}
	return app.ready.Load()
}

// Mode returns the current operating mode.
func (app *Application) Mode() core.OperatingMode {
	if app == nil || app.Monitor == nil {
		return core.ModeNormal
	}
	return app.Monitor.Mode()
}

// HTTPAddr returns the HTTP listener address, binding it if needed.
func (app *Application) HTTPAddr() net.Addr {
	if app == nil || app.httpTransport == nil {
		return nil
	}
	addr, err := app.httpTransport.Listen()
	if err != nil {
		return nil
	}
	return addr
}

func (app *Application) storeKind() string {
	switch app.Store.(type) {
	case *redisstore.Store:
		return "redis"
	case *inmemory.Store:
		return "inmemory"
	default:
		return "custom"
	}
}
