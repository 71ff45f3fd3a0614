package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/takezou621/sedori-platform-sub003/internal/quota/app"
	"github.com/takezou621/sedori-platform-sub003/internal/quota/config"
	"github.com/takezou621/sedori-platform-sub003/internal/quota/observability"
)

const maskedSecret = "********"

// CLI defines the command-line interface.
type CLI struct {
	Serve       ServeCmd       `cmd:"" default:"1" help:"Start the quota service."`
	PrintConfig PrintConfigCmd `cmd:"" name:"print-config" help:"Print the effective configuration."`
	Check       CheckCmd       `cmd:"" help:"Run one admission check and print the decision."`

	Config    string `short:"c" help:"Path to config file." type:"path"`
	EnvFile   string `name:"env-file" help:"Dotenv file loaded before reading the environment." default:".env"`
	LogLevel  string `name:"log-level" help:"Log level (debug, info, warn, error)."`
	RedisAddr string `name:"redis-addr" help:"Redis address; empty uses the in-memory store."`
	HTTPAddr  string `name:"http-addr" help:"HTTP listen address."`
	GRPCAddr  string `name:"grpc-addr" help:"gRPC listen address."`
}

type cliEnv struct {
	stdout  io.Writer
	stderr  io.Writer
	environ []string
}

func (c *CLI) load(env *cliEnv) (*config.Config, error) {
	environ := env.environ
	if environ == nil {
		if err := godotenv.Load(c.EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", c.EnvFile, err)
		}
		environ = os.Environ()
	}
	return config.Load(config.LoadOptions{
		ConfigPath: c.Config,
		Environ:    environ,
		Overrides:  []func(*config.Config){c.override},
	})
}

func (c *CLI) override(cfg *config.Config) {
	if c.LogLevel != "" {
		cfg.LogLevel = c.LogLevel
	}
	if c.RedisAddr != "" {
		cfg.Redis.Addr = c.RedisAddr
	}
	if c.HTTPAddr != "" {
		cfg.HTTP.Addr = c.HTTPAddr
	}
	if c.GRPCAddr != "" {
		cfg.GRPC.Addr = c.GRPCAddr
	}
}

// ServeCmd starts the quota service.
type ServeCmd struct {
	Watch bool `help:"Reload quotas when the config file changes." default:"true" negatable:""`
}

// Run starts the application and blocks until a signal arrives.
func (s *ServeCmd) Run(cli *CLI, env *cliEnv) error {
	cfg, err := cli.load(env)
	if err != nil {
		return err
	}
	logger := observability.NewZapLogger(env.stderr, cfg.LogLevel)
	opts := app.Options{Logger: logger}
	if s.Watch && cli.Config != "" {
		opts.WatchPath = cli.Config
	}
	application, err := app.NewApplication(cfg, opts)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("failed to start application: %w", err)
	}

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.DrainTimeout+time.Second)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown application: %w", err)
	}
	return nil
}

// PrintConfigCmd prints the effective configuration as YAML.
type PrintConfigCmd struct {
	ShowSecrets bool `name:"show-secrets" help:"Print the admin token and Redis password unmasked."`
}

// Run prints the configuration.
func (p *PrintConfigCmd) Run(cli *CLI, env *cliEnv) error {
	cfg, err := cli.load(env)
	if err != nil {
		return err
	}
	snapshot := *cfg
	if !p.ShowSecrets {
		if snapshot.Auth.AdminToken != "" {
			snapshot.Auth.AdminToken = maskedSecret
		}
		if snapshot.Redis.Password != "" {
			snapshot.Redis.Password = maskedSecret
		}
	}
	return config.Encode(env.stdout, &snapshot)
}

// CheckCmd runs one admission check against the configured store.
type CheckCmd struct {
	Dependency string `arg:"" help:"Dependency name, for example keepa."`
	Identifier string `help:"Caller scope within the dependency." default:""`
}

type checkOutput struct {
	Dependency   string `json:"dependency"`
	Allowed      bool   `json:"allowed"`
	Remaining    int64  `json:"remaining"`
	ResetAt      string `json:"resetAt"`
	RetryAfterMs int64  `json:"retryAfterMs,omitempty"`
	FailOpen     bool   `json:"failOpen,omitempty"`
	Unlimited    bool   `json:"unlimited,omitempty"`
}

// Run performs the check. A rejection is reported, not returned as an error.
func (c *CheckCmd) Run(cli *CLI, env *cliEnv) error {
	cfg, err := cli.load(env)
	if err != nil {
		return err
	}
	cfg.HTTP.Enabled = false
	cfg.GRPC.Enabled = false
	application, err := app.NewApplication(cfg, app.Options{Logger: observability.NopLogger{}})
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = application.Shutdown(ctx)
	}()

	decision := application.Limiter.CheckRateLimit(context.Background(), c.Dependency, c.Identifier)
	out := checkOutput{
		Dependency:   c.Dependency,
		Allowed:      decision.Allowed,
		Remaining:    decision.Remaining,
		ResetAt:      decision.ResetAt.UTC().Format(time.RFC3339Nano),
		RetryAfterMs: decision.RetryAfter.Milliseconds(),
		FailOpen:     decision.FailOpen,
		Unlimited:    decision.Unlimited,
	}
	encoder := json.NewEncoder(env.stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(out)
}
