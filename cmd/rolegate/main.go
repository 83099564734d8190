package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rolegate/internal/authz"
	"rolegate/internal/gateway/adapter/inmem"
	"rolegate/internal/gateway/adapter/jwks"
	"rolegate/internal/gateway/adapter/proxy"
	"rolegate/internal/gateway/middleware"
	"rolegate/internal/platform/config"
	"rolegate/internal/platform/server"
	"rolegate/internal/platform/telemetry"
)

const (
	rateLimitCleanupInterval = 5 * time.Minute
	jwksWarmTimeout          = 5 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		slog.Error("rolegate exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	// Telemetry
	shutdown, err := telemetry.Setup(ctx, "rolegate")
	if err != nil {
		return fmt.Errorf("telemetry setup: %w", err)
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			slog.Error("telemetry shutdown error", "error", err)
		}
	}()

	metrics, err := telemetry.NewGatewayMetrics()
	if err != nil {
		return fmt.Errorf("metrics initialization: %w", err)
	}

	// Route policy and role registry
	policy, err := loadPolicy(cfg)
	if err != nil {
		return err
	}
	b := authz.NewBuilder()
	policy.Attach(b)
	proxy.AttachBuiltins(b)
	registry := b.Build()

	messages, err := authz.NewMessages(cfg.Language())
	if err != nil {
		return fmt.Errorf("loading denial messages: %w", err)
	}
	guard, err := authz.NewGuard(registry,
		authz.WithMessages(messages),
		authz.WithRoleDisclosure(cfg.DiscloseRequiredRoles),
		authz.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("creating guard: %w", err)
	}

	// JWKS client. A cold cache is not fatal; keys are fetched on first use.
	jwksClient := jwks.NewClient(cfg.JWKSEndpoint, cfg.JWKSMinRefresh, metrics)
	warmCtx, cancel := context.WithTimeout(ctx, jwksWarmTimeout)
	if err := jwksClient.Warm(warmCtx); err != nil {
		slog.Warn("jwks warm-up failed", "endpoint", cfg.JWKSEndpoint, "error", err)
	}
	cancel()

	// Rate limiter
	rl := inmem.NewRateLimiter(cfg.RateLimit.Rate, cfg.RateLimit.Burst, time.Now)
	go rl.RunCleanup(ctx, rateLimitCleanupInterval)

	// Public paths (no token handling)
	publicPaths := []string{"/healthz", "/readyz", "/metrics", "/auth/token", "/.well-known/jwks.json"}

	router, err := proxy.NewRouter(proxy.Config{
		Policy:      policy,
		Guard:       guard,
		IdentityURL: cfg.IdentityURL,
		Metrics:     metrics,
		Middleware: []middleware.Middleware{
			middleware.Metrics(metrics),
			middleware.RequestID,
			middleware.Logging(logger),
			middleware.Recovery,
			middleware.SecureHeaders(false),
			middleware.MaxBodySize(cfg.MaxBodyBytes),
			middleware.Auth(jwksClient, publicPaths, metrics),
			middleware.RateLimit(rl, metrics),
		},
		Public: map[string]http.Handler{
			"/metrics": telemetry.MetricsHandler(),
		},
	})
	if err != nil {
		return fmt.Errorf("router initialization: %w", err)
	}

	srv := server.New(cfg.GatewayAddr, router, server.WithLogger(logger))

	slog.Info("rolegate starting",
		"addr", cfg.GatewayAddr,
		"jwks_endpoint", cfg.JWKSEndpoint,
		"identity_url", cfg.IdentityURL,
		"policy_file", cfg.PolicyFile,
		"operation_role_sets", len(registry.Operations()),
		"default_language", messages.Negotiate("").String(),
		"disclose_required_roles", cfg.DiscloseRequiredRoles,
	)

	return srv.Run(ctx)
}

func loadPolicy(cfg config.Config) (config.Policy, error) {
	if cfg.PolicyFile == "" {
		p := config.DefaultPolicy(cfg.BackendURL)
		if err := p.Validate(); err != nil {
			return config.Policy{}, fmt.Errorf("built-in policy: %w", err)
		}
		return p, nil
	}
	p, err := config.LoadPolicy(cfg.PolicyFile)
	if err != nil {
		return config.Policy{}, fmt.Errorf("loading policy %s: %w", cfg.PolicyFile, err)
	}
	return p, nil
}
