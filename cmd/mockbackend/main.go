package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kelseyhightower/envconfig"

	"rolegate/internal/platform/server"
)

type backendConfig struct {
	Addr          string        `envconfig:"ADDR" default:":8082"`
	Name          string        `envconfig:"BACKEND_NAME" default:"mock-backend"`
	LatencyBase   time.Duration `envconfig:"LATENCY_BASE" default:"0s"`
	LatencyJitter time.Duration `envconfig:"LATENCY_JITTER" default:"0s"`
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	var cfg backendConfig
	if err := envconfig.Process("", &cfg); err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}
	addr, name := cfg.Addr, cfg.Name
	baseDelay, jitter := cfg.LatencyBase, cfg.LatencyJitter

	slog.Info("mock backend starting", "addr", addr, "name", name,
		"latency_base", baseDelay, "latency_jitter", jitter)

	mux := http.NewServeMux()

	// Catch-all: echo request details and the principal headers set by rolegate
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		simulateWork(baseDelay, jitter)
		resp := map[string]any{
			"backend":         name,
			"method":          r.Method,
			"path":            r.URL.Path,
			"principal_id":    r.Header.Get("X-Principal-ID"),
			"principal_email": r.Header.Get("X-Principal-Email"),
			"principal_role":  r.Header.Get("X-Principal-Role"),
			"request_id":      r.Header.Get("X-Request-ID"),
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	})

	// Health check
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok", "service": name})
	})

	srv := server.New(addr, mux)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		slog.Error("server error", "error", err)
	}
}

// simulateWork sleeps for base + random(0, jitter) to mimic real backend processing.
func simulateWork(base, jitter time.Duration) {
	if base == 0 && jitter == 0 {
		return
	}
	delay := base
	if jitter > 0 {
		delay += time.Duration(rand.Int64N(int64(jitter)))
	}
	time.Sleep(delay)
}
