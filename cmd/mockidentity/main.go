package main

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/kelseyhightower/envconfig"

	"rolegate/internal/domain"
	"rolegate/internal/platform/server"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	var cfg struct {
		Addr     string        `envconfig:"IDENTITY_ADDR" default:":8081"`
		TokenTTL time.Duration `envconfig:"TOKEN_TTL" default:"15m"`
	}
	if err := envconfig.Process("", &cfg); err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}
	addr := cfg.Addr

	// Generate RSA key pair
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		slog.Error("generating RSA key", "error", err)
		os.Exit(1)
	}
	kid := fmt.Sprintf("mock-key-%d", time.Now().Unix())

	slog.Info("mock identity service starting",
		"addr", addr,
		"kid", kid,
	)

	// Seed users. API-key principals carry no role.
	users := map[string]account{
		"admin": {password: "admin", email: "admin@example.com", role: domain.RoleAdmin},
		"root":  {password: "root", email: "root@example.com", role: domain.RoleSuperAdmin},
		"user":  {password: "password", email: "user@example.com", role: domain.RoleUser},
	}
	apiKeys := map[string]string{
		"test-api-key-1": "service-account-1",
	}

	slog.Info("seeded credentials",
		"users", "admin:admin (ADMIN), root:root (SUPER_ADMIN), user:password (USER)",
		"api_keys", "test-api-key-1",
	)

	mux := http.NewServeMux()

	// JWKS endpoint
	mux.HandleFunc("GET /.well-known/jwks.json", func(w http.ResponseWriter, r *http.Request) {
		pub := &priv.PublicKey
		jwks := map[string]any{
			"keys": []map[string]any{
				{
					"kty": "RSA",
					"alg": "RS256",
					"use": "sig",
					"kid": kid,
					"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
					"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
				},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(jwks)
	})

	// Token issuance
	mux.HandleFunc("POST /auth/token", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Username string `json:"username"`
			Password string `json:"password"`
			APIKey   string `json:"api_key"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
			return
		}

		var principal domain.Principal

		switch {
		case req.APIKey != "":
			id, ok := apiKeys[req.APIKey]
			if !ok {
				writeError(w, http.StatusUnauthorized, "unauthorized", "invalid API key")
				return
			}
			principal.ID = id
		case req.Username != "":
			acct, ok := users[req.Username]
			if !ok || acct.password != req.Password {
				writeError(w, http.StatusUnauthorized, "unauthorized", domain.ErrInvalidCredentials.Error())
				return
			}
			principal = domain.Principal{ID: req.Username, Email: acct.email, Role: acct.role}
		default:
			writeError(w, http.StatusBadRequest, "bad_request", "provide username/password or api_key")
			return
		}

		ttl := cfg.TokenTTL
		now := time.Now()

		claims := jwt.MapClaims{
			domain.FieldID:        principal.ID,
			domain.FieldIssuedAt:  now.Unix(),
			domain.FieldExpiresAt: now.Add(ttl).Unix(),
			"iss":                 "mock-identity",
		}
		if principal.Email != "" {
			claims[domain.FieldEmail] = principal.Email
		}
		if principal.Role != "" {
			claims[domain.FieldRole] = principal.Role.String()
		}

		token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
		token.Header["kid"] = kid

		signed, err := token.SignedString(priv)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to sign token")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(domain.TokenPair{
			AccessToken: signed,
			ExpiresIn:   int(ttl.Seconds()),
			TokenType:   "Bearer",
		})
	})

	// Health check
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok", "service": "mock-identity"})
	})

	srv := server.New(addr, mux)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		slog.Error("server error", "error", err)
	}
}

type account struct {
	password string
	email    string
	role     domain.Role
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(domain.ErrorResponse{Error: code, Message: msg})
}
