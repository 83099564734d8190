package proxy

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"rolegate/internal/authz"
	"rolegate/internal/domain"
	gw "rolegate/internal/gateway"
	"rolegate/internal/gateway/middleware"
	"rolegate/internal/platform/config"
	"rolegate/internal/platform/telemetry"
)

// DescribeTarget is the built-in operation serving GET /v1/policy.
var DescribeTarget = authz.Target{Group: "admin", Operation: config.DescribeOperation}

// AttachBuiltins declares the role sets of the gateway's own operations. Call
// it after the policy's Attach so the built-in sets are never replaced.
func AttachBuiltins(b *authz.Builder) {
	b.AttachRequiredRoles(authz.OperationRef(DescribeTarget.Operation), domain.RoleSuperAdmin)
}

// Principal headers set on requests forwarded to backends. Values supplied by
// the client are always discarded.
const (
	HeaderPrincipalID    = "X-Principal-ID"
	HeaderPrincipalEmail = "X-Principal-Email"
	HeaderPrincipalRole  = "X-Principal-Role"
)

// Config holds the dependencies of a Router.
type Config struct {
	Policy      config.Policy
	Guard       *authz.Guard
	IdentityURL string
	// Metrics is optional; nil skips metric recording.
	Metrics *telemetry.GatewayMetrics
	// Middleware wraps every route, including 404 and 405 responses. The first
	// entry is the outermost.
	Middleware []middleware.Middleware
	// Public registers extra unauthenticated handlers by exact path, such as
	// the metrics endpoint.
	Public map[string]http.Handler
}

// publicRoute defines a path → backend mapping that requires no authentication.
type publicRoute struct {
	path       string
	backendURL *url.URL
	backend    string // metrics label
}

// Router dispatches policy operations to their group backends. Each operation
// runs behind the role guard for its own group and operation names.
type Router struct {
	mux     *chi.Mux
	policy  config.Policy
	guard   *authz.Guard
	metrics *telemetry.GatewayMetrics
}

// NewRouter builds a Router from cfg. The identity URL serves the public auth
// routes (/auth/token, /.well-known/jwks.json).
func NewRouter(cfg Config) (*Router, error) {
	if cfg.Guard == nil {
		return nil, fmt.Errorf("router requires a guard")
	}
	if err := cfg.Policy.Validate(); err != nil {
		return nil, err
	}
	publicPaths := make([]string, 0, len(cfg.Public))
	for path := range cfg.Public {
		publicPaths = append(publicPaths, path)
	}
	if err := cfg.Policy.CheckMounts(publicPaths...); err != nil {
		return nil, err
	}
	identity, err := url.Parse(cfg.IdentityURL)
	if err != nil {
		return nil, fmt.Errorf("parse identity URL: %w", err)
	}

	r := &Router{
		mux:     chi.NewRouter(),
		policy:  cfg.Policy,
		guard:   cfg.Guard,
		metrics: cfg.Metrics,
	}
	r.mux.Use(middleware.Funcs(cfg.Middleware...)...)
	r.mux.NotFound(notFound)
	r.mux.MethodNotAllowed(methodNotAllowed)

	r.mux.Get("/healthz", r.healthz)
	r.mux.Get("/readyz", r.readyz)
	for path, h := range cfg.Public {
		r.mux.Handle(path, h)
	}

	publicRoutes := []publicRoute{
		{path: "/auth/token", backendURL: identity, backend: "identity"},
		{path: "/.well-known/jwks.json", backendURL: identity, backend: "identity"},
	}
	for _, pr := range publicRoutes {
		r.mux.Handle(pr.path, r.makePublicHandler(pr))
	}

	r.mux.With(r.authorize(DescribeTarget)).Get(config.DescribePath, r.describe)

	for _, g := range cfg.Policy.Groups {
		backendURL, err := url.Parse(g.Backend)
		if err != nil {
			return nil, fmt.Errorf("parse backend URL for group %q: %w", g.Name, err)
		}
		handler := r.makeHandler(g.Name, backendURL)
		r.mux.Route(g.Prefix, func(sub chi.Router) {
			for _, op := range g.Operations {
				target := authz.Target{Group: g.Name, Operation: op.Name}
				sub.With(r.authorize(target)).Method(op.Method, op.Path, handler)
			}
		})
	}

	return r, nil
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

func (r *Router) authorize(t authz.Target) func(http.Handler) http.Handler {
	return middleware.Authorize(r.guard, t, r.metrics)
}

// makePublicHandler creates a reverse proxy handler for routes that do not
// require authentication (e.g. token issuance, JWKS).
func (r *Router) makePublicHandler(pr publicRoute) http.HandlerFunc {
	rp := &httputil.ReverseProxy{
		Director: func(req *http.Request) {
			req.URL.Scheme = pr.backendURL.Scheme
			req.URL.Host = pr.backendURL.Host
			req.Host = pr.backendURL.Host

			if reqID := gw.RequestIDFromContext(req.Context()); reqID != "" {
				req.Header.Set("X-Request-ID", reqID)
			}
		},
	}

	return func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		sw := &gw.StatusWriter{ResponseWriter: w, Code: http.StatusOK}
		rp.ServeHTTP(sw, req)
		r.metrics.RecordProxyRequest(req.Context(), pr.backend, sw.Code, time.Since(start).Seconds())
	}
}

// makeHandler proxies to a group backend. It runs only after the guard has
// allowed the operation.
func (r *Router) makeHandler(group string, backendURL *url.URL) http.HandlerFunc {
	rp := &httputil.ReverseProxy{
		Director: func(req *http.Request) {
			req.URL.Scheme = backendURL.Scheme
			req.URL.Host = backendURL.Host
			req.Host = backendURL.Host

			// Backends trust the principal headers, never the bearer token.
			req.Header.Del("Authorization")
			req.Header.Del(HeaderPrincipalID)
			req.Header.Del(HeaderPrincipalEmail)
			req.Header.Del(HeaderPrincipalRole)

			if p, ok := authz.PrincipalFromContext(req.Context()); ok {
				req.Header.Set(HeaderPrincipalID, p.ID)
				if p.Email != "" {
					req.Header.Set(HeaderPrincipalEmail, p.Email)
				}
				if p.Role != "" {
					req.Header.Set(HeaderPrincipalRole, p.Role.String())
				}
			}

			if reqID := gw.RequestIDFromContext(req.Context()); reqID != "" {
				req.Header.Set("X-Request-ID", reqID)
			}
		},
		ErrorHandler: func(w http.ResponseWriter, req *http.Request, err error) {
			slog.ErrorContext(req.Context(), "backend unavailable", "group", group, "error", err)
			writeJSON(w, http.StatusBadGateway, domain.ErrorResponse{
				Error:   "bad_gateway",
				Message: "backend unavailable",
			})
		},
	}

	return func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		sw := &gw.StatusWriter{ResponseWriter: w, Code: http.StatusOK}
		rp.ServeHTTP(sw, req)
		r.metrics.RecordProxyRequest(req.Context(), group, sw.Code, time.Since(start).Seconds())
	}
}

// OperationView is one entry of the /v1/policy response.
type OperationView struct {
	Name   string   `json:"name"`
	Group  string   `json:"group"`
	Method string   `json:"method,omitempty"`
	Path   string   `json:"path,omitempty"`
	Roles  []string `json:"roles"`
	Level  string   `json:"level"`
}

// PolicyView is the /v1/policy response body.
type PolicyView struct {
	CallerRole string          `json:"caller_role"`
	Operations []OperationView `json:"operations"`
}

func (r *Router) describe(w http.ResponseWriter, req *http.Request) {
	reg := r.guard.Registry()
	view := PolicyView{Operations: []OperationView{}}
	if role, ok := authz.ExtractPrincipal(req.Context(), domain.FieldRole); ok {
		view.CallerRole = fmt.Sprint(role)
	}

	add := func(t authz.Target, method, path string) {
		required, level := reg.Resolve(t)
		names := domain.RoleNames(required)
		if names == nil {
			names = []string{}
		}
		view.Operations = append(view.Operations, OperationView{
			Name:   t.Operation,
			Group:  t.Group,
			Method: method,
			Path:   path,
			Roles:  names,
			Level:  level.String(),
		})
	}

	add(DescribeTarget, http.MethodGet, config.DescribePath)
	for _, g := range r.policy.Groups {
		for _, op := range g.Operations {
			add(authz.Target{Group: g.Name, Operation: op.Name}, op.Method, joinPath(g.Prefix, op.Path))
		}
	}

	writeJSON(w, http.StatusOK, view)
}

func joinPath(prefix, path string) string {
	if path == "/" {
		return prefix
	}
	return prefix + path
}

func (r *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (r *Router) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func notFound(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusNotFound, domain.ErrorResponse{
		Error:   "not_found",
		Message: domain.ErrNotFound.Error(),
	})
}

func methodNotAllowed(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusMethodNotAllowed, domain.ErrorResponse{
		Error:   "method_not_allowed",
		Message: http.StatusText(http.StatusMethodNotAllowed),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding response", "error", err)
	}
}
