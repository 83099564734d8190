package proxy_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"rolegate/internal/authz"
	"rolegate/internal/domain"
	gw "rolegate/internal/gateway"
	"rolegate/internal/gateway/adapter/proxy"
	"rolegate/internal/platform/config"
	"rolegate/internal/testutil"
)

func roles(r ...domain.Role) *[]domain.Role {
	if r == nil {
		r = []domain.Role{}
	}
	return &r
}

func testPolicy(invoicesURL, taxURL string) config.Policy {
	return config.Policy{Groups: []config.Group{
		{
			Name:    "invoices",
			Prefix:  "/v1/invoices",
			Backend: invoicesURL,
			Roles:   roles(domain.RoleAdmin, domain.RoleUser),
			Operations: []config.Operation{
				{Name: "invoices.list", Method: "GET", Path: "/"},
				{Name: "invoices.get", Method: "GET", Path: "/{id}"},
				{Name: "invoices.void", Method: "POST", Path: "/{id}/void", Roles: roles(domain.RoleAdmin)},
				{Name: "invoices.preview", Method: "GET", Path: "/preview", Roles: roles()},
			},
		},
		{
			Name:    "tax",
			Prefix:  "/v1/tax",
			Backend: taxURL,
			Operations: []config.Operation{
				{Name: "tax.rates", Method: "GET", Path: "/rates"},
			},
		},
	}}
}

func newTestRouter(t *testing.T, invoicesURL, taxURL, identityURL string) *proxy.Router {
	t.Helper()
	policy := testPolicy(invoicesURL, taxURL)

	b := authz.NewBuilder()
	policy.Attach(b)
	proxy.AttachBuiltins(b)
	guard, err := authz.NewGuard(b.Build())
	if err != nil {
		t.Fatalf("NewGuard: %v", err)
	}

	router, err := proxy.NewRouter(proxy.Config{
		Policy:      policy,
		Guard:       guard,
		IdentityURL: identityURL,
	})
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	return router
}

func serve(router http.Handler, method, path string, p *domain.Principal) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	ctx := gw.ContextWithRequestID(req.Context(), "req-123")
	if p != nil {
		ctx = authz.ContextWithPrincipal(ctx, *p)
	}
	router.ServeHTTP(rec, req.WithContext(ctx))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return body
}

func TestRouterProxiesAllowedOperation(t *testing.T) {
	invoices := httptest.NewServer(testutil.MockBackendHandler("invoices"))
	defer invoices.Close()
	tax := httptest.NewServer(testutil.MockBackendHandler("tax"))
	defer tax.Close()

	router := newTestRouter(t, invoices.URL, tax.URL, "http://unused")

	principal := domain.Principal{ID: "user-42", Email: "u42@example.com", Role: domain.RoleUser}
	rec := serve(router, http.MethodGet, "/v1/invoices/inv-9", &principal)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decode(t, rec)
	if body["backend"] != "invoices" {
		t.Errorf("expected invoices backend, got %v", body["backend"])
	}
	if body["path"] != "/v1/invoices/inv-9" {
		t.Errorf("expected full path forwarded, got %v", body["path"])
	}
	if body["principal_id"] != "user-42" {
		t.Errorf("expected principal_id user-42, got %v", body["principal_id"])
	}
	if body["principal_email"] != "u42@example.com" {
		t.Errorf("expected principal_email, got %v", body["principal_email"])
	}
	if body["principal_role"] != "USER" {
		t.Errorf("expected principal_role USER, got %v", body["principal_role"])
	}
	if body["request_id"] != "req-123" {
		t.Errorf("expected request_id req-123, got %v", body["request_id"])
	}
}

func TestRouterGroupRootPath(t *testing.T) {
	invoices := httptest.NewServer(testutil.MockBackendHandler("invoices"))
	defer invoices.Close()

	router := newTestRouter(t, invoices.URL, "http://unused", "http://unused")

	principal := domain.Principal{ID: "user-1", Role: domain.RoleAdmin}
	for _, path := range []string{"/v1/invoices", "/v1/invoices/"} {
		rec := serve(router, http.MethodGet, path, &principal)
		if rec.Code != http.StatusOK {
			t.Errorf("%s: expected 200, got %d", path, rec.Code)
		}
	}
}

func TestRouterDeniesInsufficientRole(t *testing.T) {
	called := false
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer backend.Close()

	router := newTestRouter(t, backend.URL, backend.URL, "http://unused")

	principal := domain.Principal{ID: "user-1", Role: domain.RoleUser}
	rec := serve(router, http.MethodPost, "/v1/invoices/inv-1/void", &principal)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	if called {
		t.Error("backend must not be reached on denial")
	}
	body := decode(t, rec)
	if body["reason"] != "insufficient_role" {
		t.Errorf("expected insufficient_role, got %v", body["reason"])
	}
}

func TestRouterDeniesAnonymous(t *testing.T) {
	router := newTestRouter(t, "http://unused", "http://unused", "http://unused")

	rec := serve(router, http.MethodGet, "/v1/invoices/inv-1", nil)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	body := decode(t, rec)
	if body["reason"] != "not_authenticated" {
		t.Errorf("expected not_authenticated, got %v", body["reason"])
	}
}

func TestRouterEmptyRoleSetAllowsAnonymous(t *testing.T) {
	invoices := httptest.NewServer(testutil.MockBackendHandler("invoices"))
	defer invoices.Close()
	tax := httptest.NewServer(testutil.MockBackendHandler("tax"))
	defer tax.Close()

	router := newTestRouter(t, invoices.URL, tax.URL, "http://unused")

	// Explicit empty set at operation level shadows the group's roles.
	rec := serve(router, http.MethodGet, "/v1/invoices/preview", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("preview: expected 200, got %d", rec.Code)
	}

	// Nothing declared at either level.
	rec = serve(router, http.MethodGet, "/v1/tax/rates", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("rates: expected 200, got %d", rec.Code)
	}
	if body := decode(t, rec); body["principal_id"] != "" {
		t.Errorf("expected no principal header, got %v", body["principal_id"])
	}
}

func TestRouterStripsAuthorizationHeader(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth := r.Header.Get("Authorization"); auth != "" {
			t.Errorf("Authorization header should be stripped, got %q", auth)
		}
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}))
	defer backend.Close()

	router := newTestRouter(t, backend.URL, backend.URL, "http://unused")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/invoices/inv-1", nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	ctx := authz.ContextWithPrincipal(req.Context(), domain.Principal{ID: "user-1", Role: domain.RoleUser})
	router.ServeHTTP(rec, req.WithContext(ctx))

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestRouterDiscardsSpoofedPrincipalHeaders(t *testing.T) {
	tax := httptest.NewServer(testutil.MockBackendHandler("tax"))
	defer tax.Close()

	router := newTestRouter(t, "http://unused", tax.URL, "http://unused")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/tax/rates", nil)
	req.Header.Set(proxy.HeaderPrincipalID, "admin")
	req.Header.Set(proxy.HeaderPrincipalRole, "SUPER_ADMIN")
	router.ServeHTTP(rec, req)

	body := decode(t, rec)
	if body["principal_id"] != "" || body["principal_role"] != "" {
		t.Errorf("client principal headers must be dropped, got id=%v role=%v",
			body["principal_id"], body["principal_role"])
	}
}

func TestRouterUnknownPath404(t *testing.T) {
	router := newTestRouter(t, "http://unused", "http://unused", "http://unused")

	principal := domain.Principal{ID: "user-1", Role: domain.RoleAdmin}
	rec := serve(router, http.MethodGet, "/v1/unknown", &principal)

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestRouterWrongMethod405(t *testing.T) {
	router := newTestRouter(t, "http://unused", "http://unused", "http://unused")

	principal := domain.Principal{ID: "user-1", Role: domain.RoleAdmin}
	rec := serve(router, http.MethodDelete, "/v1/tax/rates", &principal)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rec.Code)
	}
}

func TestRouterBackendDown502(t *testing.T) {
	backend := httptest.NewServer(http.NotFoundHandler())
	backendURL := backend.URL
	backend.Close()

	router := newTestRouter(t, "http://unused", backendURL, "http://unused")

	rec := serve(router, http.MethodGet, "/v1/tax/rates", nil)
	if rec.Code != http.StatusBadGateway {
		t.Errorf("expected 502, got %d", rec.Code)
	}
}

func TestDescribePolicy(t *testing.T) {
	router := newTestRouter(t, "http://unused", "http://unused", "http://unused")

	principal := domain.Principal{ID: "root", Role: domain.RoleSuperAdmin}
	rec := serve(router, http.MethodGet, "/v1/policy", &principal)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var view proxy.PolicyView
	if err := json.NewDecoder(rec.Body).Decode(&view); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if view.CallerRole != "SUPER_ADMIN" {
		t.Errorf("expected caller_role SUPER_ADMIN, got %q", view.CallerRole)
	}

	byName := make(map[string]proxy.OperationView)
	for _, op := range view.Operations {
		byName[op.Name] = op
	}
	if len(byName) != 6 {
		t.Fatalf("expected 6 operations, got %d", len(byName))
	}

	void := byName["invoices.void"]
	if void.Level != "operation" || len(void.Roles) != 1 || void.Roles[0] != "ADMIN" {
		t.Errorf("unexpected invoices.void view: %+v", void)
	}
	list := byName["invoices.list"]
	if list.Level != "group" || list.Path != "/v1/invoices" {
		t.Errorf("unexpected invoices.list view: %+v", list)
	}
	if preview := byName["invoices.preview"]; preview.Level != "operation" || len(preview.Roles) != 0 {
		t.Errorf("unexpected invoices.preview view: %+v", preview)
	}
	if rates := byName["tax.rates"]; rates.Level != "none" {
		t.Errorf("unexpected tax.rates view: %+v", rates)
	}
}

func TestDescribePolicyRequiresSuperAdmin(t *testing.T) {
	router := newTestRouter(t, "http://unused", "http://unused", "http://unused")

	principal := domain.Principal{ID: "admin", Role: domain.RoleAdmin}
	rec := serve(router, http.MethodGet, "/v1/policy", &principal)
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rec.Code)
	}
}

func TestHealthzEndpoint(t *testing.T) {
	router := newTestRouter(t, "http://unused", "http://unused", "http://unused")

	rec := serve(router, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestReadyzEndpoint(t *testing.T) {
	router := newTestRouter(t, "http://unused", "http://unused", "http://unused")

	rec := serve(router, http.MethodGet, "/readyz", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestRouterProxiesAuthToken(t *testing.T) {
	identity := httptest.NewServer(testutil.MockBackendHandler("identity"))
	defer identity.Close()

	router := newTestRouter(t, "http://unused", "http://unused", identity.URL)

	// No principal in context; public routes must work without authentication.
	rec := serve(router, http.MethodPost, "/auth/token", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	body := decode(t, rec)
	if body["backend"] != "identity" {
		t.Errorf("expected identity backend, got %v", body["backend"])
	}
	if body["path"] != "/auth/token" {
		t.Errorf("expected path /auth/token, got %v", body["path"])
	}
	if body["request_id"] != "req-123" {
		t.Errorf("expected request_id req-123, got %v", body["request_id"])
	}
}

func TestRouterProxiesJWKS(t *testing.T) {
	identity := httptest.NewServer(testutil.MockBackendHandler("identity"))
	defer identity.Close()

	router := newTestRouter(t, "http://unused", "http://unused", identity.URL)

	rec := serve(router, http.MethodGet, "/.well-known/jwks.json", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if body := decode(t, rec); body["path"] != "/.well-known/jwks.json" {
		t.Errorf("expected path /.well-known/jwks.json, got %v", body["path"])
	}
}

func TestRouterPublicHandlers(t *testing.T) {
	policy := testPolicy("http://unused", "http://unused")
	guard, err := authz.NewGuard(authz.NewBuilder().Build())
	if err != nil {
		t.Fatalf("NewGuard: %v", err)
	}

	router, err := proxy.NewRouter(proxy.Config{
		Policy:      policy,
		Guard:       guard,
		IdentityURL: "http://unused",
		Public: map[string]http.Handler{
			"/metrics": http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusTeapot)
			}),
		},
	})
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}

	rec := serve(router, http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusTeapot {
		t.Errorf("expected public handler, got %d", rec.Code)
	}
}

func TestNewRouterRequiresGuard(t *testing.T) {
	_, err := proxy.NewRouter(proxy.Config{IdentityURL: "http://unused"})
	if err == nil {
		t.Error("expected error without guard")
	}
}

func TestNewRouterRejectsShadowingPolicies(t *testing.T) {
	guard, err := authz.NewGuard(authz.NewBuilder().Build())
	if err != nil {
		t.Fatalf("NewGuard: %v", err)
	}

	sameRoute := testPolicy("http://unused", "http://unused")
	sameRoute.Groups[1].Operations = append(sameRoute.Groups[1].Operations,
		config.Operation{Name: "tax.rates.open", Method: "GET", Path: "/rates", Roles: roles()})

	overDescribe := testPolicy("http://unused", "http://unused")
	overDescribe.Groups[1].Prefix = "/v1/policy"

	tests := []struct {
		name   string
		policy config.Policy
		public map[string]http.Handler
	}{
		{name: "duplicate route", policy: sameRoute},
		{name: "group over describe", policy: overDescribe},
		{
			name:   "group over public handler",
			policy: testPolicy("http://unused", "http://unused"),
			public: map[string]http.Handler{"/v1/tax/status": http.NotFoundHandler()},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := proxy.NewRouter(proxy.Config{
				Policy:      tt.policy,
				Guard:       guard,
				IdentityURL: "http://unused",
				Public:      tt.public,
			})
			if err == nil {
				t.Error("expected NewRouter to reject the policy")
			}
		})
	}
}

func TestBuiltinDescribeRolesWinOverPolicy(t *testing.T) {
	policy := testPolicy("http://unused", "http://unused")

	// a declaration for the built-in operation made before the builtins
	b := authz.NewBuilder().AttachRequiredRoles(authz.OperationRef(proxy.DescribeTarget.Operation))
	policy.Attach(b)
	proxy.AttachBuiltins(b)
	guard, err := authz.NewGuard(b.Build())
	if err != nil {
		t.Fatalf("NewGuard: %v", err)
	}

	router, err := proxy.NewRouter(proxy.Config{Policy: policy, Guard: guard, IdentityURL: "http://unused"})
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}

	if rec := serve(router, http.MethodGet, "/v1/policy", nil); rec.Code != http.StatusForbidden {
		t.Errorf("anonymous describe: expected 403, got %d", rec.Code)
	}
	if rec := serve(router, http.MethodGet, "/v1/policy", &domain.Principal{ID: "u", Role: domain.RoleAdmin}); rec.Code != http.StatusForbidden {
		t.Errorf("ADMIN describe: expected 403, got %d", rec.Code)
	}
}
