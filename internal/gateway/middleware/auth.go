package middleware

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"rolegate/internal/authz"
	"rolegate/internal/domain"
	gw "rolegate/internal/gateway"
	"rolegate/internal/platform/telemetry"
)

const maxClockSkew = 30 * time.Second

// Auth returns a middleware that validates JWT Bearer tokens and attaches the
// resulting principal to the request context.
//
// Requests without an Authorization header continue anonymously; whether that
// is acceptable is decided per operation by Authorize. A header that is
// present but malformed, or a token that fails validation, is rejected with
// 401. Paths in publicPaths skip token handling entirely.
// The metrics parameter is optional; pass nil to skip metric recording.
func Auth(jwks gw.JWKSProvider, publicPaths []string, m *telemetry.GatewayMetrics) Middleware {
	public := make(map[string]struct{}, len(publicPaths))
	for _, p := range publicPaths {
		public[p] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := public[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			if r.Header.Get("Authorization") == "" {
				m.RecordAuthValidation(r.Context(), "anonymous")
				next.ServeHTTP(w, r)
				return
			}

			tokenStr, ok := extractBearerToken(r)
			if !ok {
				m.RecordAuthValidation(r.Context(), "failure")
				writeAuthError(w, "malformed authorization header")
				return
			}

			// only RS256 is accepted, so an HS256 token signed with the public key fails
			token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (any, error) {
				kid, ok := t.Header["kid"].(string)
				if !ok {
					return nil, domain.ErrInvalidToken
				}
				return jwks.GetKey(r.Context(), kid)
			},
				jwt.WithValidMethods([]string{"RS256"}),
				jwt.WithLeeway(maxClockSkew),
				jwt.WithExpirationRequired(),
			)
			if err != nil || !token.Valid {
				slog.Debug("auth validation failed", "error", err)
				m.RecordAuthValidation(r.Context(), "failure")
				writeAuthError(w, "invalid or expired token")
				return
			}

			principal, err := principalFromClaims(token.Claims)
			if err != nil {
				slog.Debug("extracting principal", "error", err)
				m.RecordAuthValidation(r.Context(), "failure")
				writeAuthError(w, "invalid token claims")
				return
			}

			m.RecordAuthValidation(r.Context(), "success")
			if info := gw.RequestInfoFromContext(r.Context()); info != nil {
				info.PrincipalID = principal.ID
				info.PrincipalRole = string(principal.Role)
			}
			ctx := authz.ContextWithPrincipal(r.Context(), principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func extractBearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", false
	}
	return strings.TrimSpace(parts[1]), true
}

func principalFromClaims(claims jwt.Claims) (domain.Principal, error) {
	mc, ok := claims.(jwt.MapClaims)
	if !ok {
		return domain.Principal{}, domain.ErrInvalidToken
	}

	sub, err := mc.GetSubject()
	if err != nil || sub == "" {
		return domain.Principal{}, domain.ErrInvalidToken
	}

	p := domain.Principal{ID: sub}
	p.Email, _ = mc[domain.FieldEmail].(string)
	if role, ok := mc[domain.FieldRole].(string); ok {
		p.Role = domain.Role(strings.TrimSpace(role))
	}
	if iat, err := mc.GetIssuedAt(); err == nil && iat != nil {
		p.IssuedAt = iat.Time
	}
	if exp, err := mc.GetExpirationTime(); err == nil && exp != nil {
		p.ExpiresAt = exp.Time
	}
	return p, nil
}

func writeAuthError(w http.ResponseWriter, msg string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="rolegate"`)
	writeError(w, http.StatusUnauthorized, domain.ErrorResponse{
		Error:   "unauthorized",
		Message: msg,
	})
}
