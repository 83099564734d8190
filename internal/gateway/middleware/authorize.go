package middleware

import (
	"errors"
	"net/http"

	"rolegate/internal/authz"
	"rolegate/internal/domain"
	gw "rolegate/internal/gateway"
	"rolegate/internal/platform/telemetry"
)

// Authorize returns middleware that runs the role guard for target before the
// wrapped operation. Denials end the request with 403 and the operation is
// never invoked. The metrics parameter is optional.
func Authorize(g *authz.Guard, target authz.Target, m *telemetry.GatewayMetrics) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			info := gw.RequestInfoFromContext(r.Context())
			if info != nil {
				info.Operation = target.Operation
			}

			err := g.Authorize(r.Context(), target)
			if err == nil {
				m.RecordAuthzDecision(r.Context(), target.Operation, "allowed", authz.ReasonNone.Code())
				if info != nil {
					info.Decision = "allowed"
				}
				next.ServeHTTP(w, r)
				return
			}

			var denied *authz.DeniedError
			if !errors.As(err, &denied) {
				// Guard.Authorize only returns *DeniedError; fail closed regardless.
				writeError(w, http.StatusForbidden, domain.ErrorResponse{
					Error:   "forbidden",
					Message: http.StatusText(http.StatusForbidden),
				})
				return
			}

			reason := denied.Decision.Reason.Code()
			m.RecordAuthzDecision(r.Context(), target.Operation, "denied", reason)
			if info != nil {
				info.Decision = reason
			}

			resp := domain.ErrorResponse{
				Error:   "forbidden",
				Message: g.Localize(denied, r.Header.Get("Accept-Language")),
				Reason:  reason,
			}
			if denied.Decision.Reason == authz.ReasonInsufficientRole && g.DisclosesRoles() {
				resp.RequiredRoles = domain.RoleNames(denied.Decision.Required)
			}
			writeError(w, http.StatusForbidden, resp)
		})
	}
}
