package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
)

// ActorValidator validates bearer tokens issued by the external auth
// collaborator. This service trusts the role asserted in the claims; it only
// checks role-appropriateness for the endpoint.
type ActorValidator interface {
	ValidateActorToken(tokenString string) (*ActorClaims, error)
}

// ActorClaims represents the claims we expect from the auth collaborator.
type ActorClaims struct {
	ActorID   string
	ActorName string
	Role      string
}

// Roles asserted by the auth collaborator.
const (
	RoleVendor   = "vendor"
	RoleReviewer = "reviewer"
	RoleApprover = "approver"
	RoleVerifier = "verifier"
)

type contextKeyActor struct{}

// ContextKeyActor is exported for use in handlers and tests.
var ContextKeyActor = contextKeyActor{}

// GetActor retrieves the authenticated actor from the context.
func GetActor(ctx context.Context) (ActorClaims, bool) {
	actor, ok := ctx.Value(ContextKeyActor).(ActorClaims)
	return actor, ok
}

// RequireRole authenticates the request and enforces that the asserted role
// is one of the allowed roles for the route.
func RequireRole(validator ActorValidator, logger *slog.Logger, roles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(roles))
	for _, role := range roles {
		allowed[role] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := GetRequestID(ctx)

			authHeader := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok || token == "" {
				logger.WarnContext(ctx, "unauthorized access - missing token",
					"request_id", requestID,
				)
				writeAuthError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid Authorization header")
				return
			}

			claims, err := validator.ValidateActorToken(token)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid token",
					"error", err,
					"request_id", requestID,
				)
				writeAuthError(w, http.StatusUnauthorized, "unauthorized", "invalid or expired token")
				return
			}

			if len(allowed) > 0 && !allowed[claims.Role] {
				logger.WarnContext(ctx, "forbidden - role not permitted",
					"role", claims.Role,
					"request_id", requestID,
				)
				writeAuthError(w, http.StatusForbidden, "forbidden", "role not permitted for this operation")
				return
			}

			ctx = context.WithValue(ctx, ContextKeyActor, *claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeAuthError(w http.ResponseWriter, status int, code, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + code + `","error_description":"` + description + `"}`))
}
