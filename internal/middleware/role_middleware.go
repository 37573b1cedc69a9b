package middleware

import (
	"net/http"

	"pool_gateway/internal/auth"
	"pool_gateway/internal/utils"
)

// RequireRole rejects callers whose role does not grant required. It must
// run after APIKeyMiddleware.
func RequireRole(required auth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			owner, ok := GetOwner(r.Context())
			if !ok {
				utils.RespondWithError(w, http.StatusUnauthorized, "Not authenticated")
				return
			}
			if !auth.RoleOf(owner).HasPermission(required) {
				utils.RespondWithError(w, http.StatusForbidden, "Insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
