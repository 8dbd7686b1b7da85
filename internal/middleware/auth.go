package middleware

import (
	"net/http"
	"strings"

	"github.com/antevus/labtrail/internal/auth"
)

// APIKeyHeader is the HTTP header carrying an API key ID.
const APIKeyHeader = "X-API-Key"

// Auth is a middleware that extracts caller identity from the request and
// stores it in the context for the rate limiter and audit logger.
//
// A bearer token is validated as an access JWT and its subject claim
// becomes the user ID; an X-API-Key header becomes the API key ID. The
// middleware is identification, not authorization: requests without
// credentials pass through anonymous, and handlers that require an identity
// enforce it themselves.
func Auth(jwtService *auth.JWTService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			if apiKey := r.Header.Get(APIKeyHeader); apiKey != "" {
				ctx = SetAPIKeyID(ctx, apiKey)
			}

			if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
				tokenStr := strings.TrimPrefix(header, "Bearer ")
				if claims, err := jwtService.ValidateToken(tokenStr); err == nil &&
					claims.Type == auth.TokenTypeAccess && claims.Subject != "" {
					ctx = SetUserID(ctx, claims.Subject)
				}
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
