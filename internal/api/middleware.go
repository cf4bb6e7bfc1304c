/**
 * @description
 * Authentication and authorization middleware for the signup service.
 * Staff sessions are HS256 JWTs issued by app.TokenIssuer; payment webhooks
 * are authenticated with an HMAC-SHA256 signature over the raw body.
 */
package api

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"slices"
	"strings"

	"github.com/transfa/signup-service/internal/app"
	"github.com/transfa/signup-service/internal/domain"
)

type contextKey string

const principalContextKey = contextKey("principal")

// SessionAuthMiddleware validates the bearer session token and injects the
// caller into the request context.
func SessionAuthMiddleware(tokens *app.TokenIssuer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
			if authHeader == "" {
				writeErrorMessage(w, http.StatusUnauthorized, "Authorization header required")
				return
			}

			tokenString, ok := bearerToken(authHeader)
			if !ok {
				writeErrorMessage(w, http.StatusUnauthorized, "Invalid Authorization header format")
				return
			}

			principal, err := tokens.Parse(tokenString)
			if err != nil {
				writeErrorMessage(w, http.StatusUnauthorized, "Invalid token")
				return
			}

			ctx := context.WithValue(r.Context(), principalContextKey, *principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}

// RequireRole rejects callers whose role is not in roles.
func RequireRole(roles ...domain.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := PrincipalFromContext(r.Context())
			if !ok {
				writeErrorMessage(w, http.StatusUnauthorized, "Unauthorized")
				return
			}
			if !slices.Contains(roles, principal.Role) {
				writeErrorMessage(w, http.StatusForbidden, "Forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// PrincipalFromContext retrieves the authenticated caller.
func PrincipalFromContext(ctx context.Context) (app.Principal, bool) {
	principal, ok := ctx.Value(principalContextKey).(app.Principal)
	return principal, ok
}

// validWebhookSignature checks a hex HMAC-SHA256 of body, optionally
// prefixed with "sha256=".
func validWebhookSignature(secret, header string, body []byte) bool {
	if secret == "" {
		return false
	}
	provided := strings.TrimPrefix(strings.TrimSpace(header), "sha256=")
	decoded, err := hex.DecodeString(provided)
	if err != nil || len(decoded) == 0 {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(decoded, mac.Sum(nil))
}
