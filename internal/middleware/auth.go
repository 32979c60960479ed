package middleware

import (
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/josva12/Mpesa-PaySTK/internal/api/httpx"
)

// RequireToken gates a subtree on a static capability token. The
// presented bearer token is compared against the pre-hashed secret
// with bcrypt, never plain equality. The callback route is
// deliberately left outside this gate; its trust boundary is
// correlation-id matching.
func RequireToken(hashedToken string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ah := r.Header.Get("Authorization")
			if ah == "" {
				httpx.WriteError(w, http.StatusUnauthorized, "unauthenticated", "missing Authorization header", nil)
				return
			}
			if !strings.HasPrefix(strings.ToLower(ah), "bearer ") {
				httpx.WriteError(w, http.StatusUnauthorized, "unauthenticated", "invalid Authorization header", nil)
				return
			}
			token := strings.TrimSpace(ah[len("Bearer "):])
			if bcrypt.CompareHashAndPassword([]byte(hashedToken), []byte(token)) != nil {
				httpx.WriteError(w, http.StatusUnauthorized, "unauthenticated", "invalid API token", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
