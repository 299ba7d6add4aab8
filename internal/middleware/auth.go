package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/zhouzirui/quotesync/pkg/utils"
)

type ctxKey struct{}

// Verifier validates a bearer token and returns its subject.
type Verifier interface {
	Verify(token string) (string, error)
}

// Bearer rejects requests without a valid "Authorization: Bearer" header and
// stores the token subject on the request context.
func Bearer(v Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			scheme, token, ok := strings.Cut(header, " ")
			if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(token) == "" {
				utils.RespondError(w, http.StatusUnauthorized, "missing or invalid Authorization header")
				return
			}

			subject, err := v.Verify(strings.TrimSpace(token))
			if err != nil {
				utils.RespondError(w, http.StatusUnauthorized, "invalid token")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), subject)))
		})
	}
}

// WithUser returns a context carrying user.
func WithUser(ctx context.Context, user string) context.Context {
	return context.WithValue(ctx, ctxKey{}, user)
}

// User returns the authenticated subject, or "" when absent.
func User(ctx context.Context) string {
	user, _ := ctx.Value(ctxKey{}).(string)
	return user
}
