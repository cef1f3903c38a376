package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/getsentry/sentry-go"
)

type principalKey struct{}

// WithPrincipal stores the authenticated profile in ctx.
func WithPrincipal(ctx context.Context, principal Profile) context.Context {
	return context.WithValue(ctx, principalKey{}, principal)
}

// PrincipalFrom returns the profile attached by Gate.Middleware.
func PrincipalFrom(ctx context.Context) (Profile, bool) {
	principal, ok := ctx.Value(principalKey{}).(Profile)
	return principal, ok
}

// Gate admits requests that carry a live access token of a verified identity.
type Gate struct {
	issuer  *Issuer
	repo    Repository
	cookies CookieWriter
}

func NewGate(issuer *Issuer, repo Repository, cookies CookieWriter) *Gate {
	return &Gate{issuer: issuer, repo: repo, cookies: cookies}
}

// Authenticate resolves the caller of r. Expired tokens fail with
// ErrTokenExpired so clients know to refresh.
func (g *Gate) Authenticate(r *http.Request) (Profile, error) {
	token := accessTokenFrom(r)
	if token == "" {
		return Profile{}, ErrUnauthorized
	}

	claims, err := g.issuer.Verify(KindAccess, token)
	if err != nil {
		if errors.Is(err, ErrTokenExpired) {
			return Profile{}, ErrTokenExpired
		}
		return Profile{}, ErrUnauthorized
	}

	identity, err := g.repo.GetByID(r.Context(), claims.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Profile{}, ErrUnauthorized
		}
		return Profile{}, fmt.Errorf("load user by id: %w", err)
	}
	if !identity.IsEmailVerified {
		return Profile{}, ErrEmailNotVerified
	}

	return identity.Profile(), nil
}

func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, err := g.Authenticate(r)
		if err != nil {
			if IsInternal(err) {
				sentry.CaptureException(err)
				g.cookies.Clear(w)
			}
			WriteError(w, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
	})
}

func accessTokenFrom(r *http.Request) string {
	if token := strings.TrimSpace(cookieValue(r, AccessTokenCookie)); token != "" {
		return token
	}

	header := strings.TrimSpace(r.Header.Get("Authorization"))
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
