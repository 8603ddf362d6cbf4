// Package auth resolves request credentials into principals. Tokens are
// HS256 JWTs carrying the subject id and a role claim.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dharsanguruparan/HashDrop/internal/model"
)

// TokenParam is the query parameter accepted in place of a bearer header,
// used by download links opened directly in a browser.
const TokenParam = "token"

var ErrInvalidToken = errors.New("invalid token")

// Claims are the JWT claims understood by HashDrop.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// Resolver turns credentials into principals.
type Resolver struct {
	secret []byte
}

// NewResolver creates a Resolver verifying tokens signed with secret.
func NewResolver(secret []byte) *Resolver {
	return &Resolver{secret: secret}
}

// Issue signs a token for principal p valid for ttl.
func (r *Resolver) Issue(p model.Principal, ttl time.Duration) (string, error) {
	if !p.Authenticated() {
		return "", fmt.Errorf("issue token: principal has no identity")
	}
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role: string(p.Role),
	})
	signed, err := token.SignedString(r.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Parse validates tokenString and returns its principal.
func (r *Resolver) Parse(tokenString string) (model.Principal, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return r.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return model.Anonymous, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid || claims.Subject == "" {
		return model.Anonymous, ErrInvalidToken
	}
	p := model.Principal{ID: claims.Subject, Role: model.ParseRole(claims.Role)}
	if !p.Authenticated() {
		return model.Anonymous, ErrInvalidToken
	}
	return p, nil
}

// Resolve reads the bearer header, falling back to the token query
// parameter. Missing or invalid credentials yield the anonymous principal.
func (r *Resolver) Resolve(req *http.Request) model.Principal {
	raw := bearerToken(req)
	if raw == "" {
		raw = req.URL.Query().Get(TokenParam)
	}
	if raw == "" {
		return model.Anonymous
	}
	p, err := r.Parse(raw)
	if err != nil {
		return model.Anonymous
	}
	return p
}

func bearerToken(req *http.Request) string {
	h := req.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

type ctxKey struct{}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p model.Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

// FromContext returns the principal stored by WithPrincipal, or Anonymous.
func FromContext(ctx context.Context) model.Principal {
	if p, ok := ctx.Value(ctxKey{}).(model.Principal); ok {
		return p
	}
	return model.Anonymous
}

// Middleware attaches the resolved principal to every request.
func (r *Resolver) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		next.ServeHTTP(w, req.WithContext(WithPrincipal(req.Context(), r.Resolve(req))))
	})
}
