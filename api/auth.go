package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/warp/finance-engine/generic"
	memstore "github.com/warp/finance-engine/generic/store"
)

// =============================================================================
// BEARER TOKENS
// =============================================================================
//
// Tokens are HS256 JWTs issued by the association's identity service:
//
//   {"sub": "u-42", "name": "Camille", "caps": ["control_expense", "engage_expense@<account id>"]}
//
// A bare capability is global; "cap@account" scopes it to one account. The
// token's grants are the only ones a request is checked against: they are
// bound to the request context and never written to a shared table.

// Claims is the token payload.
type Claims struct {
	Name string   `json:"name,omitempty"`
	Caps []string `json:"caps"`
	jwt.RegisteredClaims
}

// ParseCapabilities turns "cap" and "cap@account" claims into grants.
func ParseCapabilities(principalID string, caps []string) ([]generic.Grant, error) {
	grants := make([]generic.Grant, 0, len(caps))
	for _, c := range caps {
		name, account, scoped := strings.Cut(strings.TrimSpace(c), "@")
		capability := generic.Capability(name)
		if !knownCapability(capability) {
			return nil, fmt.Errorf("unknown capability %q", name)
		}
		if scoped && account == "" {
			return nil, fmt.Errorf("capability %q has an empty account", c)
		}
		grants = append(grants, generic.Grant{
			PrincipalID: principalID,
			Capability:  capability,
			Scope:       generic.AccountScope(account),
		})
	}
	return grants, nil
}

func knownCapability(c generic.Capability) bool {
	for _, k := range generic.AllCapabilities {
		if c == k {
			return true
		}
	}
	return false
}

// IssueToken signs a token. Used by finctl and tests; production tokens
// come from the identity service.
func IssueToken(secret []byte, p generic.Principal, caps []string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		Name: p.Name,
		Caps: caps,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// Authenticator verifies bearer tokens.
type Authenticator struct {
	Secret []byte
}

// Verify parses tokenString and returns its principal and grants.
func (a *Authenticator) Verify(tokenString string) (generic.Principal, []generic.Grant, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return a.Secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return generic.Principal{}, nil, err
	}
	if !token.Valid {
		return generic.Principal{}, nil, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return generic.Principal{}, nil, errors.New("token has no subject")
	}
	if claims.Subject == generic.SystemPrincipal.ID {
		return generic.Principal{}, nil, errors.New("reserved subject")
	}
	grants, err := ParseCapabilities(claims.Subject, claims.Caps)
	if err != nil {
		return generic.Principal{}, nil, err
	}
	return generic.Principal{ID: claims.Subject, Name: claims.Name}, grants, nil
}

// Middleware rejects requests without a valid bearer token.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		scheme, tokenString, ok := strings.Cut(header, " ")
		if !ok || scheme != "Bearer" || tokenString == "" {
			writeError(w, http.StatusUnauthorized, "Bearer token required", nil)
			return
		}
		p, grants, err := a.Verify(tokenString)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Invalid token", err)
			return
		}
		ctx := WithPrincipal(r.Context(), p)
		ctx = generic.WithAuthorizer(ctx, memstore.NewGrants(grants...))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type principalKey struct{}

// WithPrincipal stores the acting principal in ctx.
func WithPrincipal(ctx context.Context, p generic.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the principal set by the auth middleware.
func PrincipalFrom(ctx context.Context) (generic.Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(generic.Principal)
	return p, ok
}
