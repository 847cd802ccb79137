package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/R3E-Network/raffle_layer/pkg/logger"
)

// Roles carried in the role claim.
const (
	RoleOperator = "operator"
	RoleOracle   = "oracle"
	RolePlayer   = "player"
)

var (
	ErrAuthDisabled = errors.New("authentication is not configured")
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
	ErrForbidden    = errors.New("role not permitted")
)

// Claims are the JWT claims accepted by the API. For oracle tokens the
// subject is the coordinator address, for player tokens the player address.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

type claimsKey struct{}

// ClaimsFromContext returns the verified claims attached by JWTAuth.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(*Claims)
	return c, ok
}

// JWTAuth verifies HS256 bearer tokens.
type JWTAuth struct {
	secret []byte
	issuer string
	log    *logger.Logger
}

// NewJWTAuth creates an authenticator. An empty secret rejects every
// protected request.
func NewJWTAuth(secret, issuer string, log *logger.Logger) *JWTAuth {
	if log == nil {
		log = logger.NewDefault("auth")
	}
	return &JWTAuth{secret: []byte(secret), issuer: issuer, log: log}
}

// Issue signs a token for subject with role, valid for ttl.
func (a *JWTAuth) Issue(subject, role string, ttl time.Duration) (string, error) {
	if len(a.secret) == 0 {
		return "", ErrAuthDisabled
	}
	now := time.Now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Verify parses and validates a token.
func (a *JWTAuth) Verify(token string) (*Claims, error) {
	if len(a.secret) == 0 {
		return nil, ErrAuthDisabled
	}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}

// Require returns middleware that admits only tokens carrying one of roles.
func (a *JWTAuth) Require(roles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
			if raw == "" {
				writeAuthError(w, http.StatusUnauthorized, ErrMissingToken)
				return
			}
			claims, err := a.Verify(raw)
			if err != nil {
				a.log.WithError(err).WithField("path", r.URL.Path).Warn("token rejected")
				writeAuthError(w, http.StatusUnauthorized, err)
				return
			}
			if !allowed[claims.Role] {
				writeAuthError(w, http.StatusForbidden, ErrForbidden)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
		})
	}
}

func writeAuthError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = fmt.Fprintf(w, "{\"error\":%q}\n", err.Error())
}
