package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMalformedToken   = errors.New("malformed token")
	ErrInvalidSignature = errors.New("invalid token signature")
	ErrTokenExpired     = errors.New("token expired")
)

// TokenClaims is the HS256 payload issued by the account service. The
// subject is the user id the quota gate charges.
type TokenClaims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

const userIDContextKey contextKey = "user_id"

var acceptedMethods = []string{jwt.SigningMethodHS256.Alg()}

func NewTokenClaims(userID string, issuedAt time.Time, ttl time.Duration) TokenClaims {
	return TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(ttl)),
		},
	}
}

func SignJWT(secret string, claims TokenClaims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// VerifyJWT accepts only HS256 tokens typed JWT that carry an expiry and a
// subject.
func VerifyJWT(secret, token string, now time.Time) (*TokenClaims, error) {
	var claims TokenClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(parsed *jwt.Token) (any, error) {
		if typ, ok := parsed.Header["typ"]; ok && !strings.EqualFold(fmt.Sprint(typ), "JWT") {
			return nil, ErrMalformedToken
		}
		return []byte(secret), nil
	},
		jwt.WithValidMethods(acceptedMethods),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	switch {
	case err == nil:
	case errors.Is(err, ErrMalformedToken):
		return nil, err
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, fmt.Errorf("%w: %w", ErrTokenExpired, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return nil, fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	default:
		return nil, fmt.Errorf("%w: %w", ErrMalformedToken, err)
	}

	if strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrMalformedToken
	}
	return &claims, nil
}

// Auth requires a valid bearer token. With an empty secret every request
// is rejected.
func Auth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				writeUnauthorized(w, r, "authentication is not configured")
				return
			}

			authorization := r.Header.Get("Authorization")
			scheme, token, ok := strings.Cut(authorization, " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") {
				writeUnauthorized(w, r, "authentication required")
				return
			}

			claims, err := VerifyJWT(secret, strings.TrimSpace(token), time.Now())
			if err != nil {
				writeUnauthorized(w, r, "invalid token")
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithUserID(r.Context(), claims.Subject)))
		})
	}
}

func UserIDFromContext(ctx context.Context) string {
	value, _ := ctx.Value(userIDContextKey).(string)
	return value
}

func ContextWithUserID(ctx context.Context, userID string) context.Context {
	if strings.TrimSpace(userID) == "" {
		return ctx
	}
	return context.WithValue(ctx, userIDContextKey, userID)
}

func writeUnauthorized(w http.ResponseWriter, r *http.Request, message string) {
	writeErrorJSON(w, r, http.StatusUnauthorized, "unauthorized", message)
}
