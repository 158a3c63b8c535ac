// Package auth verifies the bearer tokens issued by the main backend.
package auth

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMissingToken is returned when no bearer token was presented.
	ErrMissingToken = errors.New("missing bearer token")
	// ErrInvalidToken covers bad signatures, expiry and unusable claims.
	ErrInvalidToken = errors.New("invalid token")
)

// Verifier checks HS256 tokens and extracts the user id.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a verifier for tokens signed with secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Enabled reports whether a signing secret is configured.
func (v *Verifier) Enabled() bool {
	return v != nil && len(v.secret) > 0
}

// Verify parses tokenString and returns the user id from the "id" claim,
// falling back to "userId".
func (v *Verifier) Verify(tokenString string) (int64, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return 0, ErrMissingToken
	}
	if !v.Enabled() {
		return 0, fmt.Errorf("%w: no signing secret configured", ErrInvalidToken)
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))
	if err != nil || !token.Valid {
		return 0, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return 0, fmt.Errorf("%w: unexpected claims", ErrInvalidToken)
	}

	for _, key := range []string{"id", "userId"} {
		if raw, ok := claims[key]; ok {
			id, err := claimID(raw)
			if err != nil {
				return 0, fmt.Errorf("%w: claim %s: %v", ErrInvalidToken, key, err)
			}
			return id, nil
		}
	}
	return 0, fmt.Errorf("%w: no user id claim", ErrInvalidToken)
}

// FromHeader extracts the token from an Authorization header value.
func FromHeader(header string) string {
	if after, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(after)
	}
	return ""
}

// Sign issues a token for userID. Used by the chat CLI and tests.
func (v *Verifier) Sign(userID int64, ttl time.Duration) (string, error) {
	if !v.Enabled() {
		return "", errors.New("no signing secret configured")
	}
	claims := jwt.MapClaims{
		"id":  userID,
		"iat": time.Now().Unix(),
	}
	if ttl > 0 {
		claims["exp"] = time.Now().Add(ttl).Unix()
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

func claimID(v any) (int64, error) {
	var id int64
	switch x := v.(type) {
	case float64:
		id = int64(x)
	case int64:
		id = x
	case string:
		n, err := strconv.ParseInt(x, 10, 64)
		if err != nil {
			return 0, err
		}
		id = n
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
	if id <= 0 {
		return 0, fmt.Errorf("non-positive id %d", id)
	}
	return id, nil
}
