package gateway

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthorized covers missing, malformed, and expired credentials.
var ErrUnauthorized = errors.New("unauthorized")

// Verifier checks JWTs minted by the session-issuing service. The gateway
// only verifies; it never mints tokens.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a verifier for the shared HMAC secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// VerifyToken validates the token signature and expiry and returns the
// subject user id.
func (v *Verifier) VerifyToken(token string) (string, error) {
	if len(v.secret) == 0 {
		return "", fmt.Errorf("%w: verifier has no secret configured", ErrUnauthorized)
	}
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	subject, err := parsed.Claims.GetSubject()
	if err != nil || subject == "" {
		return "", fmt.Errorf("%w: token has no subject", ErrUnauthorized)
	}
	return subject, nil
}

// UserFromRequest extracts and verifies the caller's identity. The token
// comes from the Authorization header, or from the token query parameter for
// browser websocket clients that cannot set headers.
func (v *Verifier) UserFromRequest(r *http.Request) (string, error) {
	token := ""
	if h := r.Header.Get("Authorization"); h != "" {
		token = strings.TrimPrefix(h, "Bearer ")
	} else {
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		return "", fmt.Errorf("%w: no token presented", ErrUnauthorized)
	}
	return v.VerifyToken(token)
}
