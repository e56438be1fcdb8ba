package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"campuscart/chat-service/internal/apperr"
)

var (
	// ErrNoToken is returned when the request carries no credential at all.
	ErrNoToken = apperr.Auth("no token provided")
	// ErrInvalidToken covers malformed, badly signed and expired tokens.
	ErrInvalidToken = apperr.Auth("invalid or expired token")
)

// Authenticator verifies the HS256 tokens issued by the marketplace login
// flow and extracts the user id claim.
type Authenticator struct {
	secret  []byte
	idClaim string
}

func NewAuthenticator(secret, idClaim string) *Authenticator {
	if idClaim == "" {
		idClaim = "id"
	}
	return &Authenticator{secret: []byte(secret), idClaim: idClaim}
}

// Authenticate reads the bearer token from the Authorization header, or from
// the token query parameter for websocket upgrades from browsers.
func (a *Authenticator) Authenticate(r *http.Request) (string, error) {
	token, err := extractToken(r)
	if err != nil {
		return "", err
	}
	return a.Verify(token)
}

func (a *Authenticator) Verify(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidToken
	}

	id, ok := claims[a.idClaim].(string)
	if !ok || id == "" {
		return "", ErrInvalidToken
	}
	return id, nil
}

// Issue signs a token for userID. The marketplace owns token issuance; this
// exists for tooling and tests that need a valid identity.
func (a *Authenticator) Issue(userID string, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		a.idClaim: userID,
		"iat":     time.Now().Unix(),
		"exp":     time.Now().Add(ttl).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func extractToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		if q := r.URL.Query().Get("token"); q != "" {
			return q, nil
		}
		return "", ErrNoToken
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", ErrInvalidToken
	}
	return parts[1], nil
}

// HTTPStatus maps an authentication failure to 401 when no credential was
// sent and 403 when one was sent but rejected.
func HTTPStatus(err error) int {
	if errors.Is(err, ErrNoToken) {
		return http.StatusUnauthorized
	}
	return http.StatusForbidden
}
