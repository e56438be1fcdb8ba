package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campuscart/chat-service/internal/apperr"
)

func TestAuthenticate_Header(t *testing.T) {
	a := NewAuthenticator("secret", "")
	token, err := a.Issue("u1", time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/chats", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	id, err := a.Authenticate(req)
	require.NoError(t, err)
	assert.Equal(t, "u1", id)
}

func TestAuthenticate_QueryToken(t *testing.T) {
	a := NewAuthenticator("secret", "id")
	token, err := a.Issue("u2", time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/ws?token="+token, nil)

	id, err := a.Authenticate(req)
	require.NoError(t, err)
	assert.Equal(t, "u2", id)
}

func TestAuthenticate_Failures(t *testing.T) {
	a := NewAuthenticator("secret", "id")
	expired, err := a.Issue("u1", -time.Minute)
	require.NoError(t, err)
	foreign, err := NewAuthenticator("other", "id").Issue("u1", time.Hour)
	require.NoError(t, err)
	noID, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "u1"}).SignedString([]byte("secret"))
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		status int
	}{
		{name: "missing", header: "", status: http.StatusUnauthorized},
		{name: "bad scheme", header: "Token abc", status: http.StatusForbidden},
		{name: "expired", header: "Bearer " + expired, status: http.StatusForbidden},
		{name: "wrong secret", header: "Bearer " + foreign, status: http.StatusForbidden},
		{name: "missing id claim", header: "Bearer " + noID, status: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/chats", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}

			_, err := a.Authenticate(req)
			require.Error(t, err)
			assert.True(t, apperr.Is(err, apperr.KindAuth))
			assert.Equal(t, tt.status, HTTPStatus(err))
		})
	}
}
