package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPVerifier(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req verifyRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		switch req.Token {
		case "good":
			json.NewEncoder(w).Encode(verifyResponse{UID: "uid-1"})
		case "empty":
			json.NewEncoder(w).Encode(verifyResponse{})
		default:
			w.WriteHeader(http.StatusUnauthorized)
		}
	}))
	defer srv.Close()

	v := NewHTTPVerifier(srv.URL)

	uid, err := v.VerifyToken(context.Background(), "good")
	require.NoError(t, err)
	assert.Equal(t, "uid-1", uid)

	_, err = v.VerifyToken(context.Background(), "bad")
	assert.ErrorIs(t, err, ErrUnauthenticated)

	_, err = v.VerifyToken(context.Background(), "empty")
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestBearerToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	_, err := BearerToken(req)
	assert.ErrorIs(t, err, ErrUnauthenticated)

	req.Header.Set("Authorization", "Bearer abc123")
	tok, err := BearerToken(req)
	require.NoError(t, err)
	assert.Equal(t, "abc123", tok)

	req.Header.Set("Authorization", "Basic abc123")
	_, err = BearerToken(req)
	assert.ErrorIs(t, err, ErrUnauthenticated)

	req.Header.Set("Authorization", "Bearer ")
	_, err = BearerToken(req)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}
