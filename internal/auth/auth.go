// Package auth resolves bearer tokens to practitioners. Token issuing
// and parsing live in an external identity provider; this package only
// asks it who a token belongs to.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

var ErrUnauthenticated = errors.New("invalid or missing credentials")

// TokenVerifier answers with the provider's subject for a bearer token.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (string, error)
}

// HTTPVerifier posts the token to the identity provider's verify
// endpoint and reads back the subject.
type HTTPVerifier struct {
	verifyURL string
	http      *http.Client
}

func NewHTTPVerifier(verifyURL string) *HTTPVerifier {
	return &HTTPVerifier{
		verifyURL: verifyURL,
		http:      &http.Client{Timeout: 5 * time.Second},
	}
}

type verifyRequest struct {
	Token string `json:"token"`
}

type verifyResponse struct {
	UID string `json:"uid"`
}

func (v *HTTPVerifier) VerifyToken(ctx context.Context, token string) (string, error) {
	payload, err := json.Marshal(verifyRequest{Token: token})
	if err != nil {
		return "", fmt.Errorf("marshal verify request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.verifyURL, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build verify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("verify token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", ErrUnauthenticated
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("verify token: status %d", resp.StatusCode)
	}

	var out verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode verify response: %w", err)
	}
	if out.UID == "" {
		return "", ErrUnauthenticated
	}
	return out.UID, nil
}

// BearerToken extracts the token from an Authorization header.
func BearerToken(r *http.Request) (string, error) {
	h := r.Header.Get("Authorization")
	if h == "" {
		return "", ErrUnauthenticated
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", ErrUnauthenticated
	}
	return parts[1], nil
}

// StaticVerifier maps fixed tokens to subjects, for tests and local runs.
type StaticVerifier map[string]string

func (v StaticVerifier) VerifyToken(ctx context.Context, token string) (string, error) {
	uid, ok := v[token]
	if !ok {
		return "", ErrUnauthenticated
	}
	return uid, nil
}
