package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// refreshMargin is how long before expiry a cached token is considered stale.
const refreshMargin = 5 * time.Minute

// TokenProvider supplies bearer credentials for the speech service connection.
type TokenProvider interface {
	Token(ctx context.Context, scope string) (token string, expiresAt time.Time, err error)
}

// StaticKey is a TokenProvider backed by a fixed API key. The key never expires.
type StaticKey struct {
	Key string
}

func (s StaticKey) Token(_ context.Context, _ string) (string, time.Time, error) {
	if s.Key == "" {
		return "", time.Time{}, fmt.Errorf("auth: api key is empty")
	}
	return s.Key, time.Now().Add(24 * time.Hour), nil
}

// ClientCredentials acquires OAuth2 client-credentials tokens from a token
// endpoint and caches them, refreshing shortly before expiry.
type ClientCredentials struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	HTTPClient   *http.Client

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// NewClientCredentials constructs a caching provider for the given endpoint.
func NewClientCredentials(tokenURL, clientID, clientSecret string) *ClientCredentials {
	return &ClientCredentials{
		TokenURL:     tokenURL,
		ClientID:     clientID,
		ClientSecret: clientSecret,
		HTTPClient:   &http.Client{Timeout: 15 * time.Second},
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// Token returns a cached token when it is still comfortably fresh, otherwise
// requests a new one.
func (c *ClientCredentials) Token(ctx context.Context, scope string) (string, time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Until(c.expiresAt) > refreshMargin {
		return c.token, c.expiresAt, nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", c.ClientID)
	form.Set("client_secret", c.ClientSecret)
	if scope != "" {
		form.Set("scope", scope)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", time.Time{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: token request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", time.Time{}, fmt.Errorf("auth: token endpoint status %d", resp.StatusCode)
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", time.Time{}, fmt.Errorf("auth: decode token response: %w", err)
	}
	if tr.AccessToken == "" {
		return "", time.Time{}, fmt.Errorf("auth: token endpoint returned empty token")
	}

	c.token = tr.AccessToken
	c.expiresAt = time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	return c.token, c.expiresAt, nil
}
