package insights

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// TokenManager fetches bearer tokens from an HTTP endpoint and caches them
// until refreshBuffer before expiry.
type TokenManager struct {
	endpoint      string
	headers       map[string]string
	refreshBuffer time.Duration
	client        *http.Client
	now           func() time.Time

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

type tokenResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expiresAt"` // Unix milliseconds
}

func NewTokenManager(endpoint string, headers map[string]string, refreshBuffer time.Duration) *TokenManager {
	return &TokenManager{
		endpoint:      endpoint,
		headers:       headers,
		refreshBuffer: refreshBuffer,
		client:        &http.Client{Timeout: 30 * time.Second},
		now:           time.Now,
	}
}

// Token returns the cached token or fetches a new one.
func (tm *TokenManager) Token(ctx context.Context) (string, error) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if tm.token != "" && tm.now().Before(tm.expiresAt.Add(-tm.refreshBuffer)) {
		return tm.token, nil
	}
	return tm.refresh(ctx)
}

func (tm *TokenManager) refresh(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tm.endpoint, bytes.NewBufferString("{}"))
	if err != nil {
		return "", WrapError(err, ErrCodeTokenFailed)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range tm.headers {
		req.Header.Set(k, v)
	}

	resp, err := tm.client.Do(req)
	if err != nil {
		return "", WrapError(err, ErrCodeTokenFailed)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", NewError(fmt.Sprintf("failed to refresh token: %s", resp.Status), ErrCodeTokenFailed).
			AddDetail("status", resp.StatusCode)
	}

	var data tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return "", WrapError(err, ErrCodeTokenFailed)
	}
	if data.Token == "" {
		return "", NewError("no token received", ErrCodeTokenFailed)
	}
	if data.ExpiresAt <= 0 {
		return "", NewError("invalid expiresAt", ErrCodeTokenFailed)
	}

	tm.token = data.Token
	tm.expiresAt = time.UnixMilli(data.ExpiresAt)
	return tm.token, nil
}

// Clear drops the cached token.
func (tm *TokenManager) Clear() {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.token = ""
	tm.expiresAt = time.Time{}
}

// TokenInfo returns the cached token and expiry, if any.
func (tm *TokenManager) TokenInfo() (*WSToken, bool) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if tm.token == "" {
		return nil, false
	}
	return &WSToken{Token: tm.token, ExpiresAt: tm.expiresAt}, true
}
