package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

const (
	jsonContentType = "application/json"

	loginPath   = "/public/auth/login"
	refreshPath = "/auth/refresh"
	logoutPath  = "/auth/logout"

	errorChanBufferSize        = 100
	refreshTokenTickerInterval = time.Minute * 20
)

type AuthErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type Token struct {
	AccessToken string `json:"access_token"`
	ExpiresAt   int64  `json:"expires_at"`
}

// Handler logs the student in against the LMS API and keeps the access
// token fresh in the background for as long as the client runs.
type Handler struct {
	baseURL    string
	email      string
	password   string
	httpClient *http.Client
	ErrorChan  chan error

	mu    sync.RWMutex
	token Token
}

func NewHandler(ctx context.Context, baseURL, email, password string) (*Handler, error) {
	h := &Handler{
		baseURL:    baseURL,
		email:      email,
		password:   password,
		httpClient: &http.Client{Timeout: time.Second * 10},
		ErrorChan:  make(chan error, errorChanBufferSize),
	}
	initialToken, err := h.login(ctx)
	if err != nil {
		slog.Error("Failed to log in", "error", err)
		return nil, err
	}
	h.token = *initialToken
	return h, nil
}

// AccessToken returns the current bearer token.
func (h *Handler) AccessToken() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.token.AccessToken
}

func (h *Handler) login(ctx context.Context) (*Token, error) {
	payload, err := json.Marshal(map[string]string{
		"email":    h.email,
		"password": h.password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal login payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+loginPath, bytes.NewReader(payload))
	if err != nil {
		slog.Error("Failed to build login request", "error", err)
		return nil, err
	}
	req.Header.Set("Content-Type", jsonContentType)
	req.Header.Set("Accept", jsonContentType)

	return h.requestToken(req)
}

func (h *Handler) refresh(ctx context.Context) (*Token, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+refreshPath, nil)
	if err != nil {
		slog.Error("Failed to build refresh request", "error", err)
		return nil, err
	}
	req.Header.Set("Accept", jsonContentType)
	req.Header.Set("Authorization", "Bearer "+h.AccessToken())

	return h.requestToken(req)
}

func (h *Handler) requestToken(req *http.Request) (*Token, error) {
	res, err := h.httpClient.Do(req)
	if err != nil {
		slog.Error("Failed to send auth request", "error", err)
		return nil, err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		slog.Error("Failed to read auth response body", "error", err)
		return nil, err
	}

	if res.StatusCode != http.StatusOK {
		authErr := AuthErrorResponse{}
		if err := json.Unmarshal(body, &authErr); err != nil {
			slog.Error("Failed to unmarshal auth error response", "error", err)
			return nil, err
		}
		return nil, fmt.Errorf("auth request failed: status code %d, error code %d, message %s", res.StatusCode, authErr.Code, authErr.Message)
	}

	token := Token{}
	if err := json.Unmarshal(body, &token); err != nil {
		slog.Error("Failed to unmarshal auth response body", "error", err)
		return nil, err
	}
	return &token, nil
}

// Run refreshes the token on a ticker until ctx is cancelled.
func (h *Handler) Run(ctx context.Context) *sync.WaitGroup {
	ticker := time.NewTicker(refreshTokenTickerInterval)
	wg := &sync.WaitGroup{}

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				h.rotateToken(ctx)

			case <-ctx.Done():
				return

			case err := <-h.ErrorChan:
				slog.Error("Access token refresh error", "error", err)
			}
		}
	}()

	return wg
}

func (h *Handler) rotateToken(ctx context.Context) {
	newToken, err := h.refresh(ctx)
	if err != nil {
		slog.Error("Failed to refresh access token", "error", err)
		h.ErrorChan <- err
		return
	}

	h.mu.Lock()
	h.token = *newToken
	h.mu.Unlock()
	slog.Info("Access token refreshed", slog.Int64("valid_until", newToken.ExpiresAt))
}

// Logout invalidates the session token server-side.
func (h *Handler) Logout(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+logoutPath, nil)
	if err != nil {
		return fmt.Errorf("failed to build logout request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+h.AccessToken())

	res, err := h.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send logout request: %w", err)
	}
	defer res.Body.Close()
	io.Copy(io.Discard, res.Body)

	if res.StatusCode != http.StatusOK && res.StatusCode != http.StatusNoContent {
		return fmt.Errorf("logout request failed: status code %d", res.StatusCode)
	}
	return nil
}
