// Package client is the HTTP gateway to the RAG tutor backend. It is
// the only thing in the module that knows the backend's wire shapes.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/aitutor-lab/tutorchat/internal/attachment"
	"github.com/aitutor-lab/tutorchat/internal/chat"
)

const (
	jsonContentType = "application/json"

	sessionCreatePath = "/session/create"
	sessionListPath   = "/session/list"
	sessionPath       = "/session"
	ragQueryPath      = "/rag/query"

	// The RAG model can take a while to answer; the timeout covers
	// retrieval plus generation, not just the round trip.
	defaultTimeout = time.Second * 90
)

// APIError is the normalized form of any non-2xx backend response.
type APIError struct {
	StatusCode int
	Code       int    `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api request failed: status code %d, error code %d, message %s", e.StatusCode, e.Code, e.Message)
}

// TokenSource supplies the bearer token for outgoing requests.
type TokenSource interface {
	AccessToken() string
}

type Client struct {
	httpClient *http.Client
	baseURL    string
	tokens     TokenSource
}

func New(baseURL string, tokens TokenSource) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: defaultTimeout},
		baseURL:    baseURL,
		tokens:     tokens,
	}
}

// QueryResponse is the backend's answer to one /rag/query call. UserInput
// is the canonical echo of what was sent and may carry the uploaded
// image back inline as a markdown token.
type QueryResponse struct {
	UserInput string `json:"user_input"`
	Response  string `json:"response"`
}

type createSessionResponse struct {
	Session chat.Session `json:"session"`
}

type sessionHistoryResponse struct {
	Sessions []chat.SessionSummary `json:"sessions"`
}

// SessionDetail is the full transcript of one session as persisted by
// the backend. Historical user turns may still carry markdown-embedded
// image tokens; parsing them out is the caller's job.
type SessionDetail struct {
	Session      chat.Session `json:"session"`
	Conversation []chat.Pair  `json:"conversation"`
}

// CreateSession opens a fresh conversation for the student.
func (c *Client) CreateSession(ctx context.Context, studentID string) (*chat.Session, error) {
	query := url.Values{"student_id": {studentID}}
	body, err := c.doRequest(ctx, http.MethodPost, sessionCreatePath, query, nil, "")
	if err != nil {
		return nil, err
	}

	resp := createSessionResponse{}
	if err := json.Unmarshal(body, &resp); err != nil {
		slog.Error("Failed to unmarshal create session response", "error", err)
		return nil, err
	}
	return &resp.Session, nil
}

// SendMessage submits one user turn, with the optional image attached,
// as a single multipart request and returns the tutor's reply.
func (c *Client) SendMessage(ctx context.Context, sessionID, userInput, studentID string, img *attachment.Attachment) (*QueryResponse, error) {
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	fields := map[string]string{
		"session_id": sessionID,
		"user_input": userInput,
		"student_id": studentID,
	}
	for name, value := range fields {
		if err := mw.WriteField(name, value); err != nil {
			return nil, fmt.Errorf("failed to write multipart field %s: %w", name, err)
		}
	}
	if img != nil {
		part, err := mw.CreatePart(imagePartHeader(img))
		if err != nil {
			return nil, fmt.Errorf("failed to create multipart image part: %w", err)
		}
		if _, err := part.Write(img.Data); err != nil {
			return nil, fmt.Errorf("failed to write multipart image: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize multipart body: %w", err)
	}

	body, err := c.doRequest(ctx, http.MethodPost, ragQueryPath, nil, buf, mw.FormDataContentType())
	if err != nil {
		return nil, err
	}

	resp := QueryResponse{}
	if err := json.Unmarshal(body, &resp); err != nil {
		slog.Error("Failed to unmarshal query response", "error", err)
		return nil, err
	}
	return &resp, nil
}

// SessionHistory lists the student's sessions. An empty list is a valid
// answer, not an error.
func (c *Client) SessionHistory(ctx context.Context, studentID string) ([]chat.SessionSummary, error) {
	query := url.Values{"student_id": {studentID}}
	body, err := c.doRequest(ctx, http.MethodGet, sessionListPath, query, nil, "")
	if err != nil {
		return nil, err
	}

	resp := sessionHistoryResponse{}
	if err := json.Unmarshal(body, &resp); err != nil {
		slog.Error("Failed to unmarshal session history response", "error", err)
		return nil, err
	}
	return resp.Sessions, nil
}

// SessionDetail fetches one session's descriptor and full transcript.
func (c *Client) SessionDetail(ctx context.Context, sessionID, studentID string) (*SessionDetail, error) {
	query := url.Values{"student_id": {studentID}, "session_id": {sessionID}}
	body, err := c.doRequest(ctx, http.MethodGet, sessionPath, query, nil, "")
	if err != nil {
		return nil, err
	}

	resp := SessionDetail{}
	if err := json.Unmarshal(body, &resp); err != nil {
		slog.Error("Failed to unmarshal session detail response", "error", err)
		return nil, err
	}
	return &resp, nil
}

// DeleteSession removes the session server-side. Terminal: after this
// returns nil, the id must not be used again.
func (c *Client) DeleteSession(ctx context.Context, sessionID, studentID string) error {
	query := url.Values{"student_id": {studentID}, "session_id": {sessionID}}
	_, err := c.doRequest(ctx, http.MethodDelete, sessionPath, query, nil, "")
	return err
}

func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, body io.Reader, contentType string) ([]byte, error) {
	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		slog.Error("Failed to build request", "method", method, "path", path, "error", err)
		return nil, err
	}
	req.Header.Set("Accept", jsonContentType)
	req.Header.Set("X-Request-Id", uuid.NewString())
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.tokens != nil {
		req.Header.Set("Authorization", "Bearer "+c.tokens.AccessToken())
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		slog.Error("Failed to send request", "method", method, "path", path, "error", err)
		return nil, err
	}
	defer res.Body.Close()

	resBody, err := io.ReadAll(res.Body)
	if err != nil {
		slog.Error("Failed to read response body", "error", err)
		return nil, err
	}

	if err := handleAPIError(res, resBody); err != nil {
		slog.Error("Request rejected by backend", "method", method, "path", path, "error", err)
		return nil, err
	}
	return resBody, nil
}

func handleAPIError(res *http.Response, body []byte) error {
	if res.StatusCode >= 200 && res.StatusCode < 300 {
		return nil
	}
	apiErr := &APIError{StatusCode: res.StatusCode}
	if err := json.Unmarshal(body, apiErr); err != nil {
		apiErr.Message = string(body)
	}
	return apiErr
}

func imagePartHeader(img *attachment.Attachment) textproto.MIMEHeader {
	h := textproto.MIMEHeader{}
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename=%q`, img.Name))
	h.Set("Content-Type", img.MIME)
	return h
}
