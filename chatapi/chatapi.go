// Package chatapi is the wire contract of the backend chat endpoint and a
// client for it.
package chatapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	apperrors "multichat/errors"

	"go.uber.org/zap"
)

// Request is the body of POST /chat.
type Request struct {
	Message string `json:"message"`
	Model   string `json:"model"`
	Image   *Image `json:"image,omitempty"`
}

// Image is present only when an attachment was committed with the send.
type Image struct {
	MIMEType   string `json:"mime_type"`
	DataBase64 string `json:"data_base64"`
}

// Response is the success body of POST /chat.
type Response struct {
	Reply string `json:"reply"`
}

// TransportError covers every way a call can fail after it was issued: a
// non-success status, a network failure or an unreadable response.
type TransportError struct {
	StatusCode int
	Status     string
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		body := strings.TrimSpace(e.Body)
		if body == "" {
			return fmt.Sprintf("chat backend returned %s", e.Status)
		}
		return fmt.Sprintf("chat backend returned %s: %s", e.Status, body)
	}
	return fmt.Sprintf("chat backend request failed: %v", e.Err)
}

func (e *TransportError) Unwrap() []error {
	if e.Err == nil {
		return []error{apperrors.ErrTransport}
	}
	return []error{apperrors.ErrTransport, e.Err}
}

// maxErrorBody caps how much of a failed response is folded into the error.
const maxErrorBody = 2048

type Client struct {
	endpoint   string
	httpClient *http.Client
	logger     *zap.Logger
}

// New returns a client for endpoint. The client sets no timeout of its own;
// callers bound each call with their context.
func New(endpoint string, logger *zap.Logger) *Client {
	return &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{},
		logger:     logger,
	}
}

// Send issues exactly one request and returns the reply text.
func (c *Client) Send(ctx context.Context, req Request) (string, error) {
	jsonBody, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("create chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", &TransportError{Err: err}
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &TransportError{Err: fmt.Errorf("read chat response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Warn("Chat backend non-success status",
			zap.String("status", resp.Status),
			zap.String("model", req.Model))
		body := string(bodyBytes)
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		return "", &TransportError{StatusCode: resp.StatusCode, Status: resp.Status, Body: body}
	}

	var cr struct {
		Reply *string `json:"reply"`
	}
	if err := json.Unmarshal(bodyBytes, &cr); err != nil {
		return "", &TransportError{Err: fmt.Errorf("decode chat response: %w", err)}
	}
	if cr.Reply == nil {
		return "", &TransportError{Err: errors.New("chat response has no reply")}
	}
	return *cr.Reply, nil
}
