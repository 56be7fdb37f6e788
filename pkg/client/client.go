// Package client talks to the callerd control API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"callcore/internal/core/domain"
)

// APIError is a non-2xx response from the control API.
type APIError struct {
	Status  int
	Code    string `json:"error"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("HTTP %d", e.Status)
	}
	return fmt.Sprintf("HTTP %d: %s: %s", e.Status, e.Code, e.Message)
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	token      string
}

func New(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) SetToken(token string) {
	c.token = token
}

func (c *Client) Call(ctx context.Context, recipient domain.RecipientID, video bool) error {
	return c.do(ctx, http.MethodPost, "/api/v1/call", map[string]any{"recipient": recipient, "video": video}, nil)
}

func (c *Client) Accept(ctx context.Context, video bool) error {
	return c.do(ctx, http.MethodPost, "/api/v1/call/accept", map[string]any{"video": video}, nil)
}

func (c *Client) Deny(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/v1/call/deny", nil, nil)
}

func (c *Client) Hangup(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/v1/call/hangup", nil, nil)
}

func (c *Client) State(ctx context.Context) (domain.WebRtcViewModel, error) {
	var resp struct {
		Call domain.WebRtcViewModel `json:"call"`
	}
	err := c.do(ctx, http.MethodGet, "/api/v1/call", nil, &resp)
	return resp.Call, err
}

func (c *Client) SetMicrophone(ctx context.Context, enabled bool) error {
	return c.toggle(ctx, "/api/v1/call/microphone", enabled)
}

func (c *Client) SetVideo(ctx context.Context, enabled bool) error {
	return c.toggle(ctx, "/api/v1/call/video", enabled)
}

func (c *Client) SetSpeaker(ctx context.Context, enabled bool) error {
	return c.toggle(ctx, "/api/v1/call/speaker", enabled)
}

func (c *Client) FlipCamera(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/v1/call/camera/flip", nil, nil)
}

// CallLog lists the newest entries, optionally for one recipient.
func (c *Client) CallLog(ctx context.Context, recipient domain.RecipientID, limit int) ([]domain.CallLogEntry, error) {
	q := url.Values{}
	if recipient != "" {
		q.Set("recipient", string(recipient))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/api/v1/calls"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp struct {
		Calls []domain.CallLogEntry `json:"calls"`
	}
	err := c.do(ctx, http.MethodGet, path, nil, &resp)
	return resp.Calls, err
}

func (c *Client) TrustIdentity(ctx context.Context, recipient domain.RecipientID, key []byte) error {
	return c.do(ctx, http.MethodPut, "/api/v1/recipients/"+url.PathEscape(string(recipient))+"/identity",
		map[string]any{"identity_key": key}, nil)
}

func (c *Client) toggle(ctx context.Context, path string, enabled bool) error {
	return c.do(ctx, http.MethodPut, path, map[string]any{"enabled": enabled}, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{Status: resp.StatusCode}
		_ = json.Unmarshal(data, apiErr)
		return apiErr
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}
