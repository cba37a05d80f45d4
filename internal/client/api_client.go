// Package client talks to a rolechat server: the HTTP API, the realtime
// gateway, and a chat session that reconciles one channel's timeline.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"rolechat/internal/core/domain"
	"rolechat/internal/core/services"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const DefaultSessionCookie = "rolechat_session"

// APIError is a non-2xx reply from the API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

// TransitionResponse is the reply of the promote and demote endpoints.
type TransitionResponse struct {
	Data          map[string]services.StepResult `json:"data"`
	Compensations []services.StepResult          `json:"compensations,omitempty"`
}

// APIClient calls the rolechat HTTP API as one signed-in user.
type APIClient struct {
	baseURL    string
	httpClient *http.Client
	cookieName string
	session    string
}

func NewAPIClient(baseURL string) *APIClient {
	return &APIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout:   30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		cookieName: DefaultSessionCookie,
	}
}

// SetSession sets the session token sent with every request.
func (c *APIClient) SetSession(token string) {
	c.session = token
}

func (c *APIClient) SetCookieName(name string) {
	c.cookieName = name
}

// SignIn uses the development sign-in endpoint and keeps the session.
func (c *APIClient) SignIn(ctx context.Context, email, name, avatarURL string) (*domain.User, error) {
	var resp struct {
		User  *domain.User `json:"user"`
		Token string       `json:"token"`
	}
	body := map[string]string{"email": email, "name": name, "avatar_url": avatarURL}
	if err := c.do(ctx, http.MethodPost, "/api/auth/signin", nil, body, &resp); err != nil {
		return nil, err
	}
	c.session = resp.Token
	return resp.User, nil
}

// RealtimeToken fetches a realtime credential. An empty string means the
// server issued none.
func (c *APIClient) RealtimeToken(ctx context.Context) (string, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/api/ably", nil, nil, &raw); err != nil {
		return "", err
	}

	var token string
	if err := json.Unmarshal(raw, &token); err == nil {
		return token, nil
	}
	var resp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	return resp.Token, nil
}

func (c *APIClient) Users(ctx context.Context) ([]*domain.User, error) {
	var resp struct {
		Users []*domain.User `json:"users"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/users", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Users, nil
}

func (c *APIClient) Me(ctx context.Context) (*domain.User, error) {
	var resp struct {
		User *domain.User `json:"user"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/users/me", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.User, nil
}

func (c *APIClient) ResourceInstances(ctx context.Context) ([]domain.ResourceInstance, error) {
	var resp []domain.ResourceInstance
	if err := c.do(ctx, http.MethodGet, "/api/resource-instances", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Promote makes userKey a moderator of channel ("chat:<key>").
func (c *APIClient) Promote(ctx context.Context, userKey, channel string) (*TransitionResponse, error) {
	return c.transition(ctx, "/api/roles/promote", userKey, channel)
}

func (c *APIClient) Demote(ctx context.Context, userKey, channel string) (*TransitionResponse, error) {
	return c.transition(ctx, "/api/roles/demote", userKey, channel)
}

func (c *APIClient) transition(ctx context.Context, path, userKey, channel string) (*TransitionResponse, error) {
	q := url.Values{}
	q.Set("key", userKey)
	q.Set("channel", channel)

	var resp TransitionResponse
	if err := c.do(ctx, http.MethodGet, path, q, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *APIClient) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.session != "" {
		req.AddCookie(&http.Cookie{Name: c.cookieName, Value: c.session})
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &e) != nil || e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Message: e.Error}
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
