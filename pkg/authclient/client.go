// Package authclient lets other services talk to the auth service over HTTP.
package authclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const refreshCookieName = "refreshToken"

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(authServiceURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(authServiceURL, "/"),
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// Error is a non-2xx answer from the auth service.
type Error struct {
	Code    int
	Status  string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("auth service: %d %s: %s", e.Code, e.Status, e.Message)
}

type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type Session struct {
	AccessToken  string
	RefreshToken string
}

type User struct {
	ID        string `json:"id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	UserName  string `json:"userName"`
	Email     string `json:"email"`
	Role      string `json:"role"`
}

// Refresh trades a refresh token for a new access token. The old refresh
// token is spent; the rotated one is returned in the session.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/auth/refresh-token", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.AddCookie(&http.Cookie{Name: refreshCookieName, Value: refreshToken})

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	var data struct {
		AccessToken string `json:"accessToken"`
	}
	if err := decode(resp, &data); err != nil {
		return nil, err
	}

	s := &Session{AccessToken: data.AccessToken}
	for _, ck := range resp.Cookies() {
		if ck.Name == refreshCookieName {
			s.RefreshToken = ck.Value
		}
	}
	return s, nil
}

// Me resolves the user an access token belongs to.
func (c *Client) Me(ctx context.Context, accessToken string) (*User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/auth/me", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	var u User
	if err := decode(resp, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func decode(resp *http.Response, data any) error {
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &Error{Code: resp.StatusCode, Status: env.Status, Message: env.Message}
	}
	if data == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, data); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	return nil
}
