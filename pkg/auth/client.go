package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client talks to the backend auth routes.
type Client struct {
	// BaseURL is the server root, e.g. "http://10.0.0.2:3000".
	BaseURL string

	// HTTPClient is used for requests. Defaults to a client with a
	// 10 second timeout.
	HTTPClient *http.Client
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: 10 * time.Second}
}

type loginRequest struct {
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
	User  struct {
		ID       int    `json:"id"`
		Username string `json:"username"`
		Email    string `json:"email"`
	} `json:"user"`
	Error string `json:"error"`
}

// Login exchanges a username and password for a credential.
func (c *Client) Login(ctx context.Context, username, password string) (Credentials, error) {
	return c.post(ctx, "/api/auth/login", loginRequest{
		Username: username,
		Password: password,
	})
}

// Register creates a new account and returns its credential.
func (c *Client) Register(ctx context.Context, username, email, password string) (Credentials, error) {
	return c.post(ctx, "/api/auth/register", loginRequest{
		Username: username,
		Email:    email,
		Password: password,
	})
}

func (c *Client) post(ctx context.Context, path string, payload loginRequest) (Credentials, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Credentials{}, fmt.Errorf("auth: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return Credentials{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return Credentials{}, fmt.Errorf("auth: %s: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Credentials{}, fmt.Errorf("auth: read response: %w", err)
	}

	var parsed loginResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Credentials{}, fmt.Errorf("auth: decode response (HTTP %d): %w", resp.StatusCode, err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return Credentials{}, fmt.Errorf("%w: %s", ErrUnauthorized, parsed.Error)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Credentials{}, fmt.Errorf("auth: %s: HTTP %d: %s", path, resp.StatusCode, parsed.Error)
	}

	return Credentials{
		Token:    parsed.Token,
		UserID:   parsed.User.ID,
		Username: parsed.User.Username,
		Email:    parsed.User.Email,
	}, nil
}
