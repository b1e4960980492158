package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/nadeko0/wschat/internal/auth"
	"github.com/nadeko0/wschat/internal/convert"
	httpserver "github.com/nadeko0/wschat/internal/server/http"
)

// apiError is a non-2xx response from the server.
type apiError struct {
	Status int
	Detail string
}

func (e *apiError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("server returned %d", e.Status)
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Detail)
}

type apiClient struct {
	base  string
	token string
	hc    *http.Client
}

func newAPIClient(base, token string) *apiClient {
	return &apiClient{base: strings.TrimRight(base, "/"), token: token, hc: &http.Client{Timeout: 30 * time.Second}}
}

func (c *apiClient) do(ctx context.Context, method, path string, in, out any) (*http.Response, error) {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return nil, err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Detail string `json:"detail"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return resp, &apiError{Status: resp.StatusCode, Detail: e.Detail}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp, nil
}

// authenticate posts credentials to /register or /login and returns the user and the
// session token from the cookie.
func (c *apiClient) authenticate(ctx context.Context, path, username, password string) (convert.UserDTO, string, error) {
	var u convert.UserDTO
	resp, err := c.do(ctx, http.MethodPost, path, convert.Credentials{Username: username, Password: password}, &u)
	if err != nil {
		return convert.UserDTO{}, "", err
	}
	for _, ck := range resp.Cookies() {
		if ck.Name == httpserver.SessionCookie && ck.Value != "" {
			return u, ck.Value, nil
		}
	}
	return convert.UserDTO{}, "", fmt.Errorf("no %s cookie in response", httpserver.SessionCookie)
}

func (c *apiClient) whoami(ctx context.Context) (convert.UserDTO, error) {
	var u convert.UserDTO
	_, err := c.do(ctx, http.MethodGet, "/check-session", nil, &u)
	return u, err
}

func (c *apiClient) user(ctx context.Context, id int64) (convert.ProfileDTO, error) {
	var p convert.ProfileDTO
	_, err := c.do(ctx, http.MethodGet, "/users/"+strconv.FormatInt(id, 10), nil, &p)
	return p, err
}

func (c *apiClient) users(ctx context.Context, search string) ([]convert.ProfileDTO, error) {
	path := "/users"
	if search != "" {
		path += "?search=" + url.QueryEscape(search)
	}
	var ps []convert.ProfileDTO
	_, err := c.do(ctx, http.MethodGet, path, nil, &ps)
	return ps, err
}

func (c *apiClient) history(ctx context.Context, with int64, limit int) (convert.ConversationDTO, error) {
	path := "/messages/" + strconv.FormatInt(with, 10)
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var conv convert.ConversationDTO
	_, err := c.do(ctx, http.MethodGet, path, nil, &conv)
	return conv, err
}

func (c *apiClient) logout(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodPost, "/logout", nil, nil)
	return err
}

// tokenExpiry reads the exp claim without verifying the signature; the client only needs
// it to know when to ask for a new login.
func tokenExpiry(token string) (time.Time, error) {
	var claims auth.Claims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, err
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, fmt.Errorf("token has no expiry")
	}
	return claims.ExpiresAt.Time, nil
}
