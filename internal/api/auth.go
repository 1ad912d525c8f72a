package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/wavechat/chatkit/pkg/types"
)

// LoginResult is the authenticated session returned by the login endpoint.
type LoginResult struct {
	Token        string            `json:"token"`
	RefreshToken string            `json:"refreshToken"`
	User         types.UserSummary `json:"user"`
}

// TokenPair is the result of a refresh-token exchange.
type TokenPair struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken"`
}

// Login exchanges credentials for a bearer token and the viewer's profile.
func (c *Client) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	req := map[string]string{
		"username": username,
		"password": password,
	}
	var result LoginResult
	if err := c.postJSONOnce(ctx, "/auth/login", req, &result); err != nil {
		return nil, err
	}
	if result.Token == "" {
		return nil, fmt.Errorf("login: empty token in response")
	}
	c.SetToken(result.Token)
	return &result, nil
}

// RefreshToken exchanges a refresh token for a new token pair.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*TokenPair, error) {
	req := map[string]string{
		"refreshToken": refreshToken,
	}
	var pair TokenPair
	if err := c.postJSONOnce(ctx, "/auth/refresh", req, &pair); err != nil {
		return nil, err
	}
	if pair.Token == "" {
		return nil, fmt.Errorf("refresh: empty token in response")
	}
	return &pair, nil
}

// Logout best-effort invalidates the server-side session. Errors are
// returned but safe to ignore; local credentials are the source of truth.
func (c *Client) Logout(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodPost, "/auth/logout", nil, nil, "")
	return err
}

// TokenExpiresAt reports the bearer token's expiry when it is a JWT with an
// exp claim. The token signature is not verified client-side; expiry is only
// used to refresh proactively instead of waiting for a 401.
func TokenExpiresAt(token string) (time.Time, bool) {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
