// Package auth0 fetches user profiles from the Auth0 tenant that issues our access tokens.
package auth0

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"
)

var ErrUserInfoFailed = errors.New("failed to fetch user info")

// UserInfo is the subset of the /userinfo response used to provision accounts.
type UserInfo struct {
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
}

type Client interface {
	GetUserInfo(ctx context.Context, accessToken string) (*UserInfo, error)
}

// HTTPClient implements Client against the tenant's /userinfo endpoint.
type HTTPClient struct {
	userInfoURL string
	httpClient  *http.Client
}

func NewHTTPClient(domain string) *HTTPClient {
	return &HTTPClient{
		userInfoURL: fmt.Sprintf("https://%s/userinfo", domain),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *HTTPClient) GetUserInfo(ctx context.Context, accessToken string) (*UserInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.userInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUserInfoFailed, err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUserInfoFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrUserInfoFailed, resp.StatusCode)
	}

	var info UserInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUserInfoFailed, err)
	}
	return &info, nil
}
