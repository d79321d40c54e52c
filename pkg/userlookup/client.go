/**
 * @description
 * This package provides a client for the player-account lookup service used
 * during funnel verification. A lookup is three chained upstream calls:
 * resolve the username to an account id, fetch the account details, then
 * fetch the avatar headshot. The avatar call is best-effort; a deterministic
 * fallback URL is used when it fails so verification never blocks on it.
 *
 * @dependencies
 * - github.com/go-resty/resty/v2: HTTP transport.
 */

package userlookup

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/rbxrewards/funnel-service/internal/domain"
)

var (
	// ErrUsernameRequired rejects blank input before any upstream call.
	ErrUsernameRequired = errors.New("username is required")

	// ErrUserNotFound means the upstream service knows no such username.
	ErrUserNotFound = errors.New("user not found")
)

// UpstreamError is a non-2xx response from the lookup service.
type UpstreamError struct {
	StatusCode int
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("lookup service returned status %d", e.StatusCode)
}

// Client is a client for the username lookup and thumbnail services.
type Client struct {
	usersBaseURL  string
	thumbsBaseURL string
	rest          *resty.Client
}

// NewClient creates a lookup client for the two upstream base URLs.
func NewClient(usersBaseURL, thumbsBaseURL string, timeout time.Duration) *Client {
	return &Client{
		usersBaseURL:  strings.TrimRight(usersBaseURL, "/"),
		thumbsBaseURL: strings.TrimRight(thumbsBaseURL, "/"),
		rest:          resty.New().SetTimeout(timeout),
	}
}

type resolveRequest struct {
	Usernames          []string `json:"usernames"`
	ExcludeBannedUsers bool     `json:"excludeBannedUsers"`
}

type resolveResponse struct {
	Data []struct {
		ID          int64  `json:"id"`
		DisplayName string `json:"displayName"`
	} `json:"data"`
}

type detailsResponse struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
	Created     string `json:"created"`
	Description string `json:"description"`
}

type thumbnailResponse struct {
	Data []struct {
		ImageURL string `json:"imageUrl"`
	} `json:"data"`
}

// Lookup resolves a username into a full profile.
func (c *Client) Lookup(ctx context.Context, username string) (*domain.PlayerProfile, error) {
	clean := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(username), "@"))
	if clean == "" {
		return nil, ErrUsernameRequired
	}

	// Call 1: username -> account id.
	var resolved resolveResponse
	resp, err := c.rest.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(resolveRequest{Usernames: []string{clean}, ExcludeBannedUsers: false}).
		SetResult(&resolved).
		Post(c.usersBaseURL + "/v1/usernames/users")
	if err != nil {
		return nil, fmt.Errorf("username resolve failed: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, &UpstreamError{StatusCode: resp.StatusCode()}
	}
	if len(resolved.Data) == 0 {
		return nil, ErrUserNotFound
	}
	userID := resolved.Data[0].ID
	displayName := resolved.Data[0].DisplayName

	// Call 2: account details.
	var details detailsResponse
	resp, err = c.rest.R().
		SetContext(ctx).
		SetResult(&details).
		Get(fmt.Sprintf("%s/v1/users/%d", c.usersBaseURL, userID))
	if err != nil {
		return nil, fmt.Errorf("user details failed: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, &UpstreamError{StatusCode: resp.StatusCode()}
	}
	if details.DisplayName != "" {
		displayName = details.DisplayName
	}

	// Call 3: avatar headshot, best-effort with a stable fallback.
	avatarURL := fmt.Sprintf("https://www.roblox.com/headshot-thumbnail/image?userId=%d&width=150&height=150&format=png", userID)
	var thumb thumbnailResponse
	resp, err = c.rest.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"userIds":    fmt.Sprintf("%d", userID),
			"size":       "150x150",
			"format":     "Png",
			"isCircular": "true",
		}).
		SetResult(&thumb).
		Get(c.thumbsBaseURL + "/v1/users/avatar-headshot")
	if err == nil && resp.StatusCode() == http.StatusOK && len(thumb.Data) > 0 && thumb.Data[0].ImageURL != "" {
		avatarURL = thumb.Data[0].ImageURL
	}

	return &domain.PlayerProfile{
		ID:          userID,
		Username:    details.Name,
		DisplayName: displayName,
		AvatarURL:   avatarURL,
		CreatedAt:   details.Created,
		Description: details.Description,
	}, nil
}
