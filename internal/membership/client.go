package membership

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client calls the external membership service over HTTP.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// NewClient creates a client with a short timeout; member lookups sit on the scan path.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP: &http.Client{
			Timeout: 3 * time.Second,
		},
	}
}

type memberPayload struct {
	ID        int64  `json:"id"`
	BadgeID   string `json:"badge_id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Plan      string `json:"plan"`
	ExpiresOn string `json:"expires_on"`
}

// MemberByBadge resolves a badge id through the membership service.
func (c *Client) MemberByBadge(ctx context.Context, badgeID string) (Member, error) {
	if badgeID == "" {
		return Member{}, ErrMemberNotFound
	}
	return c.get(ctx, "/members/by-badge/"+url.PathEscape(badgeID))
}

// MemberByID resolves an internal member id through the membership service.
func (c *Client) MemberByID(ctx context.Context, id int64) (Member, error) {
	if id <= 0 {
		return Member{}, ErrMemberNotFound
	}
	return c.get(ctx, "/members/"+strconv.FormatInt(id, 10))
}

// Health checks if the membership service is available.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("membership service unavailable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("membership service unhealthy: %s", resp.Status)
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string) (Member, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return Member{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return Member{}, fmt.Errorf("membership service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return Member{}, ErrMemberNotFound
	}
	if resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return Member{}, fmt.Errorf("membership service error %s: %s", resp.Status, string(bodyBytes))
	}

	var out memberPayload
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Member{}, fmt.Errorf("failed to decode response: %w", err)
	}
	m := Member{
		ID:        out.ID,
		BadgeID:   out.BadgeID,
		FirstName: out.FirstName,
		LastName:  out.LastName,
		PlanName:  out.Plan,
	}
	if out.ExpiresOn != "" {
		d, err := time.Parse("2006-01-02", out.ExpiresOn)
		if err != nil {
			return Member{}, fmt.Errorf("invalid expires_on %q: %w", out.ExpiresOn, err)
		}
		m.ExpiresOn = &d
	}
	return m, nil
}
