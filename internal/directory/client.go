package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/digcoord/digcoord/internal/storage"
	"github.com/digcoord/digcoord/internal/types"
)

// Client talks to the directory service over HTTP. Reads are retried with
// exponential backoff on transient failures; 4xx responses are final.
type Client struct {
	baseURL    string
	httpClient *http.Client
	maxElapsed time.Duration
}

var _ Service = (*Client)(nil)

// NewClient creates a directory client for the given base URL. timeout
// bounds each HTTP attempt; zero means a 10-second default.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		maxElapsed: 30 * time.Second,
	}
}

// get fetches path into out, retrying transient failures.
func (c *Client) get(ctx context.Context, path string, out any) error {
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return backoff.Permanent(storage.ErrNotFound)
		case resp.StatusCode >= 500:
			return fmt.Errorf("directory: %s returned %d", path, resp.StatusCode)
		case resp.StatusCode >= 400:
			return backoff.Permanent(fmt.Errorf("directory: %s returned %d", path, resp.StatusCode))
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return backoff.Permanent(fmt.Errorf("directory: decode %s: %w", path, err))
		}
		return nil
	}
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = c.maxElapsed
	return backoff.Retry(op, backoff.WithContext(bo, ctx))
}

// FindUserByID fetches one user.
func (c *Client) FindUserByID(ctx context.Context, id string) (*User, error) {
	var user User
	if err := c.get(ctx, "/users/"+url.PathEscape(id), &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// FindUsersByRole fetches one page of users with the given role.
func (c *Client) FindUsersByRole(ctx context.Context, role types.Role, activeOnly bool, page types.Page) ([]*User, int, error) {
	page = page.Normalize()
	q := url.Values{}
	q.Set("role", string(role))
	q.Set("active", strconv.FormatBool(activeOnly))
	q.Set("page", strconv.Itoa(page.Number))
	q.Set("limit", strconv.Itoa(page.Limit))

	var body struct {
		Total int     `json:"total"`
		Items []*User `json:"items"`
	}
	if err := c.get(ctx, "/users?"+q.Encode(), &body); err != nil {
		return nil, 0, err
	}
	return body.Items, body.Total, nil
}

// UserTerritories fetches a coordinator's municipality codes.
func (c *Client) UserTerritories(ctx context.Context, userID string) ([]string, error) {
	var body struct {
		Territories []struct {
			MunicipalityCode string `json:"municipality_code"`
		} `json:"territories"`
	}
	if err := c.get(ctx, "/users/"+url.PathEscape(userID)+"/territories", &body); err != nil {
		return nil, err
	}
	codes := make([]string, 0, len(body.Territories))
	for _, t := range body.Territories {
		codes = append(codes, t.MunicipalityCode)
	}
	return codes, nil
}
