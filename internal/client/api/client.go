// Package api is the HTTP client for the chore server.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"chore-tracker/internal/model"
)

var (
	// ErrUnavailable covers transport failures and 5xx replies. The call may
	// succeed later.
	ErrUnavailable = errors.New("server unavailable")
	// ErrNotFound is a 404: the chore does not exist or is not ours.
	ErrNotFound = errors.New("not found")
	// ErrRejected is any other 4xx. Retrying the same request will not help.
	ErrRejected = errors.New("request rejected")
)

// IsRetryable reports whether err is worth queueing for a later attempt.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrUnavailable) || errors.Is(err, context.DeadlineExceeded)
}

type errorBody struct {
	Error string `json:"error"`
}

type chorePage struct {
	Items []model.Chore `json:"items"`
	Total int64         `json:"total"`
	Page  int           `json:"page"`
	Limit int           `json:"limit"`
}

// Session is the server's reply to register and login.
type Session struct {
	User  model.User `json:"user"`
	Token string     `json:"token"`
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Client talks to /api. Each call is bounded by the configured timeout.
type Client struct {
	http    *resty.Client
	timeout time.Duration
}

func New(baseURL, token string, timeout time.Duration) *Client {
	c := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Content-Type", "application/json").
		SetError(&errorBody{})
	if token != "" {
		c.SetAuthToken(token)
	}
	return &Client{http: c, timeout: timeout}
}

// SetToken swaps the bearer token, e.g. after login.
func (c *Client) SetToken(token string) {
	c.http.SetAuthToken(token)
}

func (c *Client) Register(ctx context.Context, username, password string) (*Session, error) {
	var out Session
	err := c.do(ctx, http.MethodPost, "/api/auth/register", credentials{username, password}, &out)
	return &out, err
}

func (c *Client) Login(ctx context.Context, username, password string) (*Session, error) {
	var out Session
	err := c.do(ctx, http.MethodPost, "/api/auth/login", credentials{username, password}, &out)
	return &out, err
}

// List fetches every chore of the current user, following pages. A chore
// created while pages are fetched shifts later pages, so rows already seen
// are skipped.
func (c *Client) List(ctx context.Context) ([]model.Chore, error) {
	const limit = 100
	all := []model.Chore{}
	seen := make(map[int64]bool)
	for page := 1; ; page++ {
		var out chorePage
		path := "/api/chores?page=" + strconv.Itoa(page) + "&limit=" + strconv.Itoa(limit)
		if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
			return nil, err
		}
		for _, ch := range out.Items {
			if seen[ch.ID] {
				continue
			}
			seen[ch.ID] = true
			all = append(all, ch)
		}
		if len(out.Items) == 0 || int64(len(all)) >= out.Total {
			return all, nil
		}
	}
}

func (c *Client) Create(ctx context.Context, in model.ChoreInput) (*model.Chore, error) {
	var out model.Chore
	if err := c.do(ctx, http.MethodPost, "/api/chores", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Update(ctx context.Context, id int64, patch model.ChorePatch) (*model.Chore, error) {
	var out model.Chore
	if err := c.do(ctx, http.MethodPut, chorePath(id), patch, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Delete(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, chorePath(id), nil, nil)
}

func chorePath(id int64) string {
	return "/api/chores/" + strconv.FormatInt(id, 10)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req := c.http.R().SetContext(ctx)
	if body != nil {
		req.SetBody(body)
	}
	if out != nil {
		req.SetResult(out)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", ErrUnavailable, method, path, err)
	}

	status := resp.StatusCode()
	switch {
	case status < 300:
		return nil
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, message(resp))
	case status >= 500:
		return fmt.Errorf("%w: status %d: %s", ErrUnavailable, status, message(resp))
	default:
		return fmt.Errorf("%w: status %d: %s", ErrRejected, status, message(resp))
	}
}

func message(resp *resty.Response) string {
	if e, ok := resp.Error().(*errorBody); ok && e.Error != "" {
		return e.Error
	}
	return resp.Status()
}
