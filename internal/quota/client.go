package quota

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

var ErrUnauthorized = errors.New("quota service rejected the session cookie")

// Client talks to the external device-limit service. All calls share one
// rate limiter so config-driven polling can never hammer the remote side.
type Client struct {
	baseURL string
	cookie  string
	http    *http.Client
	limiter *rate.Limiter
}

func NewClient(baseURL, cookie string, ratePerSec int) *Client {
	if ratePerSec < 1 {
		ratePerSec = 1
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		cookie:  cookie,
		http:    &http.Client{Timeout: 15 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec),
	}
}

type allowanceResponse struct {
	Remaining int `json:"remaining"`
	Limit     int `json:"limit"`
}

// RemainingAllowance fetches the remaining daily send allowance.
func (c *Client) RemainingAllowance(ctx context.Context) (int, error) {
	var resp allowanceResponse
	if err := c.do(ctx, http.MethodGet, "/api/devices", &resp); err != nil {
		return 0, err
	}
	return resp.Remaining, nil
}

// ResetDeviceLimit sets the remote device limit back to its base value.
// Called once a day at the configured reset time.
func (c *Client) ResetDeviceLimit(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/devices/reset", nil)
}

func (c *Client) do(ctx context.Context, method, path string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	if c.cookie != "" {
		req.Header.Set("Cookie", c.cookie)
	}
	req.Header.Set("Accept", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden:
		return ErrUnauthorized
	case res.StatusCode < 200 || res.StatusCode > 299:
		return fmt.Errorf("quota service: unexpected status %d", res.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(res.Body).Decode(out)
}
