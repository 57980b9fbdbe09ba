package twitter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/spigell/network-scout/internal/platform"
	"github.com/spigell/network-scout/internal/utils"
)

const contentType = "application/json"

func (c *Client) getJSON(ctx context.Context, endpoint string, q url.Values, target any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	if q != nil {
		req.URL.RawQuery = q.Encode()
	}
	return c.do(req, http.StatusOK, target)
}

func (c *Client) postJSON(ctx context.Context, endpoint string, body, target any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
	return c.do(req, http.StatusCreated, target)
}

func (c *Client) do(req *http.Request, want int, target any) error {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return err
	}

	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.token))
	req.Header.Set("User-Agent", c.UserAgent)

	c.logger.Debug("make request", zap.String("method", req.Method), zap.String("url", req.URL.String()))
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	switch resp.StatusCode {
	case want, http.StatusOK:
	case http.StatusForbidden:
		return fmt.Errorf("%s: %w", utils.TruncateForLog(string(data), 200), platform.ErrPermission)
	case http.StatusNotFound:
		return fmt.Errorf("%s: %w", req.URL.Path, ErrNotFound)
	case http.StatusTooManyRequests:
		return fmt.Errorf("reset at %s: %w", resp.Header.Get("x-rate-limit-reset"), ErrRateLimited)
	default:
		return fmt.Errorf("bad status: %s", resp.Status)
	}

	if target == nil || len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, target)
}
