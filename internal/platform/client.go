// Package platform holds the HTTP clients for the three external
// collaborators: the trends feed, the content publisher and the analytics
// endpoint. Clients never retry on their own; the action gate owns attempt
// accounting and backoff.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	logx "trendbot/pkg/logx"
)

const (
	defaultTimeout = 15 * time.Second
	maxErrorBody   = 4 << 10
)

// Endpoint describes one external HTTP collaborator.
type Endpoint struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// client is the shared JSON-over-HTTP plumbing.
type client struct {
	base  string
	token string
	hc    *http.Client
	log   logx.Logger
}

func newClient(ep Endpoint, log logx.Logger) *client {
	if log.IsZero() {
		log = logx.Nop()
	}
	timeout := ep.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &client{
		base:  strings.TrimRight(strings.TrimSpace(ep.BaseURL), "/"),
		token: strings.TrimSpace(ep.Token),
		hc:    &http.Client{Timeout: timeout},
		log:   log,
	}
}

// doJSON performs one request. in (when non-nil) is sent as a JSON body; a
// 2xx response is decoded into out (when non-nil). Network-level failures
// come back transient; HTTP statuses are classified by classifyStatus.
// Status 202 is surfaced as ErrNotReady. path may be an absolute URL, as
// handed out by the publisher's init step.
func (c *client) doJSON(ctx context.Context, op, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		body = bytes.NewReader(b)
	}

	u := path
	if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		u = c.base + path
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		// Timeouts, DNS and connection failures all land here.
		return &TransientError{Op: op, Err: err}
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
		_ = resp.Body.Close()
	}()

	if resp.StatusCode == http.StatusAccepted {
		return ErrNotReady
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		msg := strings.TrimSpace(string(detail))
		if msg == "" {
			msg = resp.Status
		}
		return classifyStatus(op, resp.StatusCode, retryAfter(resp), fmt.Errorf("%s", msg))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

// retryAfter reads the Retry-After header as a second count. The HTTP-date
// form is rare on APIs and is ignored.
func retryAfter(resp *http.Response) time.Duration {
	v := strings.TrimSpace(resp.Header.Get("Retry-After"))
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
