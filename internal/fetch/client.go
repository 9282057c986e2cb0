package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/nkozyrev/mpcrawl/internal/logger"
)

// Kind selects the Accept header and response handling for a request.
type Kind int

// Request kinds.
const (
	KindMarkup Kind = iota
	KindJSON
	KindBinary
)

func (k Kind) accept() string {
	switch k {
	case KindJSON:
		return "application/json"
	case KindBinary:
		return "image/*, */*"
	default:
		return "text/html, application/xhtml+xml"
	}
}

// Result is a fetched response body with its content type.
type Result struct {
	Body        []byte
	ContentType string
}

// Options configures a Client.
type Options struct {
	Timeout    time.Duration
	MaxRetries int
	Proxies    []string
	UserAgents []string
}

// Client fetches marketplace resources over HTTP. Requests rotate
// through the configured proxies and user agents; transient failures are
// retried up to MaxRetries times with a short linear backoff.
type Client struct {
	clients    []*http.Client
	userAgents []string
	maxRetries int
	log        logger.Interface

	next atomic.Uint64
}

// NewClient builds a Client from options. With no proxies configured a
// single direct client is used.
func NewClient(opts Options, log logger.Interface) (*Client, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	clients := make([]*http.Client, 0, len(opts.Proxies))
	for _, raw := range opts.Proxies {
		proxyURL, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy url %q: %w", raw, err)
		}
		clients = append(clients, &http.Client{
			Timeout:   timeout,
			Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)},
		})
	}
	if len(clients) == 0 {
		clients = append(clients, &http.Client{Timeout: timeout})
	}

	userAgents := opts.UserAgents
	if len(userAgents) == 0 {
		userAgents = []string{defaultUserAgent}
	}

	maxRetries := opts.MaxRetries
	if maxRetries < 1 {
		maxRetries = 1
	}

	return &Client{
		clients:    clients,
		userAgents: userAgents,
		maxRetries: maxRetries,
		log:        log,
	}, nil
}

const defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64; rv:128.0) Gecko/20100101 Firefox/128.0"

// Fetch downloads rawURL, retrying transient failures. Each attempt uses
// the next proxy/user-agent pair in rotation, so a bad exit node does
// not poison the whole retry budget.
func (c *Client) Fetch(ctx context.Context, rawURL string, kind Kind) (*Result, error) {
	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		result, err := c.fetchOnce(ctx, rawURL, kind)
		if err == nil {
			return result, nil
		}
		if !IsTransient(err) {
			return nil, err
		}
		lastErr = err

		c.log.Debug("transient fetch failure",
			"url", rawURL, "attempt", attempt, "max_retries", c.maxRetries, "error", err)

		if attempt < c.maxRetries {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
			}
		}
	}
	return nil, lastErr
}

func (c *Client) fetchOnce(ctx context.Context, rawURL string, kind Kind) (*Result, error) {
	n := c.next.Add(1)
	client := c.clients[int(n)%len(c.clients)]
	userAgent := c.userAgents[int(n)%len(c.userAgents)]

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("fetch new request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", kind.accept())

	resp, doErr := client.Do(req)
	if doErr != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &TransientError{URL: rawURL, Err: doErr}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, fmt.Errorf("fetch %s: %w", rawURL, ErrGone)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, &TransientError{URL: rawURL, StatusCode: resp.StatusCode}
	default:
		return nil, fmt.Errorf("fetch %s: unexpected status %d", rawURL, resp.StatusCode)
	}

	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return nil, &TransientError{URL: rawURL, Err: readErr}
	}

	return &Result{
		Body:        body,
		ContentType: resp.Header.Get("Content-Type"),
	}, nil
}
