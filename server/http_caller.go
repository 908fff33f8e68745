package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// HTTPCaller is the stock Caller implementation over the platform's REST
// API. Auth, cookies and response caching live here, behind the capability
// boundary; the engine never sees HTTP.
type HTTPCaller struct {
	baseURL    string
	authCookie string
	userAgent  string
	client     *http.Client
}

func NewHTTPCaller(baseURL, authCookie, userAgent string) *HTTPCaller {
	return &HTTPCaller{
		baseURL:    baseURL,
		authCookie: authCookie,
		userAgent:  userAgent,
		client:     &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *HTTPCaller) Call(ctx context.Context, endpoint string, options map[string]string) (json.RawMessage, error) {
	u, err := url.Parse(c.baseURL + "/" + endpoint)
	if err != nil {
		return nil, fmt.Errorf("build url: %w", err)
	}
	q := u.Query()
	for k, v := range options {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)
	if c.authCookie != "" {
		req.AddCookie(&http.Cookie{Name: "auth", Value: c.authCookie})
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, ErrRateLimited
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("%w: %s: status %d", ErrFetchFailed, endpoint, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", endpoint, err)
	}
	return json.RawMessage(data), nil
}
