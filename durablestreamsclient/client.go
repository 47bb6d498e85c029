package durablestreamsclient

import (
	"net"
	"net/http"
	"strings"
	"time"
)

// Client is a durable streams HTTP client. Safe for concurrent use.
type Client struct {
	httpClient *http.Client
	baseURL    string
	auth       string
}

// NewClient creates a client with a connection-pooled transport.
func NewClient(baseURL string) *Client {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
	}

	return &Client{
		httpClient: &http.Client{Transport: transport},
		baseURL:    strings.TrimSuffix(baseURL, "/"),
	}
}

// SetAuthorization sets an Authorization header value (scheme and value,
// e.g. "Bearer abc") sent with every request. An empty value disables it.
func (c *Client) SetAuthorization(auth string) {
	c.auth = auth
}

// do issues a request, attaching the configured Authorization header.
func (c *Client) do(req *http.Request) (*http.Response, error) {
	if c.auth != "" {
		req.Header.Set("Authorization", c.auth)
	}
	return c.httpClient.Do(req)
}

// Stream returns a handle to a stream at the given path. No request is
// made until an operation is called on the handle.
func (c *Client) Stream(path string) *Stream {
	fullURL := path
	if !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		fullURL = c.baseURL + path
	}
	return &Stream{url: fullURL, client: c}
}
