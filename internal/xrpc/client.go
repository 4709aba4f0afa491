package xrpc

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"
)

// Client talks XML-RPC to one worker endpoint. Connections are not pooled
// beyond the default transport; endpoints live for a single session.
type Client struct {
	url string
	hc  *http.Client
}

// NewClient builds a client for host:port with a strict per-call timeout
// covering dial, write and read. The timeout is what keeps the discovery
// sweep bounded.
func NewClient(host string, port int, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Client{
		url: "http://" + net.JoinHostPort(host, strconv.Itoa(port)) + "/",
		hc: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				DialContext:       (&net.Dialer{Timeout: timeout}).DialContext,
				DisableKeepAlives: true,
			},
		},
	}
}

// URL returns the endpoint URL.
func (c *Client) URL() string {
	return c.url
}

// Call invokes method with args and returns the decoded result. A wire-level
// fault is returned as *Fault; transport failures as ordinary errors.
func (c *Client) Call(ctx context.Context, method string, args ...any) (any, error) {
	body, err := marshalCall(method, args)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxRequestBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", method, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("call %s: unexpected status %d", method, resp.StatusCode)
	}

	return unmarshalResponse(data)
}

// ListMethods performs the capability handshake.
func (c *Client) ListMethods(ctx context.Context) ([]string, error) {
	result, err := c.Call(ctx, "system.listMethods")
	if err != nil {
		return nil, err
	}
	return Strings(result), nil
}
