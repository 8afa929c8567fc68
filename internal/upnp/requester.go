package upnp

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"time"
)

// Response is the part of an HTTP response the UPnP layer looks at.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Requester performs a single HTTP exchange. Implementations must honour ctx.
type Requester interface {
	Do(ctx context.Context, method, url string, header http.Header, body []byte) (*Response, error)
}

// HTTPRequester is the default Requester backed by a pooled http.Client.
type HTTPRequester struct {
	httpClient *http.Client
}

// NewHTTPRequester creates a requester; timeout bounds dialing and the whole exchange.
func NewHTTPRequester(timeout time.Duration) *HTTPRequester {
	return &HTTPRequester{
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				DialContext:         (&net.Dialer{Timeout: timeout}).DialContext,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// Do implements Requester.
func (r *HTTPRequester) Do(ctx context.Context, method, url string, header http.Header, body []byte) (*Response, error) {
	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}
	for key, values := range header {
		// Host is not a regular header for net/http.
		if http.CanonicalHeaderKey(key) == "Host" {
			if len(values) > 0 {
				req.Host = values[0]
			}
			continue
		}
		req.Header[key] = values
	}
	if len(body) > 0 {
		req.ContentLength = int64(len(body))
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: payload}, nil
}
