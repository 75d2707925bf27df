package streamlink

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

const (
	// commonUserAgent is the browser user agent presented to community instances.
	commonUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
		"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	// DefaultNetworkTimeout bounds a single attempt against a network provider.
	DefaultNetworkTimeout = 10 * time.Second
	// maxHTTPRedirects is the maximum number of HTTP redirects to follow.
	maxHTTPRedirects = 3
	// maxResponseSize caps how much of a provider payload is read.
	maxResponseSize = 4 << 20
	// snippetLength is how much of an error body is kept in diagnostics.
	snippetLength = 100
)

var (
	// ErrTooManyRedirects is returned when too many redirects are encountered.
	ErrTooManyRedirects = errors.New("too many redirects")
)

// newHTTPClient creates a new HTTP client with standard settings and redirect validation.
func newHTTPClient(insecureTLS bool) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if insecureTLS {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in for self-signed community instances
	}

	return &http.Client{
		Transport: transport,
		CheckRedirect: func(_ *http.Request, via []*http.Request) error {
			if len(via) >= maxHTTPRedirects {
				return ErrTooManyRedirects
			}
			return nil
		},
	}
}

// withTimeout bounds ctx by d when d is positive.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// classifyError maps a transport or context error onto the failure taxonomy.
func classifyError(ctx context.Context, err error) Kind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	return KindNetwork
}

// applyHeaders copies the request's client identity headers onto an outgoing request.
func applyHeaders(httpReq *http.Request, req *Request) {
	for key, values := range req.Headers() {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}
	if httpReq.Header.Get("User-Agent") == "" {
		httpReq.Header.Set("User-Agent", commonUserAgent)
	}
}

// readBody reads a bounded response body.
func readBody(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return body, nil
}

// badStatus builds the diagnostic for an unexpected status, keeping a short body snippet.
func badStatus(resp *http.Response, body []byte) Result {
	snippet := strings.TrimSpace(string(body))
	if len(snippet) > snippetLength {
		snippet = snippet[:snippetLength]
	}
	if snippet == "" {
		return Failedf(KindBadStatus, "status %d", resp.StatusCode)
	}
	return Failedf(KindBadStatus, "status %d: %s", resp.StatusCode, snippet)
}

// decodeJSON decodes body into dest, reporting a malformed response on failure.
func decodeJSON(body []byte, dest interface{}) *Failure {
	if err := json.Unmarshal(body, dest); err != nil {
		return &Failure{Kind: KindMalformedResponse, Detail: fmt.Sprintf("failed to decode response: %v", err)}
	}
	return nil
}

// trimEndpoint normalizes an instance base URL.
func trimEndpoint(endpoint string) string {
	return strings.TrimRight(strings.TrimSpace(endpoint), "/")
}
