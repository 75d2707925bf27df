package streamlink

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"
)

const (
	// cobaltLegacyPath is where pre-v10 instances expose the resolution endpoint.
	cobaltLegacyPath = "/api/json"
	// cobaltOrigin is the web client origin community instances expect.
	cobaltOrigin = "https://cobalt.tools"
)

// cobaltReadyStatuses are the status tags that carry a playable URL.
var cobaltReadyStatuses = map[string]bool{
	"stream":   true,
	"redirect": true,
	"tunnel":   true,
}

// cobaltRequest is the v10 request body.
type cobaltRequest struct {
	URL          string `json:"url"`
	DownloadMode string `json:"downloadMode"`
	AudioFormat  string `json:"audioFormat"`
}

// cobaltLegacyRequest is the request body understood by the legacy sub-path.
type cobaltLegacyRequest struct {
	URL         string `json:"url"`
	IsAudioOnly bool   `json:"isAudioOnly"`
	AudioFormat string `json:"aFormat"`
}

// CobaltResponse represents the reply of a cobalt instance.
type CobaltResponse struct {
	Status string `json:"status"`
	URL    string `json:"url"`
	Text   string `json:"text"`
	Error  *struct {
		Code string `json:"code"`
	} `json:"error"`
}

// CobaltAdapter resolves media through one cobalt redirect-service instance.
type CobaltAdapter struct {
	endpoint string
	client   *http.Client
	timeout  time.Duration
}

// NewCobaltAdapter creates an adapter bound to endpoint.
func NewCobaltAdapter(endpoint string, client *http.Client, timeout time.Duration) *CobaltAdapter {
	if client == nil {
		client = newHTTPClient(false)
	}
	if timeout <= 0 {
		timeout = DefaultNetworkTimeout
	}
	return &CobaltAdapter{
		endpoint: trimEndpoint(endpoint),
		client:   client,
		timeout:  timeout,
	}
}

// CobaltPool builds the binding used by an Instance Pool of cobalt instances.
func CobaltPool(insecureTLS bool, timeout time.Duration) func(endpoint string) Strategy {
	client := newHTTPClient(insecureTLS)
	return func(endpoint string) Strategy {
		return NewCobaltAdapter(endpoint, client, timeout)
	}
}

// Name returns the instance endpoint.
func (a *CobaltAdapter) Name() string {
	return a.endpoint
}

// Attempt asks the instance for a direct audio URL. The root path is tried first; a
// 404 there triggers exactly one probe of the legacy sub-path.
func (a *CobaltAdapter) Attempt(ctx context.Context, req *Request) Result {
	ctx, cancel := withTimeout(ctx, a.timeout)
	defer cancel()

	resp, body, failure := a.post(ctx, a.endpoint, req, cobaltRequest{
		URL:          req.ID.WatchURL(),
		DownloadMode: "audio",
		AudioFormat:  req.AudioFormat,
	})
	if failure != nil {
		return failureResult(failure)
	}

	if resp.StatusCode == http.StatusNotFound {
		resp, body, failure = a.post(ctx, a.endpoint+cobaltLegacyPath, req, cobaltLegacyRequest{
			URL:         req.ID.WatchURL(),
			IsAudioOnly: true,
			AudioFormat: req.AudioFormat,
		})
		if failure != nil {
			return failureResult(failure)
		}
	}

	if resp.StatusCode != http.StatusOK {
		return badStatus(resp, body)
	}

	return parseCobaltResponse(body)
}

// post sends payload to target and returns the response with its body read. A failure
// is returned only for transport-level errors.
func (a *CobaltAdapter) post(
	ctx context.Context,
	target string,
	req *Request,
	payload interface{},
) (*http.Response, []byte, *Failure) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, &Failure{Kind: KindMalformedResponse, Detail: "failed to encode request: " + err.Error()}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(encoded))
	if err != nil {
		return nil, nil, &Failure{Kind: KindNetwork, Detail: "failed to build request: " + err.Error()}
	}
	applyHeaders(httpReq, req)
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Origin", cobaltOrigin)
	httpReq.Header.Set("Referer", cobaltOrigin+"/")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, nil, &Failure{Kind: classifyError(ctx, err), Detail: err.Error()}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := readBody(resp)
	if err != nil {
		return nil, nil, &Failure{Kind: classifyError(ctx, err), Detail: err.Error()}
	}

	return resp, body, nil
}

// parseCobaltResponse interprets a 200 reply.
func parseCobaltResponse(body []byte) Result {
	var payload CobaltResponse
	if failure := decodeJSON(body, &payload); failure != nil {
		return failureResult(failure)
	}

	if !cobaltReadyStatuses[payload.Status] {
		reason := payload.Text
		if payload.Error != nil && payload.Error.Code != "" {
			reason = payload.Error.Code
		}
		if reason == "" {
			return Failedf(KindSemanticMiss, "status %q", payload.Status)
		}
		return Failedf(KindSemanticMiss, "status %q: %s", payload.Status, reason)
	}

	if payload.URL == "" {
		return Failedf(KindMalformedResponse, "status %q without url", payload.Status)
	}

	return Resolved(payload.URL)
}
