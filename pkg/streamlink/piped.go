package streamlink

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// PipedAudioStream is one audio variant listed by a Piped instance.
type PipedAudioStream struct {
	URL      string `json:"url"`
	MimeType string `json:"mimeType"`
	// Format is Piped's container name, such as "M4A" or "WEBMA_OPUS".
	Format string `json:"format"`
}

// PipedStreamsResponse represents the reply of the Piped streams endpoint.
type PipedStreamsResponse struct {
	Title        string             `json:"title"`
	AudioStreams []PipedAudioStream `json:"audioStreams"`
	Error        string             `json:"error"`
}

// PipedAdapter resolves media through one Piped streaming-metadata instance.
type PipedAdapter struct {
	endpoint string
	client   *http.Client
	timeout  time.Duration
}

// NewPipedAdapter creates an adapter bound to endpoint.
func NewPipedAdapter(endpoint string, client *http.Client, timeout time.Duration) *PipedAdapter {
	if client == nil {
		client = newHTTPClient(false)
	}
	if timeout <= 0 {
		timeout = DefaultNetworkTimeout
	}
	return &PipedAdapter{
		endpoint: trimEndpoint(endpoint),
		client:   client,
		timeout:  timeout,
	}
}

// PipedPool builds the binding used by an Instance Pool of Piped instances.
func PipedPool(timeout time.Duration) func(endpoint string) Strategy {
	client := newHTTPClient(false)
	return func(endpoint string) Strategy {
		return NewPipedAdapter(endpoint, client, timeout)
	}
}

// Name returns the instance endpoint.
func (a *PipedAdapter) Name() string {
	return a.endpoint
}

// Attempt lists the audio variants of the media and picks one.
func (a *PipedAdapter) Attempt(ctx context.Context, req *Request) Result {
	ctx, cancel := withTimeout(ctx, a.timeout)
	defer cancel()

	target := a.endpoint + "/streams/" + url.PathEscape(req.ID.String())
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, http.NoBody)
	if err != nil {
		return Failedf(KindNetwork, "failed to build request: %v", err)
	}
	applyHeaders(httpReq, req)
	httpReq.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return Failed(classifyError(ctx, err), err.Error())
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := readBody(resp)
	if err != nil {
		return Failed(classifyError(ctx, err), err.Error())
	}

	if resp.StatusCode != http.StatusOK {
		return badStatus(resp, body)
	}

	var payload PipedStreamsResponse
	if failure := decodeJSON(body, &payload); failure != nil {
		return failureResult(failure)
	}
	if payload.Error != "" && len(payload.AudioStreams) == 0 {
		return Failed(KindSemanticMiss, payload.Error)
	}

	return SelectAudioStream(payload.AudioStreams, req.PreferredEncoding)
}

// SelectAudioStream picks the first variant whose encoding matches preferred, falling
// back to the first variant carrying a URL. Only an empty list is a semantic miss.
func SelectAudioStream(streams []PipedAudioStream, preferred string) Result {
	if len(streams) == 0 {
		return Failed(KindSemanticMiss, "no audio streams listed")
	}

	for _, stream := range streams {
		if stream.URL != "" && (encodingMatches(stream.MimeType, preferred) || formatMatches(stream.Format, preferred)) {
			return Resolved(stream.URL)
		}
	}

	for _, stream := range streams {
		if stream.URL != "" {
			return Resolved(stream.URL)
		}
	}

	return Failedf(KindMalformedResponse, "%d audio streams listed without url", len(streams))
}

// encodingMatches compares an encoding tag such as "audio/mp4" against a preference that
// may be written with or without the "audio/" prefix.
func encodingMatches(tag, preferred string) bool {
	if tag == "" || preferred == "" {
		return false
	}
	if i := strings.IndexByte(tag, ';'); i >= 0 {
		tag = tag[:i]
	}
	tag = strings.ToLower(strings.TrimSpace(tag))
	preferred = strings.ToLower(strings.TrimSpace(preferred))
	if tag == preferred {
		return true
	}
	return strings.TrimPrefix(tag, "audio/") == strings.TrimPrefix(preferred, "audio/")
}

// formatMatches compares a Piped container name against the preferred encoding.
func formatMatches(format, preferred string) bool {
	if format == "" || preferred == "" {
		return false
	}
	format = strings.ToLower(strings.TrimSpace(format))
	preferred = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(preferred)), "audio/")
	switch {
	case format == "m4a":
		return preferred == "mp4" || preferred == "m4a"
	case strings.HasPrefix(format, "webma"):
		return preferred == "webm"
	default:
		return format == preferred
	}
}
