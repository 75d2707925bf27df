// Package streamlink resolves catalog media ids to playable audio URLs by walking an
// ordered chain of unreliable third-party providers.
package streamlink

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
)

// MediaID is the opaque catalog identifier of a track (a YouTube video id in practice).
type MediaID string

const (
	// DefaultAudioFormat is the audio container requested from transcoding providers.
	DefaultAudioFormat = "mp3"
	// DefaultPreferredEncoding is the stream encoding preferred when a provider lists variants.
	DefaultPreferredEncoding = "audio/mp4"
	// maxMediaIDLength bounds the id length; ids end up in file names and tool arguments.
	maxMediaIDLength = 64
)

var (
	// ErrNoID is returned when a media id is missing.
	ErrNoID = errors.New("no id")
	// ErrInvalidID is returned when a media id contains unsupported characters.
	ErrInvalidID = errors.New("invalid id")

	mediaIDRegex = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
)

// ParseMediaID validates a raw id supplied by a caller.
func ParseMediaID(raw string) (MediaID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrNoID
	}
	if len(raw) > maxMediaIDLength || !mediaIDRegex.MatchString(raw) {
		return "", ErrInvalidID
	}
	return MediaID(raw), nil
}

// String returns the id as a plain string.
func (id MediaID) String() string {
	return string(id)
}

// WatchURL returns the canonical YouTube watch URL for the id.
func (id MediaID) WatchURL() string {
	return "https://www.youtube.com/watch?v=" + string(id)
}

// Kind classifies why a resolution attempt failed.
type Kind string

const (
	// KindNetwork is a connection-level failure (refused, DNS, TLS verification).
	KindNetwork Kind = "network"
	// KindTimeout is an attempt that ran past its deadline.
	KindTimeout Kind = "timeout"
	// KindBadStatus is an unexpected non-success HTTP status.
	KindBadStatus Kind = "bad_status"
	// KindMalformedResponse is an undecodable payload or one missing a required field.
	KindMalformedResponse Kind = "malformed_response"
	// KindSemanticMiss is a well-formed response saying "not ready" or "no result".
	KindSemanticMiss Kind = "semantic_miss"
	// KindToolExecution is a nonzero exit or crash of an external process.
	KindToolExecution Kind = "tool_execution_error"
	// KindAllInstancesExhausted aggregates the failures of every endpoint of a pool.
	KindAllInstancesExhausted Kind = "all_instances_exhausted"
	// KindAllStrategiesExhausted aggregates the failures of every strategy of a chain.
	KindAllStrategiesExhausted Kind = "all_strategies_exhausted"
)

// Failure is the structured diagnostic of a failed attempt. Aggregate failures carry
// the failures of their children in Attempts, in the order they were tried.
type Failure struct {
	Kind     Kind       `json:"kind"`
	Source   string     `json:"source,omitempty"`
	Detail   string     `json:"detail"`
	Attempts []*Failure `json:"attempts,omitempty"`
}

// Error implements error.
func (f *Failure) Error() string {
	if f.Source == "" {
		return fmt.Sprintf("%s: %s", f.Kind, f.Detail)
	}
	return fmt.Sprintf("%s: %s: %s", f.Source, f.Kind, f.Detail)
}

// Leaves returns the number of non-aggregate failures in the tree.
func (f *Failure) Leaves() int {
	if len(f.Attempts) == 0 {
		return 1
	}
	n := 0
	for _, a := range f.Attempts {
		n += a.Leaves()
	}
	return n
}

// Result is the outcome of one attempt: either a resolved URL or a failure, never both.
type Result struct {
	url     string
	failure *Failure
}

// Resolved builds a successful result.
func Resolved(url string) Result {
	return Result{url: url}
}

// Failed builds a failed result.
func Failed(kind Kind, detail string) Result {
	return Result{failure: &Failure{Kind: kind, Detail: detail}}
}

// Failedf builds a failed result with a formatted detail.
func Failedf(kind Kind, format string, args ...interface{}) Result {
	return Failed(kind, fmt.Sprintf(format, args...))
}

// failureResult wraps an already built failure.
func failureResult(f *Failure) Result {
	return Result{failure: f}
}

// OK reports whether the result holds a URL.
func (r Result) OK() bool {
	return r.failure == nil
}

// URL returns the resolved URL, or "" for a failed result.
func (r Result) URL() string {
	return r.url
}

// Failure returns the diagnostic of a failed result, or nil.
func (r Result) Failure() *Failure {
	return r.failure
}

// from stamps the failure source if it has not been set by a nested component.
func (r Result) from(source string) Result {
	if r.failure != nil && r.failure.Source == "" {
		r.failure.Source = source
	}
	return r
}

// CredentialBundle is opaque session material (cookies) handed to adapters that can use it.
type CredentialBundle interface {
	// CookieFile returns the path of the normalized Netscape cookie file.
	CookieFile() string
	// CookieJar returns a new jar per call, preloaded with the bundle's cookies.
	CookieJar() http.CookieJar
}

// Request describes one resolution. It is built once and never mutated afterwards.
type Request struct {
	ID                MediaID
	AudioFormat       string
	PreferredEncoding string
	Credentials       CredentialBundle

	headers http.Header
}

// RequestOption customizes a Request at construction time.
type RequestOption func(*Request)

// WithAudioFormat sets the audio container requested from transcoding providers.
func WithAudioFormat(format string) RequestOption {
	return func(r *Request) {
		if format != "" {
			r.AudioFormat = format
		}
	}
}

// WithPreferredEncoding sets the stream encoding preferred among listed variants.
func WithPreferredEncoding(encoding string) RequestOption {
	return func(r *Request) {
		if encoding != "" {
			r.PreferredEncoding = encoding
		}
	}
}

// WithCredentials attaches a credential bundle.
func WithCredentials(bundle CredentialBundle) RequestOption {
	return func(r *Request) {
		r.Credentials = bundle
	}
}

// WithHeader adds a client identity header sent to HTTP providers.
func WithHeader(key, value string) RequestOption {
	return func(r *Request) {
		r.headers.Set(key, value)
	}
}

// NewRequest builds a request for id.
func NewRequest(id MediaID, opts ...RequestOption) *Request {
	req := &Request{
		ID:                id,
		AudioFormat:       DefaultAudioFormat,
		PreferredEncoding: DefaultPreferredEncoding,
		headers:           http.Header{},
	}
	for _, opt := range opts {
		opt(req)
	}
	return req
}

// Headers returns a copy of the client identity headers.
func (r *Request) Headers() http.Header {
	return r.headers.Clone()
}

// Strategy is one step of the resolution chain: a single adapter or a pool of them.
type Strategy interface {
	// Name identifies the strategy in logs and diagnostics.
	Name() string

	// Attempt tries to produce a playable URL. It never panics and reports every
	// failure as a Failed result.
	Attempt(ctx context.Context, req *Request) Result
}

// ArtifactCache is the local store of downloaded audio consulted before any network attempt.
type ArtifactCache interface {
	// Lookup returns the reference of a fresh artifact for id without network activity.
	Lookup(ctx context.Context, id MediaID) (string, bool)

	// Sweep evicts entries older than the cache TTL and returns how many were removed.
	Sweep(ctx context.Context) int
}

// ProduceFunc writes an artifact to dest.
type ProduceFunc func(ctx context.Context, dest string) error

// ArtifactStore persists artifacts produced by the local download strategy.
type ArtifactStore interface {
	// Store runs produce and records its output as the artifact of id, replacing any
	// previous one, and returns the reference under which it is served.
	Store(ctx context.Context, id MediaID, produce ProduceFunc) (string, error)
}
