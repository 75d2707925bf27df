package http

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"zenify/internal/catalog"
	"zenify/internal/flood"
	"zenify/pkg/streamlink"
)

const (
	errNoID          = "no id"
	errInvalidID     = "invalid id"
	errNoQuery       = "no query"
	errRateLimited   = "rate limited"
	errExhausted     = "all strategies exhausted"
	errNotFound      = "not found"
	homeBanner       = "Zenify Proxy Server Running"
	serviceName      = "zenify"
	streamRoute      = "stream"
	searchRoute      = "search"
	downloadsRoute   = "downloads"
	downloadsPattern = "/downloads/{file}"
)

// Resolver resolves media ids to playable URLs.
type Resolver interface {
	Resolve(ctx context.Context, id streamlink.MediaID) *streamlink.Resolution
}

// Searcher looks songs up in the catalog.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]catalog.Song, error)
}

// ArtifactFiles maps a requested artifact file name to a servable path.
type ArtifactFiles interface {
	File(name string) (string, bool)
}

// Deps are the collaborators the handlers delegate to.
type Deps struct {
	Resolver    Resolver
	Searcher    Searcher
	Files       ArtifactFiles
	Gate        *flood.Floodgate
	SearchLimit int
}

// StreamResponse is the body of /stream. A successful response only carries URL.
type StreamResponse struct {
	URL      string                `json:"url,omitempty"`
	Error    string                `json:"error,omitempty"`
	ID       streamlink.MediaID    `json:"id,omitempty"`
	Kind     streamlink.Kind       `json:"kind,omitempty"`
	Detail   string                `json:"detail,omitempty"`
	Attempts []*streamlink.Failure `json:"attempts,omitempty"`
}

// NewStreamResponse renders a resolution as the /stream status and body. Relative
// references are made absolute under baseURL when it is set.
func NewStreamResponse(res *streamlink.Resolution, baseURL string) (int, StreamResponse) {
	if res.OK() {
		return http.StatusOK, StreamResponse{URL: absoluteURL(baseURL, res.URL)}
	}
	return http.StatusInternalServerError, StreamResponse{
		Error:    errExhausted,
		ID:       res.ID,
		Kind:     res.Failure.Kind,
		Detail:   res.Failure.Detail,
		Attempts: res.Failure.Attempts,
	}
}

func absoluteURL(baseURL, ref string) string {
	if baseURL == "" || !strings.HasPrefix(ref, "/") {
		return ref
	}
	return strings.TrimRight(baseURL, "/") + ref
}

type errorResponse struct {
	Error string `json:"error"`
}

type handlers struct {
	deps      Deps
	publicURL string
	logger    *zap.Logger
}

func (h *handlers) stream(w http.ResponseWriter, r *http.Request) {
	id, err := streamlink.ParseMediaRef(r.URL.Query().Get("id"))
	if err != nil {
		msg := errInvalidID
		if errors.Is(err, streamlink.ErrNoID) {
			msg = errNoID
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg}, h.logger)
		return
	}

	if h.deps.Gate != nil && !h.deps.Gate.Allow(streamRoute, clientAddress(r)) {
		if wait := h.deps.Gate.RetryAfter(streamRoute, clientAddress(r)); wait > 0 {
			w.Header().Set("Retry-After", retryAfterSeconds(wait.Seconds()))
		}
		writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: errRateLimited}, h.logger)
		return
	}

	res := h.deps.Resolver.Resolve(r.Context(), id)
	status, body := NewStreamResponse(res, h.baseURL(r))
	writeJSON(w, status, body, h.logger)
}

func (h *handlers) search(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("query")
	if query == "" {
		query = r.URL.Query().Get("q")
	}

	songs, err := h.deps.Searcher.Search(r.Context(), query, h.deps.SearchLimit)
	switch {
	case errors.Is(err, catalog.ErrNoQuery):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: errNoQuery}, h.logger)
		return
	case err != nil:
		h.logger.Warn("Catalog search failed", zap.String("query", query), zap.Error(err))
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: err.Error()}, h.logger)
		return
	}

	if songs == nil {
		songs = []catalog.Song{}
	}
	writeJSON(w, http.StatusOK, songs, h.logger)
}

func (h *handlers) download(w http.ResponseWriter, r *http.Request) {
	path, ok := h.deps.Files.File(mux.Vars(r)["file"])
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: errNotFound}, h.logger)
		return
	}
	http.ServeFile(w, r, path)
}

func (h *handlers) healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(`{"status":"ok","service":"` + serviceName + `"}`)); err != nil {
		h.logger.Debug("Failed to write health response", zap.Error(err))
	}
}

func (h *handlers) readyz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if h.deps.Resolver == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		if _, err := w.Write([]byte(`{"status":"starting","service":"` + serviceName + `"}`)); err != nil {
			h.logger.Debug("Failed to write ready response", zap.Error(err))
		}
		return
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(`{"status":"ready","service":"` + serviceName + `"}`)); err != nil {
		h.logger.Debug("Failed to write ready response", zap.Error(err))
	}
}

func (h *handlers) home(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(homeBanner)); err != nil {
		h.logger.Debug("Failed to write home response", zap.Error(err))
	}
}

// baseURL is the configured public URL, or the one the request came in on.
func (h *handlers) baseURL(r *http.Request) string {
	if h.publicURL != "" {
		return h.publicURL
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}

func writeJSON(w http.ResponseWriter, status int, body any, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Debug("Failed to write response", zap.Error(err))
	}
}

func clientAddress(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func retryAfterSeconds(seconds float64) string {
	return strconv.Itoa(int(math.Ceil(seconds)))
}
