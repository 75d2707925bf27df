// Package catalog searches the music catalog through Piped instances.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"zenify/pkg/fuzzy"
	"zenify/pkg/streamlink"
)

const (
	// DefaultTimeout bounds one search request against one instance.
	DefaultTimeout = 10 * time.Second
	// DefaultLimit caps the number of returned songs.
	DefaultLimit = 20
	// UnknownArtist is reported when an item carries no uploader.
	UnknownArtist = "Unknown"

	musicFilter     = "music_songs"
	topicSuffix     = " - Topic"
	vevoSuffix      = "VEVO"
	maxResponseSize = 4 << 20
)

var (
	// ErrNoQuery is returned for an empty search query.
	ErrNoQuery = errors.New("no query")
	// ErrNoInstances is returned when the client has no instance to ask.
	ErrNoInstances = errors.New("no catalog instances configured")

	camelCaseRegex = regexp.MustCompile(`([a-z])([A-Z])`)
	normalizer     = fuzzy.NewNormalizer()
)

// Song is one search hit.
type Song struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Artist  string   `json:"artist"`
	Artists []string `json:"artists"`
	Image   string   `json:"image"`
}

// searchItem is one entry of the Piped search response.
type searchItem struct {
	URL          string `json:"url"`
	Type         string `json:"type"`
	Title        string `json:"title"`
	Thumbnail    string `json:"thumbnail"`
	UploaderName string `json:"uploaderName"`
}

type searchResponse struct {
	Items []searchItem `json:"items"`
	Error string       `json:"error"`
}

// Client searches the catalog, trying each instance in order.
type Client struct {
	instances streamlink.InstanceList
	client    *http.Client
	timeout   time.Duration
	logger    *zap.Logger
}

// NewClient creates a catalog client over instances.
func NewClient(instances streamlink.InstanceList, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		instances: instances,
		client:    &http.Client{Transport: http.DefaultTransport.(*http.Transport).Clone()},
		timeout:   timeout,
		logger:    logger,
	}
}

// Close releases idle connections.
func (c *Client) Close() {
	c.client.CloseIdleConnections()
}

// Search returns up to limit songs matching query from the first instance that answers.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]Song, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrNoQuery
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if len(c.instances) == 0 {
		return nil, ErrNoInstances
	}

	var lastErr error
	for _, endpoint := range c.instances {
		songs, err := c.searchInstance(ctx, endpoint, query)
		if err == nil {
			if len(songs) > limit {
				songs = songs[:limit]
			}
			return songs, nil
		}

		c.logger.Warn("Catalog instance failed",
			zap.String("instance", endpoint),
			zap.String("query", query),
			zap.Error(err))
		lastErr = err

		if ctx.Err() != nil {
			break
		}
	}

	return nil, fmt.Errorf("all catalog instances failed: %w", lastErr)
}

func (c *Client) searchInstance(ctx context.Context, endpoint, query string) ([]Song, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := url.Values{}
	params.Set("q", query)
	params.Set("filter", musicFilter)
	target := endpoint + "/search?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", endpoint, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned status %d", endpoint, resp.StatusCode)
	}

	var payload searchResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode response from %s: %w", endpoint, err)
	}
	if payload.Error != "" {
		return nil, fmt.Errorf("%s: %s", endpoint, payload.Error)
	}

	return toSongs(payload.Items), nil
}

// toSongs keeps stream items and reshapes them. Uploads of the same recording are
// folded into the first one.
func toSongs(items []searchItem) []Song {
	songs := make([]Song, 0, len(items))
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		if item.Type != "" && item.Type != "stream" {
			continue
		}
		id := videoID(item.URL)
		if id == "" {
			continue
		}

		name := normalizer.StripVideoNoise(item.Title)
		if name == "" {
			name = item.Title
		}
		artist := artistFromUploader(item.UploaderName)

		key := normalizer.SongKey(name, artist)
		if seen[key] {
			continue
		}
		seen[key] = true

		songs = append(songs, Song{
			ID:      id,
			Name:    name,
			Artist:  artist,
			Artists: []string{artist},
			Image:   item.Thumbnail,
		})
	}
	return songs
}

// artistFromUploader turns an uploader channel name into an artist name.
func artistFromUploader(uploader string) string {
	uploader = strings.TrimSpace(uploader)
	switch {
	case strings.HasSuffix(uploader, topicSuffix):
		// Auto-generated artist channels.
		uploader = strings.TrimSuffix(uploader, topicSuffix)
	case strings.HasSuffix(uploader, vevoSuffix) && len(uploader) > len(vevoSuffix):
		// "RickAstleyVEVO" -> "Rick Astley".
		uploader = camelCaseRegex.ReplaceAllString(strings.TrimSuffix(uploader, vevoSuffix), "$1 $2")
	}
	uploader = strings.TrimSpace(uploader)
	if uploader == "" {
		return UnknownArtist
	}
	return uploader
}

// videoID extracts the id from "/watch?v=<id>" links.
func videoID(link string) string {
	u, err := url.Parse(link)
	if err != nil {
		return ""
	}
	id, err := streamlink.ParseMediaID(u.Query().Get("v"))
	if err != nil {
		return ""
	}
	return id.String()
}
