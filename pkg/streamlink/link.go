package streamlink

import (
	"fmt"
	"net/url"
	"strings"
)

// youtubeHosts are the hosts whose links name a media id.
var youtubeHosts = map[string]bool{
	"youtube.com":       true,
	"www.youtube.com":   true,
	"m.youtube.com":     true,
	"music.youtube.com": true,
	"youtu.be":          true,
}

// pathIDPrefixes are link paths that carry the id as their next segment.
var pathIDPrefixes = []string{"/shorts/", "/embed/", "/live/", "/v/"}

// ParseMediaRef accepts a bare media id or a YouTube / YouTube Music link to one.
func ParseMediaRef(raw string) (MediaID, error) {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "://") {
		return ParseMediaID(raw)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidID, err)
	}

	host := strings.ToLower(u.Hostname())
	if !youtubeHosts[host] {
		return "", fmt.Errorf("%w: unsupported host %q", ErrInvalidID, host)
	}

	// Short links carry the id in the path.
	if host == "youtu.be" {
		return parseLinkID(strings.Trim(u.Path, "/"))
	}

	if v := u.Query().Get("v"); v != "" {
		return parseLinkID(v)
	}
	for _, prefix := range pathIDPrefixes {
		if rest, ok := strings.CutPrefix(u.Path, prefix); ok {
			rest, _, _ = strings.Cut(rest, "/")
			return parseLinkID(rest)
		}
	}

	return "", fmt.Errorf("%w: no video id in link", ErrInvalidID)
}

// parseLinkID validates an id taken from a link; a missing one is malformed, not absent.
func parseLinkID(raw string) (MediaID, error) {
	id, err := ParseMediaID(raw)
	if err != nil {
		return "", fmt.Errorf("%w: no video id in link", ErrInvalidID)
	}
	return id, nil
}
