package streamlink

import (
	"context"
	"errors"
	"time"

	"github.com/kkdai/youtube/v2"
)

const (
	// ExtractName identifies the direct extraction strategy.
	ExtractName = "extract"
	// DefaultExtractTimeout bounds a direct extraction attempt.
	DefaultExtractTimeout = 20 * time.Second
)

// videoSource is the subset of the YouTube client used for extraction.
type videoSource interface {
	GetVideoContext(ctx context.Context, id string) (*youtube.Video, error)
	GetStreamURLContext(ctx context.Context, video *youtube.Video, format *youtube.Format) (string, error)
}

// ExtractAdapter reads the player response directly to obtain a playable URL without
// persisting anything.
type ExtractAdapter struct {
	timeout   time.Duration
	newSource func(req *Request) videoSource
}

// NewExtractAdapter creates the direct extraction adapter.
func NewExtractAdapter(timeout time.Duration) *ExtractAdapter {
	if timeout <= 0 {
		timeout = DefaultExtractTimeout
	}
	return &ExtractAdapter{
		timeout:   timeout,
		newSource: newYouTubeSource,
	}
}

// newYouTubeSource builds a client that carries the request's cookies, if any.
func newYouTubeSource(req *Request) videoSource {
	httpClient := newHTTPClient(false)
	if req.Credentials != nil {
		httpClient.Jar = req.Credentials.CookieJar()
	}
	return &youtube.Client{HTTPClient: httpClient}
}

// Name returns the strategy name.
func (a *ExtractAdapter) Name() string {
	return ExtractName
}

// Attempt extracts the best audio-only stream URL.
func (a *ExtractAdapter) Attempt(ctx context.Context, req *Request) Result {
	ctx, cancel := withTimeout(ctx, a.timeout)
	defer cancel()

	source := a.newSource(req)

	video, err := source.GetVideoContext(ctx, req.ID.String())
	if err != nil {
		return Failed(classifyExtractError(ctx, err), err.Error())
	}

	format := pickAudioFormat(video.Formats, req.PreferredEncoding)
	if format == nil {
		return Failed(KindSemanticMiss, "no audio-only formats available")
	}

	streamURL, err := source.GetStreamURLContext(ctx, video, format)
	if err != nil {
		return Failed(classifyExtractError(ctx, err), err.Error())
	}
	if streamURL == "" {
		return Failedf(KindMalformedResponse, "empty stream url for itag %d", format.ItagNo)
	}

	return Resolved(streamURL)
}

// pickAudioFormat prefers audio-only formats of the preferred encoding, then the highest bitrate.
func pickAudioFormat(formats youtube.FormatList, preferred string) *youtube.Format {
	var best *youtube.Format
	bestMatches := false

	for i := range formats {
		f := &formats[i]
		if f.AudioChannels == 0 || f.Width != 0 || f.Height != 0 {
			continue
		}

		matches := encodingMatches(f.MimeType, preferred)
		switch {
		case best == nil:
		case matches && !bestMatches:
		case matches == bestMatches && bitrateForFormat(f) > bitrateForFormat(best):
		default:
			continue
		}
		best = f
		bestMatches = matches
	}

	return best
}

// bitrateForFormat prefers the average bitrate when the format reports one.
func bitrateForFormat(f *youtube.Format) int {
	if f.AverageBitrate > 0 {
		return f.AverageBitrate
	}
	return f.Bitrate
}

// classifyExtractError maps extraction library errors onto the failure taxonomy.
func classifyExtractError(ctx context.Context, err error) Kind {
	switch {
	case errors.Is(err, youtube.ErrLoginRequired),
		errors.Is(err, youtube.ErrVideoPrivate),
		errors.Is(err, youtube.ErrNotPlayableInEmbed),
		errors.Is(err, youtube.ErrInvalidCharactersInVideoID),
		errors.Is(err, youtube.ErrVideoIDMinLength):
		return KindSemanticMiss
	}

	var statusErr *youtube.ErrPlayabiltyStatus
	if errors.As(err, &statusErr) {
		return KindSemanticMiss
	}

	var codeErr youtube.ErrUnexpectedStatusCode
	if errors.As(err, &codeErr) {
		return KindBadStatus
	}

	return classifyError(ctx, err)
}

// compile-time check that the library client satisfies videoSource.
var _ videoSource = (*youtube.Client)(nil)
