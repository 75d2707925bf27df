package streamlink

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const (
	// DownloadName identifies the local download strategy.
	DownloadName = "download"
	// DefaultDownloadTimeout bounds the whole download-and-transcode run.
	DefaultDownloadTimeout = 120 * time.Second
	// DefaultDownloaderPath is the yt-dlp binary looked up on PATH.
	DefaultDownloaderPath = "yt-dlp"
	// stderrTailLength is how much tool output is kept in diagnostics.
	stderrTailLength = 300
	// processWaitDelay bounds how long output pipes are drained after the process is killed.
	processWaitDelay = 5 * time.Second
)

// errToolFailed marks a failed external process run.
var errToolFailed = errors.New("tool execution failed")

// DownloadConfig configures the local download adapter.
type DownloadConfig struct {
	// BinaryPath is the yt-dlp executable.
	BinaryPath string
	// FFmpegPath is passed to yt-dlp as --ffmpeg-location when set.
	FFmpegPath string
	// Timeout bounds the whole run.
	Timeout time.Duration
}

// DownloadAdapter downloads and transcodes the media into the artifact store and returns
// the reference under which the stored file is served.
type DownloadAdapter struct {
	config DownloadConfig
	store  ArtifactStore
}

// NewDownloadAdapter creates the local download adapter writing into store.
func NewDownloadAdapter(config DownloadConfig, store ArtifactStore) *DownloadAdapter {
	if config.BinaryPath == "" {
		config.BinaryPath = DefaultDownloaderPath
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultDownloadTimeout
	}
	return &DownloadAdapter{
		config: config,
		store:  store,
	}
}

// Name returns the strategy name.
func (a *DownloadAdapter) Name() string {
	return DownloadName
}

// Attempt runs the downloader and stores its output.
func (a *DownloadAdapter) Attempt(ctx context.Context, req *Request) Result {
	ctx, cancel := withTimeout(ctx, a.config.Timeout)
	defer cancel()

	ref, err := a.store.Store(ctx, req.ID, func(ctx context.Context, dest string) error {
		return a.run(ctx, req, dest)
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Failedf(KindTimeout, "download exceeded %s: %v", a.config.Timeout, err)
		}
		return Failed(KindToolExecution, err.Error())
	}

	return Resolved(ref)
}

// run executes yt-dlp so that the transcoded file lands exactly on dest.
func (a *DownloadAdapter) run(ctx context.Context, req *Request, dest string) error {
	template := strings.TrimSuffix(dest, filepath.Ext(dest)) + ".%(ext)s"

	args := []string{
		"--no-playlist",
		"--no-progress",
		"--quiet",
		"--no-warnings",
		"--extract-audio",
		"--audio-format", req.AudioFormat,
		"--output", template,
	}
	if req.Credentials != nil && req.Credentials.CookieFile() != "" {
		args = append(args, "--cookies", req.Credentials.CookieFile())
	}
	if a.config.FFmpegPath != "" {
		args = append(args, "--ffmpeg-location", a.config.FFmpegPath)
	}
	args = append(args, "--", req.ID.WatchURL())

	cmd := exec.CommandContext(ctx, a.config.BinaryPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.WaitDelay = processWaitDelay

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%s: %w", a.config.BinaryPath, ctx.Err())
		}
		return fmt.Errorf("%w: %s: %v: %s", errToolFailed, a.config.BinaryPath, err, tail(stderr.String()))
	}

	info, err := os.Stat(dest)
	if err != nil {
		return fmt.Errorf("%w: %s produced no output at %s", errToolFailed, a.config.BinaryPath, filepath.Base(dest))
	}
	if info.Size() == 0 {
		return fmt.Errorf("%w: %s produced an empty file", errToolFailed, a.config.BinaryPath)
	}

	return nil
}

// tail keeps the end of a tool's output, where the error usually is.
func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > stderrTailLength {
		return "..." + s[len(s)-stderrTailLength:]
	}
	return s
}
