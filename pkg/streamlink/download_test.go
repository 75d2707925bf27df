package streamlink

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

// dirStore is a minimal ArtifactStore writing <dir>/<id>.<ext>.
type dirStore struct {
	dir string
	ext string
}

func (s *dirStore) Store(ctx context.Context, id MediaID, produce ProduceFunc) (string, error) {
	dest := filepath.Join(s.dir, ".partial-"+id.String()+"."+s.ext)
	if err := produce(ctx, dest); err != nil {
		_ = os.Remove(dest)
		return "", err
	}
	final := filepath.Join(s.dir, id.String()+"."+s.ext)
	if err := os.Rename(dest, final); err != nil {
		return "", err
	}
	return "/downloads/" + id.String() + "." + s.ext, nil
}

// writeFakeDownloader writes a shell script standing in for yt-dlp.
func writeFakeDownloader(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake downloader is a shell script")
	}
	path := filepath.Join(t.TempDir(), "yt-dlp")
	script := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil { //nolint:gosec // test executable
		t.Fatalf("failed to write fake downloader: %v", err)
	}
	return path
}

// fakeDownloaderWriting emits a script that writes the output template with the
// extension substituted and records its arguments to argsFile.
func fakeDownloaderWriting(argsFile string) string {
	return `out=""
prev=""
for arg in "$@"; do
  if [ "$prev" = "--output" ]; then out="$arg"; fi
  prev="$arg"
done
echo "$@" >> "` + argsFile + `"
out=$(echo "$out" | sed 's/%(ext)s/mp3/')
printf 'ID3audio' > "$out"`
}

func TestDownloadAdapter_Attempt(t *testing.T) {
	argsFile := filepath.Join(t.TempDir(), "args")
	binary := writeFakeDownloader(t, fakeDownloaderWriting(argsFile))
	dir := t.TempDir()

	adapter := NewDownloadAdapter(DownloadConfig{BinaryPath: binary, Timeout: 5 * time.Second}, &dirStore{dir: dir, ext: "mp3"})
	res := adapter.Attempt(context.Background(), NewRequest("abc123"))

	if !res.OK() {
		t.Fatalf("Attempt() failed: %v", res.Failure())
	}
	if res.URL() != "/downloads/abc123.mp3" {
		t.Errorf("URL() = %q", res.URL())
	}
	if _, err := os.Stat(filepath.Join(dir, "abc123.mp3")); err != nil {
		t.Errorf("artifact missing: %v", err)
	}

	args, err := os.ReadFile(argsFile)
	if err != nil {
		t.Fatalf("failed to read args: %v", err)
	}
	got := string(args)
	for _, want := range []string{"--audio-format mp3", "--no-playlist", "-- https://www.youtube.com/watch?v=abc123"} {
		if !strings.Contains(got, want) {
			t.Errorf("args %q missing %q", got, want)
		}
	}
	if strings.Contains(got, "--cookies") {
		t.Errorf("args %q should not carry cookies without credentials", got)
	}
}

type fileCredentials struct {
	path string
}

func (c fileCredentials) CookieFile() string { return c.path }

func (c fileCredentials) CookieJar() http.CookieJar { return nil }

func TestDownloadAdapter_PassesCookies(t *testing.T) {
	argsFile := filepath.Join(t.TempDir(), "args")
	binary := writeFakeDownloader(t, fakeDownloaderWriting(argsFile))

	adapter := NewDownloadAdapter(DownloadConfig{BinaryPath: binary}, &dirStore{dir: t.TempDir(), ext: "mp3"})
	req := NewRequest("abc123", WithCredentials(fileCredentials{path: "/run/cookies.txt"}))
	if res := adapter.Attempt(context.Background(), req); !res.OK() {
		t.Fatalf("Attempt() failed: %v", res.Failure())
	}

	args, _ := os.ReadFile(argsFile)
	if !strings.Contains(string(args), "--cookies /run/cookies.txt") {
		t.Errorf("args %q missing cookie file", args)
	}
}

func TestDownloadAdapter_Failures(t *testing.T) {
	tests := []struct {
		name       string
		script     string
		binary     string
		timeout    time.Duration
		wantKind   Kind
		wantDetail string
	}{
		{
			name:       "Nonzero exit carries stderr",
			script:     `echo "ERROR: Video unavailable" >&2; exit 1`,
			wantKind:   KindToolExecution,
			wantDetail: "Video unavailable",
		},
		{
			name:       "Exit zero without output",
			script:     `exit 0`,
			wantKind:   KindToolExecution,
			wantDetail: "produced no output",
		},
		{
			name:     "Missing binary",
			binary:   "/nonexistent/yt-dlp",
			wantKind: KindToolExecution,
		},
		{
			name:     "Deadline",
			script:   `exec sleep 5`,
			timeout:  100 * time.Millisecond,
			wantKind: KindTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			binary := tt.binary
			if binary == "" {
				binary = writeFakeDownloader(t, tt.script)
			}
			timeout := tt.timeout
			if timeout == 0 {
				timeout = 5 * time.Second
			}
			dir := t.TempDir()

			adapter := NewDownloadAdapter(DownloadConfig{BinaryPath: binary, Timeout: timeout}, &dirStore{dir: dir, ext: "mp3"})
			res := adapter.Attempt(context.Background(), NewRequest("abc123"))

			if res.OK() {
				t.Fatalf("Attempt() resolved %q, want failure", res.URL())
			}
			if res.Failure().Kind != tt.wantKind {
				t.Errorf("Kind = %q, want %q (detail %q)", res.Failure().Kind, tt.wantKind, res.Failure().Detail)
			}
			if tt.wantDetail != "" && !strings.Contains(res.Failure().Detail, tt.wantDetail) {
				t.Errorf("Detail = %q, want it to contain %q", res.Failure().Detail, tt.wantDetail)
			}
			if _, err := os.Stat(filepath.Join(dir, "abc123.mp3")); !os.IsNotExist(err) {
				t.Error("failed download should not leave an artifact")
			}
		})
	}
}

func TestTail(t *testing.T) {
	long := strings.Repeat("x", stderrTailLength) + "END"
	got := tail(long)
	if !strings.HasSuffix(got, "END") || !strings.HasPrefix(got, "...") {
		t.Errorf("tail() = %q", got)
	}
	if tail("  short \n") != "short" {
		t.Errorf("tail() should trim short output")
	}
}
