package streamlink

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestCobaltAdapter_Attempt(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantURL  string
		wantKind Kind
	}{
		{
			name:    "Stream status resolves",
			status:  http.StatusOK,
			body:    `{"status":"stream","url":"https://cdn.example/a.mp3"}`,
			wantURL: "https://cdn.example/a.mp3",
		},
		{
			name:    "Redirect status resolves",
			status:  http.StatusOK,
			body:    `{"status":"redirect","url":"https://cdn.example/b.mp3"}`,
			wantURL: "https://cdn.example/b.mp3",
		},
		{
			name:    "Tunnel status resolves",
			status:  http.StatusOK,
			body:    `{"status":"tunnel","url":"https://cdn.example/c.mp3"}`,
			wantURL: "https://cdn.example/c.mp3",
		},
		{
			name:     "Error status is a semantic miss",
			status:   http.StatusOK,
			body:     `{"status":"error","error":{"code":"error.api.content.video.unavailable"}}`,
			wantKind: KindSemanticMiss,
		},
		{
			name:     "Picker status is a semantic miss",
			status:   http.StatusOK,
			body:     `{"status":"picker"}`,
			wantKind: KindSemanticMiss,
		},
		{
			name:     "Ready status without url is malformed",
			status:   http.StatusOK,
			body:     `{"status":"stream"}`,
			wantKind: KindMalformedResponse,
		},
		{
			name:     "Undecodable body is malformed",
			status:   http.StatusOK,
			body:     `<html>maintenance</html>`,
			wantKind: KindMalformedResponse,
		},
		{
			name:     "Server error is a bad status",
			status:   http.StatusBadGateway,
			body:     `upstream down`,
			wantKind: KindBadStatus,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			adapter := NewCobaltAdapter(server.URL, server.Client(), time.Second)
			res := adapter.Attempt(context.Background(), NewRequest("abc123"))

			if tt.wantURL != "" {
				if !res.OK() {
					t.Fatalf("Attempt() failed: %v", res.Failure())
				}
				if res.URL() != tt.wantURL {
					t.Errorf("URL() = %q, want %q", res.URL(), tt.wantURL)
				}
				return
			}
			if res.OK() {
				t.Fatalf("Attempt() resolved %q, want failure %s", res.URL(), tt.wantKind)
			}
			if res.Failure().Kind != tt.wantKind {
				t.Errorf("Kind = %q, want %q (detail %q)", res.Failure().Kind, tt.wantKind, res.Failure().Detail)
			}
		})
	}
}

func TestCobaltAdapter_RequestShape(t *testing.T) {
	var mu sync.Mutex
	var got map[string]interface{}
	var header http.Header

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		header = r.Header.Clone()
		_ = json.NewDecoder(r.Body).Decode(&got)
		mu.Unlock()
		_, _ = w.Write([]byte(`{"status":"stream","url":"https://cdn.example/a.mp3"}`))
	}))
	defer server.Close()

	adapter := NewCobaltAdapter(server.URL+"/", server.Client(), time.Second)
	res := adapter.Attempt(context.Background(), NewRequest("abc123"))
	if !res.OK() {
		t.Fatalf("Attempt() failed: %v", res.Failure())
	}

	mu.Lock()
	defer mu.Unlock()
	if got["url"] != "https://www.youtube.com/watch?v=abc123" {
		t.Errorf("url = %v", got["url"])
	}
	if got["downloadMode"] != "audio" {
		t.Errorf("downloadMode = %v, want audio", got["downloadMode"])
	}
	if got["audioFormat"] != "mp3" {
		t.Errorf("audioFormat = %v, want mp3", got["audioFormat"])
	}
	if header.Get("Origin") != "https://cobalt.tools" {
		t.Errorf("Origin = %q", header.Get("Origin"))
	}
	if header.Get("Content-Type") != "application/json" {
		t.Errorf("Content-Type = %q", header.Get("Content-Type"))
	}
	if !strings.Contains(header.Get("User-Agent"), "Mozilla/5.0") {
		t.Errorf("User-Agent = %q", header.Get("User-Agent"))
	}
}

func TestCobaltAdapter_LegacyProbeOn404(t *testing.T) {
	var mu sync.Mutex
	var paths []string
	var legacyBody map[string]interface{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		paths = append(paths, r.URL.Path)

		if r.URL.Path == cobaltLegacyPath {
			_ = json.NewDecoder(r.Body).Decode(&legacyBody)
			_, _ = w.Write([]byte(`{"status":"redirect","url":"https://cdn.example/legacy.mp3"}`))
			return
		}
		http.NotFound(w, r)
	}))
	defer server.Close()

	adapter := NewCobaltAdapter(server.URL, server.Client(), time.Second)
	res := adapter.Attempt(context.Background(), NewRequest("abc123"))
	if !res.OK() {
		t.Fatalf("Attempt() failed: %v", res.Failure())
	}
	if res.URL() != "https://cdn.example/legacy.mp3" {
		t.Errorf("URL() = %q", res.URL())
	}

	mu.Lock()
	defer mu.Unlock()
	if len(paths) != 2 || paths[0] != "/" || paths[1] != cobaltLegacyPath {
		t.Errorf("paths = %v, want [/ %s]", paths, cobaltLegacyPath)
	}
	if legacyBody["isAudioOnly"] != true || legacyBody["aFormat"] != "mp3" {
		t.Errorf("legacy body = %v", legacyBody)
	}
}

func TestCobaltAdapter_LegacyProbeOnlyOnce(t *testing.T) {
	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer server.Close()

	adapter := NewCobaltAdapter(server.URL, server.Client(), time.Second)
	res := adapter.Attempt(context.Background(), NewRequest("abc123"))
	if res.OK() {
		t.Fatal("Attempt() should fail when both paths return 404")
	}
	if res.Failure().Kind != KindBadStatus {
		t.Errorf("Kind = %q, want %q", res.Failure().Kind, KindBadStatus)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("calls = %d, want 2", got)
	}
}

func TestCobaltAdapter_NoLegacyProbeOnOtherStatus(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	adapter := NewCobaltAdapter(server.URL, server.Client(), time.Second)
	res := adapter.Attempt(context.Background(), NewRequest("abc123"))
	if res.OK() || res.Failure().Kind != KindBadStatus {
		t.Fatalf("Attempt() = %+v, want bad_status", res.Failure())
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("calls = %d, want 1", got)
	}
}

func TestCobaltAdapter_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	adapter := NewCobaltAdapter(server.URL, server.Client(), 50*time.Millisecond)
	res := adapter.Attempt(context.Background(), NewRequest("abc123"))
	if res.OK() {
		t.Fatal("Attempt() should time out")
	}
	if res.Failure().Kind != KindTimeout {
		t.Errorf("Kind = %q, want %q", res.Failure().Kind, KindTimeout)
	}
}

func TestCobaltAdapter_ConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	endpoint := server.URL
	server.Close()

	adapter := NewCobaltAdapter(endpoint, nil, time.Second)
	res := adapter.Attempt(context.Background(), NewRequest("abc123"))
	if res.OK() {
		t.Fatal("Attempt() should fail against a closed server")
	}
	if res.Failure().Kind != KindNetwork {
		t.Errorf("Kind = %q, want %q", res.Failure().Kind, KindNetwork)
	}
}
