package catalog

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"zenify/pkg/streamlink"
)

const searchBody = `{"items":[
	{"url":"/watch?v=abc123","type":"stream","title":"Song A","thumbnail":"https://img/a.jpg","uploaderName":"Artist A - Topic"},
	{"url":"/channel/UC123","type":"channel","title":"Artist A"},
	{"url":"/watch?v=def456","type":"stream","title":"Song B","thumbnail":"https://img/b.jpg","uploaderName":""},
	{"url":"/watch?v=bad.id","type":"stream","title":"Broken"}
]}`

func TestToSongs(t *testing.T) {
	items := []searchItem{
		{URL: "/watch?v=abc123", Type: "stream", Title: "Song A", Thumbnail: "img", UploaderName: "Artist A - Topic"},
		{URL: "/playlist?list=PL1", Type: "playlist", Title: "Mix"},
		{URL: "/watch?v=def456", Type: "stream", Title: "Song B"},
	}

	songs := toSongs(items)
	if len(songs) != 2 {
		t.Fatalf("toSongs() = %d songs, want 2", len(songs))
	}
	if songs[0].ID != "abc123" || songs[0].Artist != "Artist A" || songs[0].Image != "img" {
		t.Errorf("songs[0] = %+v", songs[0])
	}
	if len(songs[0].Artists) != 1 || songs[0].Artists[0] != "Artist A" {
		t.Errorf("songs[0].Artists = %v", songs[0].Artists)
	}
	if songs[1].Artist != UnknownArtist {
		t.Errorf("songs[1].Artist = %q, want %q", songs[1].Artist, UnknownArtist)
	}
}

func TestClient_Search(t *testing.T) {
	var mu sync.Mutex
	var gotQuery, gotFilter string
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotQuery = r.URL.Query().Get("q")
		gotFilter = r.URL.Query().Get("filter")
		mu.Unlock()
		_, _ = w.Write([]byte(searchBody))
	}))
	defer good.Close()

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer bad.Close()

	client := NewClient(streamlink.NewInstanceList(bad.URL, good.URL), time.Second, zap.NewNop())
	defer client.Close()

	songs, err := client.Search(context.Background(), " daft punk ", 0)
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if len(songs) != 2 {
		t.Fatalf("Search() = %d songs, want 2", len(songs))
	}
	mu.Lock()
	if gotQuery != "daft punk" || gotFilter != musicFilter {
		t.Errorf("query = %q filter = %q", gotQuery, gotFilter)
	}
	mu.Unlock()

	limited, err := client.Search(context.Background(), "daft punk", 1)
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("Search() with limit 1 = %d songs", len(limited))
	}
}

func TestClient_SearchErrors(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))
	defer bad.Close()

	tests := []struct {
		name      string
		instances streamlink.InstanceList
		query     string
		wantErr   error
	}{
		{name: "Empty query", instances: streamlink.NewInstanceList(bad.URL), query: "  ", wantErr: ErrNoQuery},
		{name: "No instances", instances: nil, query: "x", wantErr: ErrNoInstances},
		{name: "All instances fail", instances: streamlink.NewInstanceList(bad.URL), query: "x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := NewClient(tt.instances, time.Second, nil)
			defer client.Close()

			_, err := client.Search(context.Background(), tt.query, 10)
			if err == nil {
				t.Fatal("Search() should fail")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Search() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestArtistFromUploader(t *testing.T) {
	tests := []struct {
		uploader string
		want     string
	}{
		{"Daft Punk - Topic", "Daft Punk"},
		{"RickAstleyVEVO", "Rick Astley"},
		{"VEVO", "VEVO"},
		{"  Some Channel ", "Some Channel"},
		{"", UnknownArtist},
	}

	for _, tt := range tests {
		if got := artistFromUploader(tt.uploader); got != tt.want {
			t.Errorf("artistFromUploader(%q) = %q, want %q", tt.uploader, got, tt.want)
		}
	}
}

func TestToSongs_FoldsDuplicateUploads(t *testing.T) {
	items := []searchItem{
		{URL: "/watch?v=orig01", Type: "stream", Title: "Around the World", UploaderName: "Daft Punk - Topic"},
		{URL: "/watch?v=video1", Type: "stream", Title: "Around the World (Official Music Video)", UploaderName: "Daft Punk"},
		{URL: "/watch?v=remix1", Type: "stream", Title: "Around the World (Remix)", UploaderName: "Daft Punk"},
	}

	songs := toSongs(items)
	if len(songs) != 2 {
		t.Fatalf("toSongs() = %+v, want the original and the remix", songs)
	}
	if songs[0].ID != "orig01" {
		t.Errorf("songs[0].ID = %q, want the first upload", songs[0].ID)
	}
	if songs[1].ID != "remix1" || songs[1].Name != "Around the World (Remix)" {
		t.Errorf("songs[1] = %+v", songs[1])
	}
}
