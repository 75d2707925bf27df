package fuzzy

import (
	"testing"
)

// runStringTransformationTest is a helper to run tests for string transformation functions.
func runStringTransformationTest(t *testing.T, testName string,
	transformFunc func(string) string, testCases []struct {
		name     string
		input    string
		expected string
	}) {
	t.Helper()
	for _, tt := range testCases {
		t.Run(tt.name, func(t *testing.T) {
			result := transformFunc(tt.input)
			if result != tt.expected {
				t.Errorf("%s() = %q, want %q", testName, result, tt.expected)
			}
		})
	}
}

func TestNormalizer_NormalizeArtist(t *testing.T) {
	normalizer := NewNormalizer()

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "Simple artist name",
			input:    "Daft Punk",
			expected: "daft punk",
		},
		{
			name:     "Leading article",
			input:    "The Beatles",
			expected: "beatles",
		},
		{
			name:     "Artist with and",
			input:    "Artist and Someone",
			expected: "artist & someone",
		},
		{
			name:     "Artist with ampersand",
			input:    "Artist & Someone",
			expected: "artist & someone",
		},
		{
			name:     "Artist with punctuation",
			input:    "P!nk",
			expected: "p nk",
		},
		{
			name:     "Artist with accents",
			input:    "Björk",
			expected: "bjork",
		},
	}

	runStringTransformationTest(t, "NormalizeArtist", normalizer.NormalizeArtist, tests)
}

func TestNormalizer_NormalizeTitle(t *testing.T) {
	normalizer := NewNormalizer()

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "Simple title",
			input:    "Hey Jude",
			expected: "hey jude",
		},
		{
			name:     "Title with featuring",
			input:    "Song Title (feat. Artist)",
			expected: "song title",
		},
		{
			name:     "Title with official video",
			input:    "Song Title (Official Video)",
			expected: "song title",
		},
		{
			name:     "Title with lyrics tag",
			input:    "Song Title [Lyrics]",
			expected: "song title",
		},
		{
			name:     "Remix stays distinct",
			input:    "Song Title (Remix)",
			expected: "song title remix",
		},
		{
			name:     "Title with punctuation",
			input:    "Don't Stop Me Now!",
			expected: "don t stop me now",
		},
		{
			name:     "Title with multiple spaces",
			input:    "Song    Title",
			expected: "song title",
		},
	}

	runStringTransformationTest(t, "NormalizeTitle", normalizer.NormalizeTitle, tests)
}

func TestNormalizer_StripVideoNoise(t *testing.T) {
	normalizer := NewNormalizer()

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "Plain title",
			input:    "Around the World",
			expected: "Around the World",
		},
		{
			name:     "Official music video and HD",
			input:    "Around the World (Official Music Video) [HD]",
			expected: "Around the World",
		},
		{
			name:     "Official audio",
			input:    "Around the World [Official Audio]",
			expected: "Around the World",
		},
		{
			name:     "Remix kept",
			input:    "Around the World (Remix)",
			expected: "Around the World (Remix)",
		},
	}

	runStringTransformationTest(t, "StripVideoNoise", normalizer.StripVideoNoise, tests)
}

func TestNormalizer_SongKey(t *testing.T) {
	normalizer := NewNormalizer()

	same := [][2]string{
		{"Song (Official Video)", "The Artist"},
		{"song", "Artist"},
		{"Song [Lyrics]", "ARTIST"},
	}
	want := normalizer.SongKey(same[0][0], same[0][1])
	for _, s := range same[1:] {
		if got := normalizer.SongKey(s[0], s[1]); got != want {
			t.Errorf("SongKey(%q, %q) = %q, want %q", s[0], s[1], got, want)
		}
	}

	if normalizer.SongKey("Song (Remix)", "Artist") == want {
		t.Error("a remix should not share the original's key")
	}
	if normalizer.SongKey("Song", "Other") == want {
		t.Error("another artist should not share the key")
	}
}

func TestNormalizer_basicNormalize(t *testing.T) {
	normalizer := NewNormalizer()

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "Simple text",
			input:    "Hello World",
			expected: "hello world",
		},
		{
			name:     "Text with punctuation",
			input:    "Hello, World!",
			expected: "hello world",
		},
		{
			name:     "Text with accents",
			input:    "Café",
			expected: "cafe",
		},
		{
			name:     "Text with leading/trailing spaces",
			input:    "  Hello World  ",
			expected: "hello world",
		},
		{
			name:     "Mixed punctuation and spaces",
			input:    "Hello,  World!!!",
			expected: "hello world",
		},
	}

	runStringTransformationTest(t, "basicNormalize", normalizer.basicNormalize, tests)
}

func BenchmarkNormalizer_SongKey(b *testing.B) {
	normalizer := NewNormalizer()
	title := "Hey Jude (Official Video) [feat. Orchestra]"

	b.ResetTimer()
	for range b.N {
		normalizer.SongKey(title, "The Beatles")
	}
}
