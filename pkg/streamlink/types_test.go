package streamlink

import (
	"errors"
	"strings"
	"testing"
)

func TestParseMediaID(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    MediaID
		wantErr error
	}{
		{name: "Plain video id", raw: "dQw4w9WgXcQ", want: "dQw4w9WgXcQ"},
		{name: "Dash and underscore", raw: "a-b_c", want: "a-b_c"},
		{name: "Surrounding spaces are trimmed", raw: "  abc  ", want: "abc"},
		{name: "Empty", raw: "", wantErr: ErrNoID},
		{name: "Whitespace only", raw: "   ", wantErr: ErrNoID},
		{name: "Path traversal", raw: "../etc/passwd", wantErr: ErrInvalidID},
		{name: "Leading dashes", raw: "--abc", want: "--abc"},
		{name: "Dot", raw: "abc.mp3", wantErr: ErrInvalidID},
		{name: "Too long", raw: strings.Repeat("a", 65), wantErr: ErrInvalidID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseMediaID(tt.raw)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ParseMediaID(%q) error = %v, want %v", tt.raw, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseMediaID(%q) unexpected error: %v", tt.raw, err)
			}
			if got != tt.want {
				t.Errorf("ParseMediaID(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestResult_ExactlyOneSide(t *testing.T) {
	ok := Resolved("https://example.com/a.mp3")
	if !ok.OK() || ok.Failure() != nil || ok.URL() == "" {
		t.Errorf("Resolved result is inconsistent: %+v", ok)
	}

	failed := Failed(KindTimeout, "slow")
	if failed.OK() || failed.URL() != "" || failed.Failure() == nil {
		t.Errorf("Failed result is inconsistent: %+v", failed)
	}
	if failed.Failure().Kind != KindTimeout {
		t.Errorf("Kind = %q, want %q", failed.Failure().Kind, KindTimeout)
	}
}

func TestResult_FromKeepsNestedSource(t *testing.T) {
	res := failureResult(&Failure{Kind: KindNetwork, Source: "https://a.example"}).from("cobalt")
	if res.Failure().Source != "https://a.example" {
		t.Errorf("Source = %q, want the nested source", res.Failure().Source)
	}

	res = Failed(KindNetwork, "refused").from("cobalt")
	if res.Failure().Source != "cobalt" {
		t.Errorf("Source = %q, want cobalt", res.Failure().Source)
	}
}

func TestFailure_Leaves(t *testing.T) {
	f := &Failure{
		Kind: KindAllStrategiesExhausted,
		Attempts: []*Failure{
			{Kind: KindAllInstancesExhausted, Attempts: []*Failure{{Kind: KindNetwork}, {Kind: KindTimeout}}},
			{Kind: KindSemanticMiss},
		},
	}
	if got := f.Leaves(); got != 3 {
		t.Errorf("Leaves() = %d, want 3", got)
	}
}

func TestNewRequest_Defaults(t *testing.T) {
	req := NewRequest("abc", WithHeader("X-Client", "zenify"), WithAudioFormat(""))

	if req.AudioFormat != DefaultAudioFormat {
		t.Errorf("AudioFormat = %q, want %q", req.AudioFormat, DefaultAudioFormat)
	}
	if req.PreferredEncoding != DefaultPreferredEncoding {
		t.Errorf("PreferredEncoding = %q, want %q", req.PreferredEncoding, DefaultPreferredEncoding)
	}

	headers := req.Headers()
	headers.Set("X-Client", "mutated")
	if req.Headers().Get("X-Client") != "zenify" {
		t.Error("Headers() should return a copy")
	}
}
