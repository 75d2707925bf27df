// Package fuzzy normalizes song titles and artist names so that uploads of the same
// recording compare equal.
package fuzzy

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

var (
	featRegex       = regexp.MustCompile(`(?i)\s*[\(\[]?\s*(?:feat\.?|ft\.?|featuring)\s+[^\)\]]*[\)\]]?\s*`)
	videoNoiseRegex = regexp.MustCompile(`(?i)\s*[\(\[]\s*(?:official\s+(?:music\s+)?(?:video|audio|visualizer)|lyrics?(?:\s+video)?|audio|hd|4k|hq)\s*[\)\]]`)
	punctRegex      = regexp.MustCompile(`[^\p{L}\p{N}\s&]+`)
	whitespaceRegex = regexp.MustCompile(`\s+`)
)

type Normalizer struct{}

func NewNormalizer() *Normalizer {
	return &Normalizer{}
}

// StripVideoNoise removes bracketed upload decorations such as "(Official Video)" while
// keeping the title readable.
func (n *Normalizer) StripVideoNoise(title string) string {
	title = videoNoiseRegex.ReplaceAllString(title, "")
	return strings.TrimSpace(whitespaceRegex.ReplaceAllString(title, " "))
}

func (n *Normalizer) NormalizeArtist(artist string) string {
	artist = n.basicNormalize(artist)

	artist = strings.ReplaceAll(artist, " and ", " & ")
	artist = strings.TrimPrefix(artist, "the ")

	return artist
}

// NormalizeTitle drops featured artists and upload decorations. Remix and version tags
// are kept since they name a different recording.
func (n *Normalizer) NormalizeTitle(title string) string {
	title = n.StripVideoNoise(title)
	title = featRegex.ReplaceAllString(title, " ")
	return n.basicNormalize(title)
}

// SongKey is the comparison key of a song.
func (n *Normalizer) SongKey(title, artist string) string {
	return n.NormalizeArtist(artist) + "\x00" + n.NormalizeTitle(title)
}

func (n *Normalizer) basicNormalize(text string) string {
	text = norm.NFKD.String(text)

	var result strings.Builder
	for _, r := range text {
		if !unicode.IsMark(r) {
			result.WriteRune(r)
		}
	}
	text = result.String()

	text = punctRegex.ReplaceAllString(text, " ")
	text = whitespaceRegex.ReplaceAllString(text, " ")

	text = strings.ToLower(text)
	text = strings.TrimSpace(text)

	return text
}
