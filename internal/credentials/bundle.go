// Package credentials loads the optional session cookie bundle handed to providers.
package credentials

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"zenify/pkg/streamlink"
)

const (
	// NetscapeHeader is the first line expected by cookie file consumers.
	NetscapeHeader = "# Netscape HTTP Cookie File"
	// NormalizedFileName is the name of the normalized copy written next to the cache.
	NormalizedFileName = "cookies.txt"

	httpOnlyPrefix     = "#HttpOnly_"
	netscapeFields     = 7
	maxBundleSize      = 1 << 20
	normalizedPerms    = 0o600
	normalizedDirPerms = 0o700
)

// ErrEmptyBundle is returned when the cookie file holds no usable cookies.
var ErrEmptyBundle = errors.New("cookie bundle contains no cookies")

// Bundle is a normalized cookie file plus the cookies parsed from it. It is immutable
// after Load and safe for concurrent use.
type Bundle struct {
	path    string
	cookies []seedCookie
}

// seedCookie is one parsed cookie and the URL it is set for.
type seedCookie struct {
	cookie *http.Cookie
	target *url.URL
}

// Load reads the cookie file at source, writes its normalized form into dir and parses
// its cookies.
func Load(source, dir string) (*Bundle, error) {
	f, err := os.Open(source) //nolint:gosec // operator supplied path
	if err != nil {
		return nil, fmt.Errorf("open cookie bundle: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	raw, err := io.ReadAll(io.LimitReader(f, maxBundleSize))
	if err != nil {
		return nil, fmt.Errorf("read cookie bundle: %w", err)
	}

	normalized, err := Normalize(raw)
	if err != nil {
		return nil, err
	}

	cookies, err := parseCookies(normalized)
	if err != nil {
		return nil, err
	}
	if len(cookies) == 0 {
		return nil, ErrEmptyBundle
	}

	if err := os.MkdirAll(dir, normalizedDirPerms); err != nil {
		return nil, fmt.Errorf("create credentials directory: %w", err)
	}
	path := filepath.Join(dir, NormalizedFileName)
	if err := os.WriteFile(path, normalized, normalizedPerms); err != nil {
		return nil, fmt.Errorf("write normalized cookie bundle: %w", err)
	}

	return &Bundle{path: path, cookies: cookies}, nil
}

// Normalize strips a byte order mark (decoding UTF-16 input), canonicalizes line
// endings to LF and makes sure the Netscape header is present.
func Normalize(raw []byte) ([]byte, error) {
	decoder := unicode.BOMOverride(unicode.UTF8.NewDecoder())
	decoded, _, err := transform.Bytes(decoder, raw)
	if err != nil {
		return nil, fmt.Errorf("decode cookie bundle: %w", err)
	}

	text := strings.ReplaceAll(string(decoded), "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.TrimLeft(text, "\n")

	if !strings.HasPrefix(text, NetscapeHeader) && !strings.HasPrefix(text, "# HTTP Cookie File") {
		text = NetscapeHeader + "\n" + text
	}
	if !strings.HasSuffix(text, "\n") {
		text += "\n"
	}

	return []byte(text), nil
}

// CookieFile returns the path of the normalized cookie file.
func (b *Bundle) CookieFile() string {
	return b.path
}

// CookieJar returns a new jar seeded with the bundle's cookies. Cookies set by
// responses stay in the returned jar and never reach the bundle.
func (b *Bundle) CookieJar() http.CookieJar {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil
	}
	for _, seed := range b.cookies {
		jar.SetCookies(seed.target, []*http.Cookie{seed.cookie})
	}
	return jar
}

// Len returns the number of cookies in the bundle.
func (b *Bundle) Len() int {
	return len(b.cookies)
}

func parseCookies(normalized []byte) ([]seedCookie, error) {
	var cookies []seedCookie
	scanner := bufio.NewScanner(bytes.NewReader(normalized))
	for scanner.Scan() {
		cookie, target, ok := parseLine(scanner.Text())
		if !ok {
			continue
		}
		cookies = append(cookies, seedCookie{cookie: cookie, target: target})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan cookie bundle: %w", err)
	}
	return cookies, nil
}

// parseLine parses one Netscape cookie line:
// domain, include-subdomains, path, secure, expiry, name, value.
func parseLine(line string) (*http.Cookie, *url.URL, bool) {
	httpOnly := false
	if strings.HasPrefix(line, httpOnlyPrefix) {
		line = strings.TrimPrefix(line, httpOnlyPrefix)
		httpOnly = true
	}
	if line == "" || strings.HasPrefix(line, "#") {
		return nil, nil, false
	}

	fields := strings.Split(line, "\t")
	if len(fields) != netscapeFields {
		return nil, nil, false
	}

	domain := strings.TrimSpace(fields[0])
	host := strings.TrimPrefix(domain, ".")
	if host == "" {
		return nil, nil, false
	}
	secure := strings.EqualFold(fields[3], "TRUE")

	cookie := &http.Cookie{
		Name:     fields[5],
		Value:    fields[6],
		Path:     fields[2],
		Secure:   secure,
		HttpOnly: httpOnly,
	}
	if strings.EqualFold(fields[1], "TRUE") {
		cookie.Domain = host
	}
	if expiry, err := strconv.ParseInt(fields[4], 10, 64); err == nil && expiry > 0 {
		cookie.Expires = time.Unix(expiry, 0)
	}

	scheme := "http"
	if secure {
		scheme = "https"
	}
	target := &url.URL{Scheme: scheme, Host: host, Path: "/"}

	return cookie, target, true
}

var _ streamlink.CredentialBundle = (*Bundle)(nil)
