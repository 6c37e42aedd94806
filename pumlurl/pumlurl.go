// Package pumlurl builds PlantUML server URLs from encoded diagram payloads.
package pumlurl

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

const DefaultURL = "https://www.plantuml.com/plantuml"

// MaxURLBytes is the soft limit on the length of a built URL. Browsers and
// servers start rejecting URLs past this size.
const MaxURLBytes = 80 * 1024

type Format string

const (
	FormatPNG Format = "png"
	FormatSVG Format = "svg"
)

func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatPNG:
		return FormatPNG, nil
	case FormatSVG:
		return FormatSVG, nil
	}
	return "", fmt.Errorf("unknown format %q: expected %q or %q", s, FormatPNG, FormatSVG)
}

// Config selects the server and the image variant requested from it.
// Zero fields fall back to DefaultURL, FormatPNG and light mode.
type Config struct {
	URL      string
	Format   Format
	DarkMode bool
}

func (c Config) WithDefaults() Config {
	if c.URL == "" {
		c.URL = DefaultURL
	}
	if c.Format == "" {
		c.Format = FormatPNG
	}
	return c
}

// FormatToken is the path segment selecting the image variant, e.g. "png" or "dsvg".
func (c Config) FormatToken() string {
	c = c.WithDefaults()
	if c.DarkMode {
		return "d" + string(c.Format)
	}
	return string(c.Format)
}

// URLError reports a base address or payload that does not form a valid URL.
type URLError struct {
	Base string
	Err  error
}

func (e *URLError) Error() string {
	return fmt.Sprintf("invalid PlantUML server URL %q: %v", e.Base, e.Err)
}

func (e *URLError) Unwrap() error {
	return e.Err
}

// Build returns <URL>/<format token>/<payload> resolved against the base URL.
func Build(c Config, payload string) (*url.URL, error) {
	c = c.WithDefaults()
	if _, err := ParseFormat(string(c.Format)); err != nil {
		return nil, &URLError{Base: c.URL, Err: err}
	}

	base, err := url.Parse(c.URL)
	if err != nil {
		return nil, &URLError{Base: c.URL, Err: err}
	}
	if !base.IsAbs() || base.Host == "" {
		return nil, &URLError{Base: c.URL, Err: errors.New("base address must be an absolute URL")}
	}

	ref, err := url.Parse(c.URL + "/" + c.FormatToken() + "/" + payload)
	if err != nil {
		return nil, &URLError{Base: c.URL, Err: err}
	}
	return base.ResolveReference(ref), nil
}

// Oversized reports whether u is longer than MaxURLBytes.
func Oversized(u string) bool {
	return len(u) > MaxURLBytes
}
