package config

import (
	"fmt"
	"strings"
	"time"
)

// Duration parses a config field holding a Go duration string ("250ms",
// "10s", "24h"). The path names the field in error messages. An empty
// field parses to zero so the caller can pick its own default; negative
// values are rejected because every duration here is a timeout, TTL, or
// window length.
func Duration(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %q is not a duration: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: negative duration %q", path, raw)
	}
	return d, nil
}

// DurationOr parses like Duration and substitutes def when the field is
// absent or zero.
func DurationOr(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := Duration(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}
