package config

import (
	"fmt"
	"strings"
	"time"
)

// ParseDurationField parses a Go duration string from the config field named
// by path. Empty means "unset" and yields zero; negative durations are
// rejected because every duration field here is a timeout or an interval.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def substituted for
// unset (or zero) values.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}
