package rpc

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	ErrInvalidDuration = errors.New("invalid duration format, use 'Nd', 'Nh', 'Nm' or 'Ns'")

	durationRegex = regexp.MustCompile(`^(\d+)([dhms])$`)
)

// ParseDuration converts strings like "3d", "24h", "30m", "10s" into a
// time.Duration.
func ParseDuration(s string) (time.Duration, error) {
	m := durationRegex.FindStringSubmatch(strings.ToLower(strings.TrimSpace(s)))
	if m == nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, s)
	}

	value, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, s)
	}

	switch m[2] {
	case "d":
		return time.Duration(value) * 24 * time.Hour, nil
	case "h":
		return time.Duration(value) * time.Hour, nil
	case "m":
		return time.Duration(value) * time.Minute, nil
	default:
		return time.Duration(value) * time.Second, nil
	}
}
