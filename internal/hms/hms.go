// Package hms converts between HH:MM:SS duration strings and whole seconds.
package hms

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrFormat is returned when a duration string is not three colon-delimited
// non-negative integers.
var ErrFormat = errors.New("hms: malformed duration")

// FromSeconds formats seconds as HH:MM:SS. Hours are not wrapped at 24 and
// grow past two digits when needed. Negative input is treated as zero.
func FromSeconds(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d:%02d", seconds/3600, seconds%3600/60, seconds%60)
}

// ToSeconds parses an HH:MM:SS string.
func ToSeconds(s string) (int64, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("%w: %q", ErrFormat, s)
	}

	var fields [3]int64
	for i, part := range parts {
		if part == "" || strings.TrimLeft(part, "0123456789") != "" {
			return 0, fmt.Errorf("%w: %q", ErrFormat, s)
		}
		n, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q: %v", ErrFormat, s, err)
		}
		fields[i] = n
	}

	if fields[0] > math.MaxInt64/3600 || fields[1] > math.MaxInt64/60 {
		return 0, fmt.Errorf("%w: %q: out of range", ErrFormat, s)
	}
	total := fields[0] * 3600
	for _, n := range [2]int64{fields[1] * 60, fields[2]} {
		if total > math.MaxInt64-n {
			return 0, fmt.Errorf("%w: %q: out of range", ErrFormat, s)
		}
		total += n
	}
	return total, nil
}
