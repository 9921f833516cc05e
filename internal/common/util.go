package common

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"
)

const lowerLetters = "abcdefghijklmnopqrstuvwxyz"

// RandLowerString returns n random lowercase ASCII letters drawn from
// crypto/rand.
func RandLowerString(n int) (string, error) {
	var b strings.Builder
	b.Grow(n)
	max := big.NewInt(int64(len(lowerLetters)))
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(lowerLetters[idx.Int64()])
	}
	return b.String(), nil
}

// FormatDuration renders a duration as a compact human-readable string,
// e.g. "3d 2h 5m 1s". Used in activity log details and admin-facing messages.
func FormatDuration(d time.Duration) string {
	secs := int64(d.Seconds())
	if secs < 0 {
		secs = 0
	}
	days := secs / 86400
	hours := (secs % 86400) / 3600
	minutes := (secs % 3600) / 60
	s := secs % 60

	parts := make([]string, 0, 4)
	if days > 0 {
		parts = append(parts, fmt.Sprintf("%dd", days))
	}
	if hours > 0 {
		parts = append(parts, fmt.Sprintf("%dh", hours))
	}
	if minutes > 0 {
		parts = append(parts, fmt.Sprintf("%dm", minutes))
	}
	if s > 0 || len(parts) == 0 {
		parts = append(parts, fmt.Sprintf("%ds", s))
	}
	return strings.Join(parts, " ")
}
