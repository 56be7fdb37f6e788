package utils

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewRequestID returns an id for correlating a request across logs and spans.
func NewRequestID() string {
	return "req_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// MaskSecret keeps the first visible characters of a token or key for logs.
func MaskSecret(s string, visible int) string {
	if visible < 0 {
		visible = 0
	}
	if len(s) <= visible {
		return strings.Repeat("*", len(s))
	}
	return s[:visible] + strings.Repeat("*", len(s)-visible)
}

// FormatCallDuration renders a call length the way call logs show it.
func FormatCallDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Round(time.Second)
	h := d / time.Hour
	m := (d % time.Hour) / time.Minute
	s := (d % time.Minute) / time.Second
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

// Truncate shortens s to max bytes, marking the cut with "...".
func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}
