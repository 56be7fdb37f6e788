package utils

import (
	"strings"
	"testing"
	"time"
)

func TestNewRequestID(t *testing.T) {
	a, b := NewRequestID(), NewRequestID()
	if !strings.HasPrefix(a, "req_") || len(a) != 36 {
		t.Errorf("unexpected request id %q", a)
	}
	if a == b {
		t.Error("request ids must be unique")
	}
}

func TestMaskSecret(t *testing.T) {
	tests := []struct {
		in      string
		visible int
		want    string
	}{
		{"eyJhbGciOi", 4, "eyJh******"},
		{"abc", 4, "***"},
		{"abc", -1, "***"},
		{"", 2, ""},
	}
	for _, tt := range tests {
		if got := MaskSecret(tt.in, tt.visible); got != tt.want {
			t.Errorf("MaskSecret(%q, %d) = %q, want %q", tt.in, tt.visible, got, tt.want)
		}
	}
}

func TestFormatCallDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "00:00"},
		{-time.Second, "00:00"},
		{59*time.Second + 600*time.Millisecond, "01:00"},
		{3*time.Minute + 7*time.Second, "03:07"},
		{time.Hour + 2*time.Minute + 3*time.Second, "1:02:03"},
	}
	for _, tt := range tests {
		if got := FormatCallDuration(tt.d); got != tt.want {
			t.Errorf("FormatCallDuration(%s) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("v=0\r\no=- 4611731400430051336", 10); got != "v=0\r\no=..." {
		t.Errorf("got %q", got)
	}
	if got := Truncate("short", 10); got != "short" {
		t.Errorf("got %q", got)
	}
	if got := Truncate("abcdef", 2); got != "ab" {
		t.Errorf("got %q", got)
	}
}
