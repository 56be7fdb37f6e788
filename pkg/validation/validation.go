package validation

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var (
	// E164Regex matches phone-number recipients.
	E164Regex = regexp.MustCompile(`^\+[1-9][0-9]{6,14}$`)

	// HandleRegex matches relay account names.
	HandleRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]{0,63}$`)
)

const (
	MaxDeviceID    = 1 << 16
	IdentityKeyLen = 32
)

// ValidateRecipientID accepts an E.164 number, a UUID or a relay handle.
func ValidateRecipientID(recipient string) error {
	if strings.TrimSpace(recipient) == "" {
		return fmt.Errorf("recipient is required")
	}
	if strings.HasPrefix(recipient, "+") {
		if !E164Regex.MatchString(recipient) {
			return fmt.Errorf("invalid phone number %q", recipient)
		}
		return nil
	}
	if _, err := uuid.Parse(recipient); err == nil {
		return nil
	}
	if !HandleRegex.MatchString(recipient) {
		return fmt.Errorf("invalid recipient %q", recipient)
	}
	return nil
}

// ValidateDeviceID rejects zero, which addresses every device, and ids past
// what the messaging service hands out.
func ValidateDeviceID(device uint32) error {
	if device == 0 {
		return fmt.Errorf("device id must be > 0")
	}
	if device > MaxDeviceID {
		return fmt.Errorf("device id %d is too large", device)
	}
	return nil
}

func ValidateIdentityKey(key []byte) error {
	if len(key) != IdentityKeyLen {
		return fmt.Errorf("identity key must be %d bytes, got %d", IdentityKeyLen, len(key))
	}
	return nil
}

// ValidateURL checks that urlStr is absolute and uses one of schemes.
func ValidateURL(urlStr string, schemes ...string) error {
	if urlStr == "" {
		return fmt.Errorf("URL is required")
	}
	u, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	if len(schemes) == 0 {
		return nil
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("invalid URL scheme %q (must be one of %s)", u.Scheme, strings.Join(schemes, ", "))
}

// ValidateIceURL checks a STUN or TURN server URL.
func ValidateIceURL(s string) error {
	for _, prefix := range []string{"stun:", "stuns:", "turn:", "turns:"} {
		if strings.HasPrefix(s, prefix) && len(s) > len(prefix) {
			return nil
		}
	}
	return fmt.Errorf("invalid ICE server URL %q", s)
}

func ValidateNonEmptyString(s, fieldName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%s is required", fieldName)
	}
	return nil
}
