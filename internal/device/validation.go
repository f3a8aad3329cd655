package device

import (
	"fmt"
	"net"
	"regexp"
	"strings"
)

const (
	maxNameLength     = 100
	maxHostnameLength = 253
)

var hostnameLabel = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?$`)

// ValidateName checks that a display name is present and at most 100 characters.
func ValidateName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: %w: name cannot be empty", ErrInvalidDevice, ErrInvalidName)
	}
	if len([]rune(name)) > maxNameLength {
		return fmt.Errorf("%w: %w: name exceeds %d characters", ErrInvalidDevice, ErrInvalidName, maxNameLength)
	}
	return nil
}

// ValidateAddress accepts a dotted IPv4 address or an RFC 1123 hostname.
// Ports are not allowed; the transport adds its own.
func ValidateAddress(address string) error {
	if address == "" {
		return fmt.Errorf("%w: %w: address cannot be empty", ErrInvalidDevice, ErrInvalidAddress)
	}
	if ip := net.ParseIP(address); ip != nil {
		if ip.To4() == nil {
			return fmt.Errorf("%w: %w: %q is not IPv4", ErrInvalidDevice, ErrInvalidAddress, address)
		}
		return nil
	}
	if len(address) > maxHostnameLength {
		return fmt.Errorf("%w: %w: hostname too long", ErrInvalidDevice, ErrInvalidAddress)
	}

	labels := strings.Split(address, ".")
	allNumeric := true
	for _, label := range labels {
		if !hostnameLabel.MatchString(label) {
			return fmt.Errorf("%w: %w: %q", ErrInvalidDevice, ErrInvalidAddress, address)
		}
		if strings.Trim(label, "0123456789") != "" {
			allNumeric = false
		}
	}
	// "192.168.1" or "999.1.1.1" look like IPs but aren't.
	if allNumeric {
		return fmt.Errorf("%w: %w: %q", ErrInvalidDevice, ErrInvalidAddress, address)
	}
	return nil
}

// NormalizeAddress trims surrounding whitespace and lowercases hostnames.
func NormalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}
