package device

import (
	"fmt"
	"strings"
)

const (
	sigBasePrefix = "0000"
	sigBaseSuffix = "00001000800000805f9b34fb"
)

// NormalizeUUID converts a UUID string to the internal comparison form: lowercase, no dashes,
// no 0x prefix. Full 128-bit UUIDs built on the Bluetooth SIG base
// (0000xxxx-0000-1000-8000-00805f9b34fb) collapse to their 16-bit form (xxxx).
func NormalizeUUID(uuid string) string {
	s := strings.ToLower(strings.TrimSpace(uuid))
	s = strings.TrimPrefix(s, "0x")
	s = strings.ReplaceAll(s, "-", "")

	if len(s) == 32 && strings.HasPrefix(s, sigBasePrefix) && strings.HasSuffix(s, sigBaseSuffix) {
		return s[4:8]
	}
	return s
}

// NormalizeUUIDs normalizes a slice of UUID strings
func NormalizeUUIDs(uuids []string) []string {
	result := make([]string, len(uuids))
	for i, u := range uuids {
		result[i] = NormalizeUUID(u)
	}
	return result
}

// EqualUUID compares two UUIDs in any accepted notation
func EqualUUID(a, b string) bool {
	return NormalizeUUID(a) == NormalizeUUID(b)
}

// ValidateUUID checks that each UUID is a 16, 32 or 128-bit hex value.
// Returns the normalized forms.
func ValidateUUID(uuids ...string) ([]string, error) {
	if len(uuids) == 0 {
		return nil, fmt.Errorf("at least one UUID is required")
	}

	result := make([]string, 0, len(uuids))
	for i, uuid := range uuids {
		if strings.TrimSpace(uuid) == "" {
			return nil, fmt.Errorf("UUID at index %d cannot be empty", i)
		}
		normalized := NormalizeUUID(uuid)
		switch len(normalized) {
		case 4, 8, 32:
		default:
			return nil, fmt.Errorf("invalid UUID format at index %d: %s", i, uuid)
		}
		for _, r := range normalized {
			if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
				return nil, fmt.Errorf("invalid UUID format at index %d: %s", i, uuid)
			}
		}
		result = append(result, normalized)
	}
	return result, nil
}
