package util

import (
	"strings"

	"github.com/google/uuid"
)

// NewID returns a random identifier, namespaced as "<prefix>_<hex>" when prefix is set.
func NewID(prefix string) string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	if prefix == "" {
		return raw
	}
	return prefix + "_" + raw
}

// NormalizeEmail lower-cases and trims an email address for lookups.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
