package util

import (
	"strings"

	"github.com/google/uuid"
)

// NewID returns a random identifier, optionally tagged with a resource
// prefix ("doc", "apr", ...). IDs are URL-safe and case-insensitive.
func NewID(prefix string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}
