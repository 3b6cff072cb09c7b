package util

import (
	"regexp"
)

var (
	uuidRegex = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)
	slugRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,63}$`)
)

func IsValidUUID(s string) bool {
	if s == "" {
		return false
	}
	return uuidRegex.MatchString(s)
}

// IsValidSlug accepts lowercase identifiers such as problem ids.
func IsValidSlug(s string) bool {
	return slugRegex.MatchString(s)
}
