package http

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Input validation constants
const (
	MaxInstanceNameLength = 128
	MaxMessageLength      = 4096
	MaxBlobNameLength     = 128
)

var (
	instanceNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)
	blobNamePattern     = regexp.MustCompile(`^[a-zA-Z0-9-]+(\.[a-z0-9]+)?$`)
)

// ValidInstanceName checks a gateway instance name (alphanumeric, underscore, dot, hyphen)
func ValidInstanceName(s string) bool {
	if s == "" || len(s) > MaxInstanceNameLength {
		return false
	}
	return instanceNamePattern.MatchString(s)
}

// ValidBlobName accepts the <uuid>.<ext> names produced by the media resolver
func ValidBlobName(s string) bool {
	if s == "" || len(s) > MaxBlobNameLength {
		return false
	}
	return blobNamePattern.MatchString(s)
}

// SanitizeString removes null bytes and invalid UTF-8
func SanitizeString(s string) string {
	s = strings.ReplaceAll(s, "\x00", "")
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "")
	}
	return s
}

// parseID reads a positive numeric path parameter
func parseID(raw string) (int64, bool) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
