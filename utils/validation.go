package utils

import (
	"path/filepath"
	"regexp"
	"strings"
)

var unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9._\s-]`)

// SanitizeFilename cleans a browser-supplied file name for display. Directory
// parts are dropped, characters other than letters, digits and safe
// punctuation are removed and the result is capped at 255 bytes.
func SanitizeFilename(filename string) string {
	sanitized := filepath.Base(strings.ReplaceAll(filename, `\`, "/"))
	sanitized = strings.ReplaceAll(sanitized, "..", "")
	sanitized = unsafeFilenameChars.ReplaceAllString(sanitized, "")
	sanitized = strings.Trim(sanitized, " .")
	if len(sanitized) > 255 {
		sanitized = sanitized[:255]
	}
	return sanitized
}
