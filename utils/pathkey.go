package utils

import (
	"regexp"
	"strings"
)

var unsafeKeyChars = regexp.MustCompile(`[^\w\-.]`)

// SanitizeKey converts a path or branch name into a safe, flat file name.
// "/home/user/loom" becomes "home--user--loom".
func SanitizeKey(value string) string {
	sanitized := strings.ReplaceAll(value, "/", "--")
	sanitized = strings.ReplaceAll(sanitized, "\\", "--")

	sanitized = strings.ReplaceAll(sanitized, ":", "--")
	sanitized = strings.ReplaceAll(sanitized, "*", "-star-")
	sanitized = strings.ReplaceAll(sanitized, "?", "-q-")
	sanitized = strings.ReplaceAll(sanitized, "\"", "-quote-")
	sanitized = strings.ReplaceAll(sanitized, "<", "-lt-")
	sanitized = strings.ReplaceAll(sanitized, ">", "-gt-")
	sanitized = strings.ReplaceAll(sanitized, "|", "-pipe-")

	sanitized = unsafeKeyChars.ReplaceAllString(sanitized, "-")

	// No hidden files
	sanitized = strings.Trim(sanitized, ".-")

	if sanitized == "" {
		sanitized = "default"
	}

	return sanitized
}
