package utils

import (
	"path/filepath"
	"strings"
)

// DeriveTitle builds the assessment title shown in history from the
// uploaded file name.
func DeriveTitle(imageName string) string {
	name := strings.TrimSpace(filepath.Base(imageName))
	if name == "" || name == "." {
		name = "untitled"
	}
	return "Assessment for: " + name
}

// SanitizeFileName reduces an uploaded file name to a form safe for object
// storage keys.
func SanitizeFileName(name string) string {
	base := strings.TrimSpace(filepath.Base(name))
	if base == "" || base == "." {
		return "image"
	}
	var b strings.Builder
	for _, r := range base {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
