package schema

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var lower = cases.Lower(language.Und)

// MakeName harmonizes a table name: first rune uppercased, remainder
// lowercased. One-rune names are uppercased entirely. Every entry point
// that accepts a table name applies this, so "camera", "Camera" and
// "CAMERA" address the same table.
func MakeName(name string) string {
	if name == "" {
		return name
	}
	runes := []rune(name)
	if len(runes) == 1 {
		return strings.ToUpper(name)
	}
	return string(unicode.ToUpper(runes[0])) + lower.String(string(runes[1:]))
}

// TrimExtension drops a trailing file extension from a database name, so
// "record.db" and "record" address the same file.
func TrimExtension(name string) string {
	if i := strings.IndexByte(name, '.'); i >= 0 {
		return name[:i]
	}
	return name
}
