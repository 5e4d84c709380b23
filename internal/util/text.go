package util

import (
	"regexp"
	"strings"
)

var (
	reNonAlnum = regexp.MustCompile(`(?i)[^a-z0-9]`)
	reSpaces   = regexp.MustCompile(`\s+`)
)

// SanitizeFilePart replaces every character outside [A-Za-z0-9] with an underscore.
func SanitizeFilePart(input string) string {
	return reNonAlnum.ReplaceAllString(input, "_")
}

// TrimExt drops the last extension of a file name, if any.
func TrimExt(name string) string {
	idx := strings.LastIndex(name, ".")
	if idx <= 0 {
		return name
	}
	return name[:idx]
}

func NormalizeSpaces(input string) string {
	return strings.TrimSpace(reSpaces.ReplaceAllString(input, " "))
}

// Excerpt returns at most max runes of input, marking truncation with an ellipsis.
func Excerpt(input string, max int) string {
	r := []rune(strings.TrimSpace(input))
	if max <= 0 || len(r) <= max {
		return string(r)
	}
	return string(r[:max]) + "…"
}

func SplitCSV(input string) []string {
	parts := strings.Split(input, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
