// Package toolmarker detects and removes textual tool-call markers of the form
// [toolName({"arg":"value"})] that a model emits when it is instructed to call
// tools through plain text.
package toolmarker

import (
	"regexp"
	"strings"
)

var markerPattern = regexp.MustCompile(`(?s)\[([A-Za-z_][A-Za-z0-9_]*)\((.*?)\)\]`)

// Marker is one detected call.
type Marker struct {
	Name      string
	Arguments string
}

// Find returns the first marker in text.
func Find(text string) (Marker, bool) {
	m := markerPattern.FindStringSubmatch(text)
	if m == nil {
		return Marker{}, false
	}
	return Marker{Name: m[1], Arguments: strings.TrimSpace(m[2])}, true
}

// Strip removes every marker from text and trims the result.
func Strip(text string) string {
	return strings.TrimSpace(markerPattern.ReplaceAllString(text, ""))
}

// Format renders a marker the way models are instructed to emit it.
func Format(name, arguments string) string {
	return "[" + name + "(" + arguments + ")]"
}

// NormalizeQuotes turns single-quoted JSON-ish arguments into double-quoted
// ones, which models produce often enough to be worth accepting.
func NormalizeQuotes(arguments string) string {
	return strings.ReplaceAll(arguments, "'", `"`)
}
