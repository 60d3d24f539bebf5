// Package tiresize extracts tire size tokens of the form ###/##R## from free
// text written by customers.
package tiresize

import (
	"fmt"
	"regexp"
	"strconv"
)

// rimEnd rejects a decimal rim such as 22.5; a trailing full stop is fine.
const rimEnd = `(?:[^\d.]|\.(?:\D|$)|$)`

var (
	canonicalPattern = regexp.MustCompile(`(?i)(?:^|\D)(\d{3})\s*/\s*(\d{2})\s*z?r\s*(\d{2})`+rimEnd)
	loosePattern     = regexp.MustCompile(`(?i)(?:^|\D)(\d{3})[\s/\-]+(\d{2})(?:[\s/\-]*(?:rin|rim|aro|zr|r)[\s/\-]*|[\s/\-]+)(\d{2})`+rimEnd)
	tokenPattern     = regexp.MustCompile(`^\d{3}/\d{2}R\d{2}$`)
)

// Parse returns the normalized size token found in raw. The canonical form is
// accepted anywhere in the text. Loosely written sizes ("205 60 16",
// "250 -40 rin 18") are accepted only when exactly one candidate with
// plausible width, aspect ratio and rim values exists.
func Parse(raw string) (string, bool) {
	if m := canonicalPattern.FindStringSubmatch(raw); m != nil {
		return format(m[1], m[2], m[3]), true
	}

	var found []string
	for _, m := range loosePattern.FindAllStringSubmatch(raw, -1) {
		if !plausible(m[1], m[2], m[3]) {
			continue
		}
		token := format(m[1], m[2], m[3])
		if len(found) == 0 || found[0] != token {
			found = append(found, token)
		}
	}
	if len(found) != 1 {
		return "", false
	}
	return found[0], true
}

// Valid reports whether s already has the normalized ###/##R## shape.
func Valid(s string) bool {
	return tokenPattern.MatchString(s)
}

func format(width, aspect, rim string) string {
	return fmt.Sprintf("%s/%sR%s", width, aspect, rim)
}

func plausible(width, aspect, rim string) bool {
	w, _ := strconv.Atoi(width)
	a, _ := strconv.Atoi(aspect)
	r, _ := strconv.Atoi(rim)
	return w >= 125 && w <= 355 &&
		a >= 25 && a <= 85 &&
		r >= 12 && r <= 24
}
