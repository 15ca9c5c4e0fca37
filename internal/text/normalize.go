// Package text turns free-form titles, file names and URLs into the
// CamelCase file names used in storage.
package text

import (
	"net/url"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

var nonWord = regexp.MustCompile(`[^\p{L}\p{N}]+`)

// Normalize turns arbitrary text into a CamelCase token sequence:
// `ok_computer---camel//case` -> `OkComputerCamelCase`.
//
// Anything that is not a letter or digit separates tokens. A token that
// already starts with an upper-case letter and contains lower-case letters is
// kept as is, so Normalize is stable on its own output as long as that output
// has a lower-case letter. Output without one is re-cased by a second pass:
// "x1 2y" -> "X12Y" -> "X12y".
func Normalize(s string) string {
	s = nonWord.ReplaceAllString(norm.NFC.String(s), " ")
	var b strings.Builder
	for _, tok := range strings.Fields(s) {
		b.WriteString(capitalize(tok))
	}
	return b.String()
}

// NormalizeFilename normalizes the stem of a file name and keeps its
// extension verbatim. Percent escapes and '+' in the stem are decoded first.
func NormalizeFilename(name string) string {
	stem, ext := splitExt(name)
	if decoded, err := url.QueryUnescape(stem); err == nil {
		stem = decoded
	}
	return Normalize(stem) + ext
}

func capitalize(tok string) string {
	runes := []rune(tok)
	first := -1
	hasLower := false
	for i, r := range runes {
		if !unicode.IsLetter(r) {
			continue
		}
		if first < 0 {
			first = i
		} else if unicode.IsLower(r) {
			hasLower = true
		}
	}
	if first < 0 {
		return tok
	}
	if unicode.IsUpper(runes[first]) && hasLower {
		return tok
	}
	for i, r := range runes {
		if i == first {
			runes[i] = unicode.ToUpper(r)
		} else {
			runes[i] = unicode.ToLower(r)
		}
	}
	return string(runes)
}

// splitExt splits at the last '.' of the final path element. Leading dots
// do not start an extension (".bashrc" has none).
func splitExt(name string) (string, string) {
	base := name
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		base = name[i+1:]
	}
	trimmed := strings.TrimLeft(base, ".")
	i := strings.LastIndex(trimmed, ".")
	if i < 0 {
		return name, ""
	}
	cut := len(name) - len(trimmed) + i
	return name[:cut], name[cut:]
}
