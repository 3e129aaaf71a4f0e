package main

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// tokenize decodes a raw line as UTF-8, dropping invalid bytes, and splits it
// on whitespace. The ASCII information separators (0x1c-0x1f) also split.
func tokenize(line []byte) []string {
	text := string(line)
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, "")
	}
	return strings.FieldsFunc(text, isSeparator)
}

func isSeparator(r rune) bool {
	return unicode.IsSpace(r) || (r >= 0x1c && r <= 0x1f)
}

// hasHTTPPrefix reports whether the first four characters of word spell
// "http" in any case.
func hasHTTPPrefix(word string) bool {
	n := 0
	for i := range word {
		if n == 4 {
			return strings.ToLower(word[:i]) == "http"
		}
		n++
	}
	return n == 4 && strings.ToLower(word) == "http"
}

// isRequestLine matches an HTTP/1.x request line: METHOD URI HTTP/x.
func isRequestLine(words []string) bool {
	return len(words) == 3 && len(words[2]) > 5 && strings.EqualFold(words[2][:5], "http/")
}

func strptr(s string) *string { return &s }
