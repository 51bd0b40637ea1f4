// Package extract finds structured codes in free-form chat text.
//
// The default pattern matches five hyphen-joined groups of 4-5 uppercase
// letters or digits, e.g. "X0X0-X0X0-X0X0-X0X0-X0X0". Matching is
// case-sensitive: lowercase codes are not normalized and do not match.
package extract

import (
	"fmt"
	"regexp"
	"sync"
)

// DefaultPattern is the code format redeemed from stream chats.
const DefaultPattern = `([A-Z0-9]{4,5}-){4}[A-Z0-9]{4,5}`

// Default returns the compiled DefaultPattern.
var Default = sync.OnceValue(func() *regexp.Regexp {
	return regexp.MustCompile(DefaultPattern)
})

// Compile compiles a user supplied pattern. An empty expr yields Default().
func Compile(expr string) (*regexp.Regexp, error) {
	if expr == "" {
		return Default(), nil
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("compile pattern %q: %w", expr, err)
	}
	if re.MatchString("") {
		return nil, fmt.Errorf("pattern %q matches the empty string", expr)
	}
	return re, nil
}

// Extract returns the leftmost substring of text matching re.
func Extract(text string, re *regexp.Regexp) (string, bool) {
	if text == "" || re == nil {
		return "", false
	}
	loc := re.FindStringIndex(text)
	if loc == nil {
		return "", false
	}
	return text[loc[0]:loc[1]], true
}

// ExtractAll returns every non-overlapping match in text, left to right.
func ExtractAll(text string, re *regexp.Regexp) []string {
	if text == "" || re == nil {
		return nil
	}
	return re.FindAllString(text, -1)
}
