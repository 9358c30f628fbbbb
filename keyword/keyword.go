// Package keyword detects declaration of honour phrases in Czech text.
package keyword

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Phrases are the lower-case variants of "čestné prohlášení" that mark a
// message as carrying a declaration.
var Phrases = []string{
	"cestne prohlaseni",
	"čestné prohlášení",
	"čestně prohlašuji",
	"čestného prohlášení",
	"čestném prohlášením",
	"čestným prohlášením",
}

// Contains reports whether text mentions any of the phrases, ignoring case.
func Contains(text string) bool {
	if text == "" {
		return false
	}
	// PDF text layers often carry decomposed diacritics.
	lower := norm.NFC.String(strings.ToLower(text))
	for _, phrase := range Phrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}
