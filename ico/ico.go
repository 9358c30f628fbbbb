// Package ico finds and validates Czech organisation identification numbers.
package ico

import (
	"regexp"
	"strings"
)

// Length is the number of digits of an identification number, check digit included.
const Length = 8

// DefaultExclusions lists numbers that are never reported even when their
// checksum is valid.
var DefaultExclusions = []string{"45245053"}

var candidatePattern = regexp.MustCompile(`[0-9 ]+`)

var weights = [Length - 1]int{8, 7, 6, 5, 4, 3, 2}

// IsValid reports whether s is exactly eight ASCII digits whose last digit
// matches the weighted mod-11 check digit.
func IsValid(s string) bool {
	if len(s) != Length {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}

	sum := 0
	for i, w := range weights {
		sum += w * int(s[i]-'0')
	}
	expected := (11 - sum%11) % 10
	return expected == int(s[Length-1]-'0')
}

// Extractor pulls validated numbers out of arbitrary text.
type Extractor struct {
	excluded map[string]struct{}
}

// NewExtractor creates an extractor that drops the given numbers. Spaces in
// the exclusions are ignored, the same way they are ignored in candidates.
func NewExtractor(exclusions []string) *Extractor {
	excluded := make(map[string]struct{}, len(exclusions))
	for _, ex := range exclusions {
		ex = normalize(ex)
		if ex == "" {
			continue
		}
		excluded[ex] = struct{}{}
	}
	return &Extractor{excluded: excluded}
}

// Extract returns every maximal run of digits and spaces that, with the
// spaces removed, is a valid number and not excluded. Duplicates are kept.
func (e *Extractor) Extract(text string) []string {
	var found []string
	for _, run := range candidatePattern.FindAllString(text, -1) {
		number := normalize(run)
		if e.isExcluded(number) {
			continue
		}
		if IsValid(number) {
			found = append(found, number)
		}
	}
	return found
}

func (e *Extractor) isExcluded(number string) bool {
	_, ok := e.excluded[normalize(number)]
	return ok
}

func normalize(s string) string {
	return strings.ReplaceAll(s, " ", "")
}
