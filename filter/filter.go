// Package filter selects which emails are analysed, based on regular
// expressions matched against the raw header block and the raw body.
package filter

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/dhcgn/ico-scan/model"
)

var ErrConflictingModes = errors.New("include and exclude filters are mutually exclusive")

// Options captures the filtering configuration.
type Options struct {
	IncludeHeader []string
	IncludeBody   []string
	ExcludeHeader []string
	ExcludeBody   []string
}

// Active reports whether any pattern is configured.
func (o Options) Active() bool {
	return len(o.IncludeHeader)+len(o.IncludeBody)+len(o.ExcludeHeader)+len(o.ExcludeBody) > 0
}

type mode int

const (
	modeNone mode = iota
	modeInclude
	modeExclude
)

// Filter holds the compiled patterns of either the include or the exclude
// mode. A zero-pattern Filter allows everything.
type Filter struct {
	mode   mode
	header []*regexp.Regexp
	body   []*regexp.Regexp
}

// New compiles opts. Blank patterns are ignored.
func New(opts Options) (*Filter, error) {
	includeHeader, err := compilePatterns(opts.IncludeHeader)
	if err != nil {
		return nil, fmt.Errorf("include-header: %w", err)
	}
	includeBody, err := compilePatterns(opts.IncludeBody)
	if err != nil {
		return nil, fmt.Errorf("include-body: %w", err)
	}
	excludeHeader, err := compilePatterns(opts.ExcludeHeader)
	if err != nil {
		return nil, fmt.Errorf("exclude-header: %w", err)
	}
	excludeBody, err := compilePatterns(opts.ExcludeBody)
	if err != nil {
		return nil, fmt.Errorf("exclude-body: %w", err)
	}

	includeActive := len(includeHeader) > 0 || len(includeBody) > 0
	excludeActive := len(excludeHeader) > 0 || len(excludeBody) > 0

	switch {
	case includeActive && excludeActive:
		return nil, ErrConflictingModes
	case includeActive:
		return &Filter{mode: modeInclude, header: includeHeader, body: includeBody}, nil
	case excludeActive:
		return &Filter{mode: modeExclude, header: excludeHeader, body: excludeBody}, nil
	}
	return &Filter{}, nil
}

// Allows reports whether an email passes. In include mode at least one
// pattern must match; in exclude mode none may.
func (f *Filter) Allows(header, body []byte) bool {
	if f == nil || f.mode == modeNone {
		return true
	}

	matched := matchAny(f.header, header) || matchAny(f.body, body)
	if f.mode == modeInclude {
		return matched
	}
	return !matched
}

// AllowsEmail splits the raw message and applies Allows.
func (f *Filter) AllowsEmail(email model.Email) bool {
	if f == nil || f.mode == modeNone {
		return true
	}
	header, body := SplitRawMessage(email.Raw)
	return f.Allows(header, body)
}

// SplitRawMessage splits a raw email at the first empty line.
func SplitRawMessage(raw []byte) (header, body []byte) {
	if len(raw) == 0 {
		return nil, nil
	}

	crlf := bytes.Index(raw, []byte("\r\n\r\n"))
	lf := bytes.Index(raw, []byte("\n\n"))
	switch {
	case crlf >= 0 && (lf < 0 || crlf < lf):
		return raw[:crlf], raw[crlf+4:]
	case lf >= 0:
		return raw[:lf], raw[lf+2:]
	}

	return raw, nil
}

func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, pattern := range patterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("compile %q: %w", pattern, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}

func matchAny(patterns []*regexp.Regexp, text []byte) bool {
	for _, re := range patterns {
		if re.Match(text) {
			return true
		}
	}
	return false
}
