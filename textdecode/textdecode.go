// Package textdecode turns raw message bytes and encoded headers into text.
//
// Body payloads are decoded speculatively: every configured encoding is tried
// on its own and each one that decodes the bytes cleanly yields a candidate
// text. Header values are RFC 2047 decoded.
package textdecode

import (
	"fmt"
	"io"
	"mime"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/unicode"
)

// DefaultEncodings is the trial order for text bodies: UTF-8 followed by the
// Central European code pages Czech mail clients produce.
var DefaultEncodings = []string{"utf-8", "ibm852", "iso-8859-2", "windows-1250"}

// Codec is a resolved encoding that decodes strictly.
type Codec struct {
	Name string
	enc  encoding.Encoding
}

// Decoded is the output of one successful trial decoding.
type Decoded struct {
	Encoding string
	Text     string
}

// Lookup resolves an encoding name through the IANA, MIME and WHATWG
// registries, in that order.
func Lookup(name string) (encoding.Encoding, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("empty encoding name")
	}
	if enc, err := ianaindex.IANA.Encoding(name); err == nil && enc != nil {
		return enc, nil
	}
	if enc, err := ianaindex.MIME.Encoding(name); err == nil && enc != nil {
		return enc, nil
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("unsupported encoding %q: %w", name, err)
	}
	return enc, nil
}

// Codecs resolves names into codecs, preserving order. Names that do not
// resolve are returned separately so the caller can decide whether to report
// them.
func Codecs(names []string) (codecs []Codec, unknown []string) {
	for _, name := range names {
		enc, err := Lookup(name)
		if err != nil {
			unknown = append(unknown, name)
			continue
		}
		codecs = append(codecs, Codec{Name: name, enc: enc})
	}
	return codecs, unknown
}

// Decode converts b to a string. It fails on invalid UTF-8 and on bytes that
// are undefined in a single-byte code page instead of substituting them.
func (c Codec) Decode(b []byte) (string, bool) {
	if c.enc == unicode.UTF8 {
		if !utf8.Valid(b) {
			return "", false
		}
		return string(b), true
	}

	out, err := c.enc.NewDecoder().Bytes(b)
	if err != nil {
		return "", false
	}
	if !utf8.Valid(out) || strings.ContainsRune(string(out), utf8.RuneError) {
		return "", false
	}
	return string(out), true
}

// DecodeAll runs every codec over b and returns each successful decoding in
// codec order.
func DecodeAll(codecs []Codec, b []byte) []Decoded {
	var decoded []Decoded
	for _, c := range codecs {
		text, ok := c.Decode(b)
		if !ok {
			continue
		}
		decoded = append(decoded, Decoded{Encoding: c.Name, Text: text})
	}
	return decoded
}

var headerUnfolder = strings.NewReplacer("\r\n", "", "\n", "", "\r", "")

var wordDecoder = &mime.WordDecoder{CharsetReader: charsetReader}

// Header decodes a raw header value containing RFC 2047 encoded words. The
// value is returned unfolded but otherwise unchanged if it cannot be decoded.
func Header(raw string) string {
	raw = headerUnfolder.Replace(raw)
	if raw == "" {
		return ""
	}
	decoded, err := wordDecoder.DecodeHeader(raw)
	if err != nil {
		return raw
	}
	return decoded
}

func charsetReader(charset string, input io.Reader) (io.Reader, error) {
	enc, err := Lookup(charset)
	if err != nil {
		return nil, err
	}
	return enc.NewDecoder().Reader(input), nil
}
