// Package analyzer extracts declared identification numbers from raw emails.
//
// Every email is scanned in its subject, in the filename of every MIME part
// and in the decoded content of text and document parts. Numbers are only
// reported when a declaration phrase appears somewhere in the same email.
package analyzer

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"strings"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/textproto"

	"github.com/dhcgn/ico-scan/document"
	"github.com/dhcgn/ico-scan/ico"
	"github.com/dhcgn/ico-scan/keyword"
	"github.com/dhcgn/ico-scan/textdecode"
)

// maxNesting bounds recursion into nested multiparts and attached messages.
const maxNesting = 32

var errTooDeep = errors.New("mime structure nested too deeply")

// ErrMissingBoundary is recorded as a defect when a multipart body ends
// before its closing boundary.
var ErrMissingBoundary = errors.New("multipart ended without closing boundary")

// Options configures an Analyzer.
type Options struct {
	Exclusions []string
	Encodings  []string
}

// Analyzer is safe for sequential reuse across emails; it keeps no state
// between Analyze calls.
type Analyzer struct {
	extractor *ico.Extractor
	codecs    []textdecode.Codec
	render    func(filename, contentType string, data []byte) (*document.Document, error)
}

// New creates an analyzer. Encoding names that cannot be resolved are
// dropped and logged at debug level.
func New(opts Options, logger *slog.Logger) *Analyzer {
	encodings := opts.Encodings
	if len(encodings) == 0 {
		encodings = textdecode.DefaultEncodings
	}
	codecs, unknown := textdecode.Codecs(encodings)
	if len(unknown) > 0 && logger != nil {
		logger.Debug("ignoring unknown encodings", "encodings", unknown)
	}

	return &Analyzer{
		extractor: ico.NewExtractor(opts.Exclusions),
		codecs:    codecs,
		render:    document.Render,
	}
}

// PartError describes a MIME part whose content could not be rendered.
type PartError struct {
	Path        string
	ContentType string
	Filename    string
	Err         error
}

func (e *PartError) Error() string {
	if e.Filename != "" {
		return fmt.Sprintf("part %s (%s, %q): %v", e.Path, e.ContentType, e.Filename, e.Err)
	}
	return fmt.Sprintf("part %s (%s): %v", e.Path, e.ContentType, e.Err)
}

func (e *PartError) Unwrap() error {
	return e.Err
}

// Result is the outcome of analysing one email.
type Result struct {
	// ICOs holds the distinct numbers in order of discovery. It is empty
	// unless Declaration is set.
	ICOs []string
	// Declaration reports whether a declaration phrase was found.
	Declaration bool
	// Candidates counts the distinct validated numbers seen, including
	// those dropped for lack of a declaration.
	Candidates int
	// Subject is the decoded subject.
	Subject string
	// PartErrors lists parts skipped because rendering failed.
	PartErrors []*PartError
	// Defects lists irregularities that were tolerated, such as a missing
	// closing boundary or a partially decodable body.
	Defects []Defect
}

// Defect is a structural problem in a part that did not prevent scanning it.
type Defect struct {
	Path string
	Err  error
}

// Analyze parses raw as an email and scans it. An error means the email as a
// whole could not be analysed; failures of single parts are reported in
// Result.PartErrors instead.
func (a *Analyzer) Analyze(raw []byte) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{}
			err = fmt.Errorf("analyze: panic: %v", r)
		}
	}()

	br := bufio.NewReader(bytes.NewReader(raw))
	header, err := textproto.ReadHeader(br)
	if err != nil {
		return Result{}, fmt.Errorf("parse header: %w", err)
	}

	acc := &accumulator{extractor: a.extractor}

	subject := textdecode.Header(header.Get("Subject"))
	acc.scan(subject)

	if err := a.walk(header, br, "0", 0, acc); err != nil {
		return Result{}, err
	}

	return acc.result(subject), nil
}

// walk visits a part and its children depth first. Parts are read in stream
// order, so a part's body must be consumed before its next sibling.
func (a *Analyzer) walk(header textproto.Header, body io.Reader, path string, depth int, acc *accumulator) error {
	if depth > maxNesting {
		return errTooDeep
	}

	contentType, params := mediaType(header)
	filename := partFilename(header)
	if filename != "" {
		acc.scan(filename)
	}

	if strings.HasPrefix(contentType, "multipart/") {
		boundary := params["boundary"]
		if boundary == "" {
			return nil
		}
		stream := &eofReader{r: body}
		mr := textproto.NewMultipartReader(stream, boundary)
		for i := 0; ; i++ {
			part, err := mr.NextPart()
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				if stream.eof {
					acc.defect(path, ErrMissingBoundary)
					return nil
				}
				return fmt.Errorf("part %s.%d: %w", path, i, err)
			}
			if err := a.walk(part.Header, part, fmt.Sprintf("%s.%d", path, i), depth+1, acc); err != nil {
				return err
			}
		}
	}

	scanContent := contentType == "message/rfc822" || isDocument(contentType) ||
		contentType == "text/plain" || contentType == "text/html"
	if !scanContent {
		return nil
	}

	payload, err := a.payload(header, contentType, body, path, acc)
	if err != nil {
		acc.fail(path, contentType, filename, err)
		return nil
	}

	switch {
	case contentType == "message/rfc822":
		br := bufio.NewReader(bytes.NewReader(payload))
		inner, err := textproto.ReadHeader(br)
		if err != nil {
			acc.fail(path, contentType, filename, fmt.Errorf("attached message: %w", err))
			return nil
		}
		return a.walk(inner, br, path+".0", depth+1, acc)

	case isDocument(contentType):
		doc, err := a.render(filename, contentType, payload)
		if err != nil {
			acc.fail(path, contentType, filename, err)
			return nil
		}
		for _, page := range doc.Pages {
			acc.scan(page)
		}

	default:
		for _, decoded := range textdecode.DecodeAll(a.codecs, payload) {
			acc.scan(decoded.Text)
		}
	}

	return nil
}

// payload returns the transfer-decoded body bytes. The charset parameter is
// withheld from the parser so text stays undecoded for trial decoding. A body
// cut short keeps the bytes read so far and is recorded as a defect.
func (a *Analyzer) payload(header textproto.Header, contentType string, body io.Reader, path string, acc *accumulator) ([]byte, error) {
	cte := strings.ToLower(strings.TrimSpace(header.Get("Content-Transfer-Encoding")))
	if cte == "base64" {
		raw, err := readPartial(body, path, acc)
		if err != nil {
			return nil, err
		}
		return decodeBase64(raw), nil
	}

	neutral := header.Copy()
	neutral.Set("Content-Type", contentType)

	entity, err := message.New(message.Header{Header: neutral}, body)
	if err != nil && !message.IsUnknownEncoding(err) {
		return nil, err
	}
	return readPartial(entity.Body, path, acc)
}

func readPartial(r io.Reader, path string, acc *accumulator) ([]byte, error) {
	data, err := io.ReadAll(r)
	if err == nil {
		return data, nil
	}
	if len(data) == 0 && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, fmt.Errorf("read body: %w", err)
	}
	acc.defect(path, fmt.Errorf("read body: %w", err))
	return data, nil
}

// decodeBase64 skips bytes outside the base64 alphabet, stops at the first
// padding character and drops a dangling trailing symbol.
func decodeBase64(raw []byte) []byte {
	clean := make([]byte, 0, len(raw))
	for _, c := range raw {
		if c == '=' {
			break
		}
		if isBase64Symbol(c) {
			clean = append(clean, c)
		}
	}
	if len(clean)%4 == 1 {
		clean = clean[:len(clean)-1]
	}

	out := make([]byte, base64.RawStdEncoding.DecodedLen(len(clean)))
	n, _ := base64.RawStdEncoding.Decode(out, clean)
	return out[:n]
}

func isBase64Symbol(c byte) bool {
	return c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '+' || c == '/'
}

// eofReader records whether the underlying stream was exhausted.
type eofReader struct {
	r   io.Reader
	eof bool
}

func (e *eofReader) Read(p []byte) (int, error) {
	n, err := e.r.Read(p)
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		e.eof = true
	}
	return n, err
}

func isDocument(contentType string) bool {
	return contentType == "application/pdf" ||
		contentType == "application/msword" ||
		strings.Contains(contentType, "document") ||
		strings.HasPrefix(contentType, "image")
}

// mediaType returns the lower-case media type and its parameters, defaulting
// to text/plain when the header is missing or unparsable.
func mediaType(h textproto.Header) (string, map[string]string) {
	value := h.Get("Content-Type")
	t, params, err := mime.ParseMediaType(value)
	if err != nil && !errors.Is(err, mime.ErrInvalidMediaParameter) {
		return "text/plain", nil
	}
	if t == "" {
		return "text/plain", nil
	}
	if err != nil {
		params = lenientParams(value)
	}
	return strings.ToLower(t), params
}

// partFilename reads the Content-Disposition filename, falling back to the
// Content-Type name parameter.
func partFilename(h textproto.Header) string {
	if name, ok := headerParam(h.Get("Content-Disposition"), "filename"); ok {
		return textdecode.Header(name)
	}
	if name, ok := headerParam(h.Get("Content-Type"), "name"); ok {
		return textdecode.Header(name)
	}
	return ""
}

func headerParam(value, key string) (string, bool) {
	if value == "" {
		return "", false
	}
	_, params, err := mime.ParseMediaType(value)
	if err != nil {
		params = lenientParams(value)
	}
	v, ok := params[key]
	return v, ok
}

// lenientParams splits a header value on semicolons and keeps every
// key=value pair after the first segment. Malformed pairs are skipped and
// the first occurrence of a key wins.
func lenientParams(value string) map[string]string {
	params := make(map[string]string)
	segments := strings.Split(value, ";")
	for _, segment := range segments[1:] {
		key, v, ok := strings.Cut(segment, "=")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		if key == "" {
			continue
		}
		if _, dup := params[key]; dup {
			continue
		}
		v = strings.TrimSpace(v)
		if len(v) >= 2 && v[0] == '"' && v[len(v)-1] == '"' {
			v = v[1 : len(v)-1]
		}
		params[key] = v
	}
	return params
}

type accumulator struct {
	extractor   *ico.Extractor
	icos        []string
	declaration bool
	partErrors  []*PartError
	defects     []Defect
}

func (acc *accumulator) scan(text string) {
	if text == "" {
		return
	}
	acc.icos = append(acc.icos, acc.extractor.Extract(text)...)
	if !acc.declaration && keyword.Contains(text) {
		acc.declaration = true
	}
}

func (acc *accumulator) fail(path, contentType, filename string, err error) {
	acc.partErrors = append(acc.partErrors, &PartError{
		Path:        path,
		ContentType: contentType,
		Filename:    filename,
		Err:         err,
	})
}

func (acc *accumulator) defect(path string, err error) {
	acc.defects = append(acc.defects, Defect{Path: path, Err: err})
}

func (acc *accumulator) result(subject string) Result {
	distinct := make([]string, 0, len(acc.icos))
	seen := make(map[string]struct{}, len(acc.icos))
	for _, number := range acc.icos {
		if _, dup := seen[number]; dup {
			continue
		}
		seen[number] = struct{}{}
		distinct = append(distinct, number)
	}

	res := Result{
		Declaration: acc.declaration,
		Candidates:  len(distinct),
		Subject:     subject,
		PartErrors:  acc.partErrors,
		Defects:     acc.defects,
	}
	if acc.declaration && len(distinct) > 0 {
		res.ICOs = distinct
	}
	return res
}
