// Package document renders attached documents into plain text pages.
package document

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrUnsupportedFormat is returned for payloads no renderer understands.
var ErrUnsupportedFormat = errors.New("unsupported document format")

// Format identifies the renderer used for a payload.
type Format string

const (
	FormatUnknown      Format = ""
	FormatPDF          Format = "pdf"
	FormatDOCX         Format = "docx"
	FormatOpenDocument Format = "opendocument"
	FormatImage        Format = "image"
	FormatLegacyOffice Format = "legacy-office"
)

// Document is the plain text of a rendered payload, one entry per page.
// Formats without fixed pagination yield one entry per document part.
type Document struct {
	Format Format
	Pages  []string
}

var (
	pdfMagic = []byte("%PDF-")
	zipMagic = []byte("PK\x03\x04")
	oleMagic = []byte{0xd0, 0xcf, 0x11, 0xe0, 0xa1, 0xb1, 0x1a, 0xe1}
)

// pdf allows arbitrary bytes before the header within the first kilobyte.
const pdfHeaderWindow = 1024

// Render detects the payload format and extracts the text of every page.
// Rendering is all or nothing: an error on any page discards the document.
// Panics raised by the underlying parsers are returned as errors.
func Render(filename, contentType string, data []byte) (doc *Document, err error) {
	format := Detect(filename, contentType, data)

	defer func() {
		if r := recover(); r != nil {
			doc = nil
			err = fmt.Errorf("render %s: panic: %v", format, r)
		}
	}()

	var pages []string
	switch format {
	case FormatPDF:
		pages, err = renderPDF(data)
	case FormatDOCX:
		pages, err = renderDOCX(data)
	case FormatOpenDocument:
		pages, err = renderOpenDocument(data)
	case FormatImage:
		pages, err = renderImage(data)
	case FormatLegacyOffice:
		return nil, fmt.Errorf("%w: legacy binary office file", ErrUnsupportedFormat)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, describe(filename, contentType))
	}
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", format, err)
	}

	return &Document{Format: format, Pages: pages}, nil
}

// Detect picks a format from magic bytes, then the filename extension, then
// the declared content type.
func Detect(filename, contentType string, data []byte) Format {
	if format := detectMagic(data); format != FormatUnknown {
		return format
	}
	if format := detectExtension(filename); format != FormatUnknown {
		return format
	}
	return detectContentType(contentType)
}

func detectMagic(data []byte) Format {
	head := data
	if len(head) > pdfHeaderWindow {
		head = head[:pdfHeaderWindow]
	}

	switch {
	case bytes.Contains(head, pdfMagic):
		return FormatPDF
	case bytes.HasPrefix(data, zipMagic):
		return detectZip(data)
	case bytes.HasPrefix(data, oleMagic):
		return FormatLegacyOffice
	case isImage(data):
		return FormatImage
	}
	return FormatUnknown
}

func detectExtension(filename string) Format {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return FormatPDF
	case ".docx", ".docm", ".dotx":
		return FormatDOCX
	case ".odt", ".ott":
		return FormatOpenDocument
	case ".doc", ".dot":
		return FormatLegacyOffice
	}
	return FormatUnknown
}

func detectContentType(contentType string) Format {
	contentType = strings.ToLower(contentType)
	switch {
	case contentType == "application/pdf":
		return FormatPDF
	case contentType == "application/msword":
		return FormatLegacyOffice
	case strings.Contains(contentType, "wordprocessingml.document"):
		return FormatDOCX
	case strings.Contains(contentType, "opendocument.text"):
		return FormatOpenDocument
	}
	return FormatUnknown
}

func describe(filename, contentType string) string {
	if filename == "" {
		return contentType
	}
	return fmt.Sprintf("%s (%s)", contentType, filename)
}
