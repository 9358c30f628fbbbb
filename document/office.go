package document

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
)

// maxXMLPart bounds how much of a single archive member is read.
const maxXMLPart = 64 << 20

func detectZip(data []byte) Format {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return FormatUnknown
	}
	for _, f := range zr.File {
		switch f.Name {
		case "word/document.xml":
			return FormatDOCX
		case "content.xml":
			return FormatOpenDocument
		}
	}
	return FormatUnknown
}

// renderDOCX returns the main document followed by headers and footers.
func renderDOCX(data []byte) ([]string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open docx: %w", err)
	}

	var main *zip.File
	var extra []*zip.File
	for _, f := range zr.File {
		switch {
		case f.Name == "word/document.xml":
			main = f
		case path.Dir(f.Name) == "word" && path.Ext(f.Name) == ".xml" &&
			(strings.HasPrefix(path.Base(f.Name), "header") || strings.HasPrefix(path.Base(f.Name), "footer")):
			extra = append(extra, f)
		}
	}
	if main == nil {
		return nil, errors.New("word/document.xml not found in archive")
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i].Name < extra[j].Name })

	words := xmlText{
		text:   map[string]bool{"t": true},
		breaks: map[string]string{"p": "\n", "tr": "\n"},
		marks:  map[string]string{"tab": "\t", "br": "\n", "cr": "\n"},
	}

	pages := make([]string, 0, 1+len(extra))
	for _, f := range append([]*zip.File{main}, extra...) {
		text, err := words.extractFile(f)
		if err != nil {
			return nil, err
		}
		pages = append(pages, text)
	}
	return pages, nil
}

func renderOpenDocument(data []byte) ([]string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open opendocument: %w", err)
	}

	var content *zip.File
	for _, f := range zr.File {
		if f.Name == "content.xml" {
			content = f
			break
		}
	}
	if content == nil {
		return nil, errors.New("content.xml not found in archive")
	}

	odt := xmlText{
		text:   map[string]bool{"p": true, "h": true},
		breaks: map[string]string{"p": "\n", "h": "\n"},
		marks:  map[string]string{"s": " ", "tab": "\t", "line-break": "\n"},
	}
	text, err := odt.extractFile(content)
	if err != nil {
		return nil, err
	}
	return []string{text}, nil
}

// xmlText collects character data of office XML by local element name.
type xmlText struct {
	// text lists elements whose character data (nested included) is kept.
	text map[string]bool
	// breaks are appended when an element ends.
	breaks map[string]string
	// marks are appended when an empty formatting element starts.
	marks map[string]string
}

func (x xmlText) extractFile(f *zip.File) (string, error) {
	rc, err := f.Open()
	if err != nil {
		return "", fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer rc.Close()

	text, err := x.extract(io.LimitReader(rc, maxXMLPart))
	if err != nil {
		return "", fmt.Errorf("parse %s: %w", f.Name, err)
	}
	return text, nil
}

func (x xmlText) extract(r io.Reader) (string, error) {
	decoder := xml.NewDecoder(r)
	decoder.Strict = false

	var b strings.Builder
	depth := 0
	for {
		tok, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if x.text[t.Name.Local] {
				depth++
			}
			if mark, ok := x.marks[t.Name.Local]; ok {
				b.WriteString(mark)
			}
		case xml.CharData:
			if depth > 0 {
				b.Write(t)
			}
		case xml.EndElement:
			if x.text[t.Name.Local] && depth > 0 {
				depth--
			}
			if brk, ok := x.breaks[t.Name.Local]; ok {
				b.WriteString(brk)
			}
		}
	}

	return strings.TrimSpace(b.String()), nil
}
