// Package emldir reads .eml files from a directory.
package emldir

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dhcgn/ico-scan/model"
)

// Extension selects the files that are read. The comparison is case sensitive.
const Extension = ".eml"

var ErrEmptyPath = errors.New("input directory is empty")

// Source enumerates the .eml files of one directory, without descending into
// subdirectories.
type Source struct {
	dir   string
	files []string
}

// Open lists the directory. The listing is taken once; files added later are
// not seen.
func Open(dir string) (*Source, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, ErrEmptyPath
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read input directory: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !isEML(entry.Name()) {
			continue
		}
		files = append(files, entry.Name())
	}

	return &Source{dir: dir, files: files}, nil
}

func (s *Source) Name() string {
	return s.dir
}

// Count returns the number of .eml files found.
func (s *Source) Count(context.Context) (int, error) {
	return len(s.files), nil
}

// Each reads the files in name order and calls fn with one envelope per file.
// A file that cannot be read is passed on as an envelope carrying the error.
func (s *Source) Each(ctx context.Context, fn func(model.Envelope) error) error {
	for _, name := range s.files {
		if err := ctx.Err(); err != nil {
			return err
		}

		path := filepath.Join(s.dir, name)
		env := model.Envelope{Email: model.Email{ID: ID(name), Source: path}}

		raw, err := os.ReadFile(path)
		if err != nil {
			env.Err = fmt.Errorf("read %s: %w", name, err)
		} else {
			env.Email.Raw = raw
		}

		if err := fn(env); err != nil {
			return err
		}
	}
	return nil
}

// ID strips the .eml extension from a filename.
func ID(name string) string {
	return strings.TrimSuffix(filepath.Base(name), Extension)
}

func isEML(name string) bool {
	return filepath.Ext(name) == Extension && name != Extension
}
