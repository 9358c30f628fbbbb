// Package mbox reads the messages of an mbox archive as scan input.
package mbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	mboxlib "github.com/emersion/go-mbox"

	"github.com/dhcgn/ico-scan/model"
)

var ErrEmptyPath = errors.New("mbox path is empty")

// Source yields the messages of one archive in file order. Message ids are
// "<archive name without extension>-<n>", counting from 1.
type Source struct {
	path  string
	stem  string
	count int
}

func Open(path string) (*Source, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrEmptyPath
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("open mbox: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("open mbox: %s is a directory", path)
	}

	base := filepath.Base(path)
	return &Source{
		path:  path,
		stem:  strings.TrimSuffix(base, filepath.Ext(base)),
		count: -1,
	}, nil
}

func (s *Source) Name() string {
	return s.path
}

// Count scans the archive once and caches the number of messages.
func (s *Source) Count(ctx context.Context) (int, error) {
	if s.count >= 0 {
		return s.count, nil
	}
	count, err := CountMessages(ctx, s.path)
	if err != nil {
		return 0, err
	}
	s.count = count
	return count, nil
}

// Each calls fn for every message. A message whose content cannot be read is
// passed on as an error envelope; a broken archive structure ends the
// iteration with an error.
func (s *Source) Each(ctx context.Context, fn func(model.Envelope) error) error {
	return read(ctx, s.path, func(n int, r io.Reader) error {
		env := model.Envelope{Email: model.Email{ID: s.ID(n), Source: s.path}}

		raw, err := io.ReadAll(r)
		if err != nil {
			env.Err = fmt.Errorf("message %d read: %w", n, err)
		} else {
			env.Email.Raw = raw
		}
		return fn(env)
	})
}

// ID returns the id of the n-th message, counting from 1.
func (s *Source) ID(n int) string {
	return s.stem + "-" + strconv.Itoa(n)
}

// CountMessages counts the messages of an mbox file without parsing them.
func CountMessages(ctx context.Context, path string) (int, error) {
	count := 0
	err := read(ctx, path, func(int, io.Reader) error {
		count++
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// read opens path and calls fn with the 1-based index and content of every
// message. Unread content is skipped by the mbox reader.
func read(ctx context.Context, path string, fn func(n int, r io.Reader) error) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open mbox: %w", err)
	}
	defer file.Close()

	reader := mboxlib.NewReader(file)
	for n := 1; ; n++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		msgReader, err := reader.NextMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("message %d: %w", n, err)
		}

		if err := fn(n, msgReader); err != nil {
			return err
		}
	}
}
