package mbox

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/dhcgn/ico-scan/model"
)

const archive = "From podatelna@example.cz Mon Jan  6 09:00:00 2025\n" +
	"Subject: Cestne prohlaseni\n" +
	"\n" +
	"ICO 25596641\n" +
	"\n" +
	"From nabidky@example.cz Mon Jan  6 10:00:00 2025\n" +
	"Subject: Faktura\n" +
	"\n" +
	"ICO 27074358\n" +
	"\n" +
	"From info@example.cz Mon Jan  6 11:00:00 2025\n" +
	"Subject: Newsletter\n" +
	"\n" +
	"bez cisel\n"

func writeArchive(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestSource(t *testing.T) {
	path := writeArchive(t, "podatelna.mbox", archive)

	src, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	count, err := src.Count(context.Background())
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if count != 3 {
		t.Errorf("Count() = %d, want 3", count)
	}

	var (
		ids      []string
		subjects []string
	)
	err = src.Each(context.Background(), func(env model.Envelope) error {
		if env.Err != nil {
			t.Errorf("envelope %s error = %v", env.Email.ID, env.Err)
		}
		ids = append(ids, env.Email.ID)
		subject, _, _ := strings.Cut(string(env.Email.Raw), "\n")
		subjects = append(subjects, subject)
		return nil
	})
	if err != nil {
		t.Fatalf("Each() error = %v", err)
	}

	if want := []string{"podatelna-1", "podatelna-2", "podatelna-3"}; !reflect.DeepEqual(ids, want) {
		t.Errorf("ids = %v, want %v", ids, want)
	}
	if want := []string{"Subject: Cestne prohlaseni", "Subject: Faktura", "Subject: Newsletter"}; !reflect.DeepEqual(subjects, want) {
		t.Errorf("subjects = %q, want %q", subjects, want)
	}
}

func TestSource_EachStopsOnCallbackError(t *testing.T) {
	src, err := Open(writeArchive(t, "a.mbox", archive))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	stop := errors.New("stop")
	calls := 0
	err = src.Each(context.Background(), func(model.Envelope) error {
		calls++
		return stop
	})
	if !errors.Is(err, stop) || calls != 1 {
		t.Errorf("Each() error = %v after %d calls, want stop after 1", err, calls)
	}
}

func TestSource_CancelledContext(t *testing.T) {
	src, err := Open(writeArchive(t, "a.mbox", archive))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := src.Each(ctx, func(model.Envelope) error { return nil }); !errors.Is(err, context.Canceled) {
		t.Errorf("Each() error = %v, want context.Canceled", err)
	}
}

func TestOpen_Errors(t *testing.T) {
	if _, err := Open(" "); !errors.Is(err, ErrEmptyPath) {
		t.Errorf("Open(blank) error = %v, want ErrEmptyPath", err)
	}
	if _, err := Open(filepath.Join(t.TempDir(), "missing.mbox")); err == nil {
		t.Error("Open(missing) error = nil, want error")
	}
	if _, err := Open(t.TempDir()); err == nil {
		t.Error("Open(directory) error = nil, want error")
	}
}

func TestSource_ID(t *testing.T) {
	src, err := Open(writeArchive(t, "export.2024.mbox", archive))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if got := src.ID(12); got != "export.2024-12" {
		t.Errorf("ID(12) = %q, want export.2024-12", got)
	}
}
