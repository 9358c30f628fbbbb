// Package imap reads the messages of one IMAP folder as scan input.
package imap

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"

	imapv2 "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/dhcgn/ico-scan/model"
)

var ErrMessageMissing = errors.New("message not returned by server")

type Options struct {
	Host               string
	Port               int
	Username           string
	Password           string
	UseTLS             bool
	InsecureSkipVerify bool
	Folder             string
}

func (o Options) folder() string {
	if o.Folder == "" {
		return "INBOX"
	}
	return o.Folder
}

func (o Options) address() string {
	return net.JoinHostPort(o.Host, strconv.Itoa(o.Port))
}

// Source fetches the messages of one folder, one message per round trip, in
// ascending UID order. Message ids are the UIDs. The folder is opened read
// only and messages are fetched with BODY.PEEK[], so no flags change.
type Source struct {
	opts   Options
	logger *slog.Logger

	client    *imapclient.Client
	stopClose func() bool

	uids    []imapv2.UID
	counted bool
}

// Open connects, logs in and selects the folder.
func Open(ctx context.Context, opts Options, logger *slog.Logger) (*Source, error) {
	if opts.Host == "" {
		return nil, fmt.Errorf("imap host is empty")
	}
	if opts.Port <= 0 {
		return nil, fmt.Errorf("imap port must be positive")
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Source{opts: opts, logger: logger}
	if err := s.dial(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Source) dial(ctx context.Context) error {
	address := s.opts.address()
	options := &imapclient.Options{}

	if s.opts.UseTLS {
		options.TLSConfig = &tls.Config{
			ServerName:         s.opts.Host,
			InsecureSkipVerify: s.opts.InsecureSkipVerify,
		}
	}

	var (
		client *imapclient.Client
		err    error
	)

	if s.opts.UseTLS {
		client, err = imapclient.DialTLS(address, options)
	} else {
		client, err = imapclient.DialInsecure(address, options)
	}
	if err != nil {
		return fmt.Errorf("dial imap %s: %w", address, err)
	}

	if err := client.Login(s.opts.Username, s.opts.Password).Wait(); err != nil {
		_ = client.Close()
		return fmt.Errorf("imap login failed: %w", err)
	}

	folder := s.opts.folder()
	data, err := client.Select(folder, &imapv2.SelectOptions{ReadOnly: true}).Wait()
	if err != nil {
		_ = client.Close()
		return fmt.Errorf("select %s: %w", folder, err)
	}

	s.logger.Debug("imap connection established",
		"address", address,
		"user", s.opts.Username,
		"folder", folder,
		"messages", data.NumMessages,
		"tls", s.opts.UseTLS,
	)

	s.client = client
	s.stopClose = context.AfterFunc(ctx, func() {
		_ = client.Close()
	})
	return nil
}

func (s *Source) Name() string {
	return s.opts.address() + "/" + s.opts.folder()
}

// Count searches the folder once and caches the UID list that Each walks.
func (s *Source) Count(ctx context.Context) (int, error) {
	if s.counted {
		return len(s.uids), nil
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	data, err := s.client.UIDSearch(&imapv2.SearchCriteria{}, nil).Wait()
	if err != nil {
		return 0, fmt.Errorf("search %s: %w", s.opts.folder(), err)
	}
	s.uids = data.AllUIDs()
	s.counted = true
	return len(s.uids), nil
}

// Each fetches every message found by Count. A failed fetch is passed on as
// an error envelope; a closed connection ends the iteration.
func (s *Source) Each(ctx context.Context, fn func(model.Envelope) error) error {
	if _, err := s.Count(ctx); err != nil {
		return err
	}

	for _, uid := range s.uids {
		if err := ctx.Err(); err != nil {
			return err
		}

		id := strconv.FormatUint(uint64(uid), 10)
		env := model.Envelope{Email: model.Email{ID: id, Source: s.Name()}}

		raw, err := s.fetch(uid)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return fmt.Errorf("fetch uid %s: %w", id, err)
			}
			env.Err = fmt.Errorf("fetch uid %s: %w", id, err)
		} else {
			env.Email.Raw = raw
		}

		if err := fn(env); err != nil {
			return err
		}
	}
	return nil
}

func (s *Source) fetch(uid imapv2.UID) ([]byte, error) {
	section := &imapv2.FetchItemBodySection{Peek: true}
	cmd := s.client.Fetch(imapv2.UIDSetNum(uid), &imapv2.FetchOptions{
		UID:         true,
		BodySection: []*imapv2.FetchItemBodySection{section},
	})
	defer cmd.Close()

	msg := cmd.Next()
	if msg == nil {
		if err := cmd.Close(); err != nil {
			return nil, err
		}
		return nil, ErrMessageMissing
	}

	buf, err := msg.Collect()
	if err != nil {
		return nil, fmt.Errorf("collect: %w", err)
	}
	if err := cmd.Close(); err != nil {
		return nil, err
	}

	raw := buf.FindBodySection(section)
	if raw == nil {
		return nil, ErrMessageMissing
	}
	return raw, nil
}

// Close logs out and closes the connection.
func (s *Source) Close() error {
	if s.client == nil {
		return nil
	}
	s.stopClose()
	if err := s.client.Logout().Wait(); err != nil {
		s.logger.Warn("imap logout failed", "err", err)
	}
	if err := s.client.Close(); err != nil {
		s.logger.Debug("imap connection closed", "err", err)
	}
	s.client = nil
	return nil
}
