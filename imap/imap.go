// Package imap fetches messages from an IMAP folder so they can be parsed
// like .eml files.
package imap

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"

	imapv2 "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
)

var ErrNoHost = errors.New("imap host is empty")

type Options struct {
	Host               string
	Port               int
	Username           string
	Password           string
	UseTLS             bool
	InsecureSkipVerify bool
	Folder             string
	// Limit caps the fetched messages, newest first. Zero fetches all.
	Limit int
}

// Message is one fetched message. Name is "<uid>.eml".
type Message struct {
	UID  uint32
	Name string
	Raw  []byte
}

type Fetcher struct {
	opts   Options
	logger *slog.Logger
}

func NewFetcher(opts Options, logger *slog.Logger) (*Fetcher, error) {
	if strings.TrimSpace(opts.Host) == "" {
		return nil, ErrNoHost
	}
	if opts.Port <= 0 {
		return nil, fmt.Errorf("imap port must be positive")
	}
	if opts.Limit < 0 {
		return nil, fmt.Errorf("imap limit must not be negative")
	}
	return &Fetcher{opts: opts, logger: logger}, nil
}

// Fetch selects the folder read-only and hands every message to fn in
// mailbox order. Messages are fetched with BODY.PEEK[] so their \Seen flag
// stays untouched. An error from fn stops the fetch and is returned.
func (f *Fetcher) Fetch(ctx context.Context, fn func(Message) error) error {
	client, cleanup, err := f.dial(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	folder := f.folder()
	selected, err := client.Select(folder, &imapv2.SelectOptions{ReadOnly: true}).Wait()
	if err != nil {
		return fmt.Errorf("select %s: %w", folder, err)
	}
	if selected.NumMessages == 0 {
		if f.logger != nil {
			f.logger.Info("imap folder is empty", "folder", folder)
		}
		return nil
	}

	first, last := fetchRange(selected.NumMessages, f.opts.Limit)
	var seqSet imapv2.SeqSet
	seqSet.AddRange(first, last)

	bodySection := &imapv2.FetchItemBodySection{Peek: true}
	cmd := client.Fetch(seqSet, &imapv2.FetchOptions{
		UID:         true,
		BodySection: []*imapv2.FetchItemBodySection{bodySection},
	})
	defer cmd.Close()

	if f.logger != nil {
		f.logger.Debug("imap fetch started", "folder", folder, "first", first, "last", last)
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg := cmd.Next()
		if msg == nil {
			break
		}
		buf, err := msg.Collect()
		if err != nil {
			return fmt.Errorf("fetch message %d: %w", msg.SeqNum, err)
		}
		raw := buf.FindBodySection(bodySection)
		if raw == nil {
			if f.logger != nil {
				f.logger.Warn("imap message without body", "uid", buf.UID)
			}
			continue
		}

		uid := uint32(buf.UID)
		if err := fn(Message{
			UID:  uid,
			Name: fmt.Sprintf("%d.eml", uid),
			Raw:  raw,
		}); err != nil {
			return err
		}
	}

	if err := cmd.Close(); err != nil {
		return fmt.Errorf("fetch %s: %w", folder, err)
	}
	return nil
}

// fetchRange returns the sequence range covering the newest limit messages.
func fetchRange(total uint32, limit int) (first, last uint32) {
	first = 1
	if limit > 0 && uint32(limit) < total {
		first = total - uint32(limit) + 1
	}
	return first, total
}

func (f *Fetcher) dial(ctx context.Context) (*imapclient.Client, func(), error) {
	address := net.JoinHostPort(f.opts.Host, strconv.Itoa(f.opts.Port))
	options := &imapclient.Options{}

	if f.opts.UseTLS {
		options.TLSConfig = &tls.Config{
			ServerName:         f.opts.Host,
			InsecureSkipVerify: f.opts.InsecureSkipVerify,
		}
	}

	var (
		client *imapclient.Client
		err    error
	)

	if f.opts.UseTLS {
		client, err = imapclient.DialTLS(address, options)
	} else {
		client, err = imapclient.DialInsecure(address, options)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("dial imap %s: %w", address, err)
	}

	if err := client.Login(f.opts.Username, f.opts.Password).Wait(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("imap login failed: %w", err)
	}

	if f.logger != nil {
		f.logger.Debug("imap connection established", "address", address, "user", f.opts.Username, "folder", f.folder(), "tls", f.opts.UseTLS)
	}

	stopClose := context.AfterFunc(ctx, func() {
		_ = client.Close()
	})

	cleanup := func() {
		stopClose()
		if ctx.Err() == nil {
			if err := client.Logout().Wait(); err != nil {
				if f.logger != nil {
					f.logger.Warn("imap logout failed", "err", err)
				}
			}
		}
		if err := client.Close(); err != nil && f.logger != nil {
			f.logger.Debug("imap connection closed", "err", err)
		}
	}

	return client, cleanup, nil
}

func (f *Fetcher) folder() string {
	if f.opts.Folder == "" {
		return "INBOX"
	}
	return f.opts.Folder
}
