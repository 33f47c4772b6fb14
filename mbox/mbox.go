// Package mbox iterates the messages of an mbox stream.
package mbox

import (
	"errors"
	"fmt"
	"io"

	mboxlib "github.com/emersion/go-mbox"
)

// Message is the raw RFC 5322 bytes of one message, without the From_ line.
// Parsing is left to the caller.
type Message struct {
	Index int
	Raw   []byte
}

// Read iterates through the messages of r, calling fn for each of them.
// Iteration stops at the first error returned by fn or by the mbox reader.
func Read(r io.Reader, fn func(m *Message) error) error {
	reader := mboxlib.NewReader(r)

	for idx := 0; ; idx++ {
		msgReader, err := reader.NextMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("message %d: %w", idx, err)
		}

		raw, err := io.ReadAll(msgReader)
		if err != nil {
			return fmt.Errorf("message %d read: %w", idx, err)
		}

		if err := fn(&Message{Index: idx, Raw: raw}); err != nil {
			return err
		}
	}
}
