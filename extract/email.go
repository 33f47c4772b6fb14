package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"strings"
	"time"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"

	"github.com/dhcgn/docparse/mbox"
	"github.com/dhcgn/docparse/model"
)

// EmailExtractor emits the message itself and hands back its attachments.
type EmailExtractor struct {
	logger *slog.Logger
}

func (e *EmailExtractor) Extract(ctx context.Context, doc model.Document, emit Emit) ([]model.Attachment, error) {
	file, err := os.Open(doc.Location)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	fields, attachments, err := parseMessage(file, e.logger)
	if err != nil {
		return nil, err
	}
	emit(fields, nil)
	return attachments, nil
}

// MboxExtractor emits one record per message of an mbox file. A message that
// cannot be parsed yields a failed unit; the remaining messages still follow.
type MboxExtractor struct {
	logger *slog.Logger
}

var errStopped = errors.New("stopped")

func (m *MboxExtractor) Extract(ctx context.Context, doc model.Document, emit Emit) ([]model.Attachment, error) {
	file, err := os.Open(doc.Location)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var attachments []model.Attachment
	err = mbox.Read(file, func(msg *mbox.Message) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		fields, atts, err := parseMessage(bytes.NewReader(msg.Raw), m.logger)
		if err != nil {
			if !emit(model.Fields{"message_index": msg.Index}, fmt.Errorf("message %d: %w", msg.Index, err)) {
				return errStopped
			}
			return nil
		}
		fields["message_index"] = msg.Index
		if !emit(fields, nil) {
			return errStopped
		}
		attachments = append(attachments, atts...)
		return nil
	})
	if errors.Is(err, errStopped) {
		return attachments, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("%w: mbox: %w", ErrExtraction, err)
	}
	return attachments, nil
}

func parseMessage(r io.Reader, logger *slog.Logger) (model.Fields, []model.Attachment, error) {
	mr, err := mail.CreateReader(r)
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, nil, fmt.Errorf("%w: read message: %v", ErrExtraction, err)
	}
	if mr == nil {
		return nil, nil, fmt.Errorf("%w: read message: %v", ErrExtraction, err)
	}
	defer mr.Close()

	header := mr.Header
	id, _ := header.MessageID()
	if id == "" {
		id = uuid.NewString()
	}

	fields := model.Fields{"message_id": id}
	if subject, err := header.Subject(); err == nil && subject != "" {
		fields["subject"] = subject
	}
	for _, key := range []string{"From", "To", "Cc"} {
		if value := addressField(&header, key); value != "" {
			fields[strings.ToLower(key)] = value
		}
	}
	if date, err := header.Date(); err == nil && !date.IsZero() {
		fields["date"] = date.UTC().Format(time.RFC3339)
	}

	var (
		plain       []string
		html        []string
		attachments []model.Attachment
	)
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if message.IsUnknownCharset(err) {
				if logger != nil {
					logger.Debug("unknown charset in message part", "messageID", id, "err", err)
				}
				continue
			}
			return nil, nil, fmt.Errorf("%w: read part: %v", ErrExtraction, err)
		}

		body, err := io.ReadAll(part.Body)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: read part body: %v", ErrExtraction, err)
		}

		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			contentType, _, _ := h.ContentType()
			switch contentType {
			case "text/plain", "":
				plain = append(plain, string(body))
			case "text/html":
				html = append(html, string(body))
			default:
				attachments = append(attachments, model.Attachment{
					Filename:    attachmentName("", contentType, len(attachments)),
					ContentType: contentType,
					ParentID:    id,
					Content:     body,
				})
			}
		case *mail.AttachmentHeader:
			filename, _ := h.Filename()
			contentType, _, _ := h.ContentType()
			attachments = append(attachments, model.Attachment{
				Filename:    attachmentName(filename, contentType, len(attachments)),
				ContentType: contentType,
				ParentID:    id,
				Content:     body,
			})
		}
	}

	text := Normalize(strings.Join(plain, "\n\n"))
	if len(html) > 0 {
		joined := strings.Join(html, "\n")
		fields["html"] = joined
		if text == "" {
			converted, err := htmlToText(strings.NewReader(joined))
			if err == nil {
				text = converted
			}
		}
	}
	fields["text"] = text
	if len(attachments) > 0 {
		names := make([]string, 0, len(attachments))
		for _, a := range attachments {
			names = append(names, a.Filename)
		}
		fields["attachments"] = names
	}
	return fields, attachments, nil
}

func addressField(header *mail.Header, key string) string {
	list, err := header.AddressList(key)
	if err != nil || len(list) == 0 {
		return strings.TrimSpace(header.Get(key))
	}
	parts := make([]string, 0, len(list))
	for _, addr := range list {
		parts = append(parts, addr.String())
	}
	return strings.Join(parts, ", ")
}

func attachmentName(filename, contentType string, index int) string {
	if filename != "" {
		return filename
	}
	ext := ".bin"
	if contentType == "message/rfc822" {
		ext = ".eml"
	} else if exts, err := mime.ExtensionsByType(contentType); err == nil && len(exts) > 0 {
		ext = exts[0]
	}
	return fmt.Sprintf("attachment-%d%s", index+1, ext)
}
