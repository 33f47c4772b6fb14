package archive

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/dhcgn/docparse/model"
)

// dataFile is a payload of a DigiDoc XML (.ddoc) container.
type dataFile struct {
	Filename    string `xml:"Filename,attr"`
	ContentType string `xml:"ContentType,attr"`
	Content     string `xml:",chardata"`
}

func (u *Unpacker) extractDDoc(ctx context.Context, doc model.Document, dir string, b *budget) ([]model.Document, error) {
	file, err := os.Open(doc.Location)
	if err != nil {
		return nil, fmt.Errorf("open container: %w", err)
	}
	defer file.Close()

	var (
		entries []model.Document
		sawRoot bool
	)
	decoder := xml.NewDecoder(file)
	for {
		tok, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrCorruptArchive, doc.Path, err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch start.Name.Local {
		case "SignedDoc":
			sawRoot = true
		case "DataFile":
			var df dataFile
			if err := decoder.DecodeElement(&df, &start); err != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrCorruptArchive, doc.Path, err)
			}
			payload, err := df.payload()
			if err != nil {
				return nil, fmt.Errorf("%w: %s: data file %q: %v", ErrCorruptArchive, doc.Path, df.Filename, err)
			}
			name, ok := cleanEntryName(path.Base(df.Filename))
			if !ok {
				name = fmt.Sprintf("datafile-%d", len(entries))
			}
			entry, err := u.store(ctx, doc, dir, name, bytes.NewReader(payload), b)
			if err != nil {
				return nil, err
			}
			entries = append(entries, entry)
		}
	}
	if !sawRoot {
		return nil, fmt.Errorf("%w: %s: no SignedDoc element", ErrCorruptArchive, doc.Path)
	}
	return entries, nil
}

func (df dataFile) payload() ([]byte, error) {
	if !strings.EqualFold(df.ContentType, "EMBEDDED_BASE64") {
		return []byte(df.Content), nil
	}
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\n', '\r', '\t':
			return -1
		}
		return r
	}, df.Content)
	return base64.StdEncoding.DecodeString(cleaned)
}
