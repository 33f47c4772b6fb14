package extract

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// Tika sends files to an Apache Tika server and returns the plain text it
// produces. With OCR enabled, PDFs are OCRed alongside their text layer.
type Tika struct {
	URL       string
	OCR       bool
	Languages []string
	Client    *http.Client
}

func NewTika(url string, ocr bool, languages []string, timeout time.Duration) *Tika {
	return &Tika{
		URL:       strings.TrimRight(url, "/"),
		OCR:       ocr,
		Languages: languages,
		Client:    &http.Client{Timeout: timeout},
	}
}

func (t *Tika) ExtractText(ctx context.Context, path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, t.URL+"/tika", file)
	if err != nil {
		return "", fmt.Errorf("tika request: %w", err)
	}
	req.ContentLength = info.Size()
	req.Header.Set("Accept", "text/plain; charset=UTF-8")
	if t.OCR {
		req.Header.Set("X-Tika-PDFOcrStrategy", "ocr_and_text")
		if len(t.Languages) > 0 {
			req.Header.Set("X-Tika-OCRLanguage", strings.Join(t.Languages, "+"))
		}
	} else {
		req.Header.Set("X-Tika-OCRskipOcr", "true")
	}

	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("tika: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("tika read: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: tika returned %s", ErrExtraction, resp.Status)
	}

	text, err := DecodeText(body)
	if err != nil {
		return "", err
	}
	return Normalize(text), nil
}
