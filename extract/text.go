package extract

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/ledongthuc/pdf"
	"github.com/saintfish/chardet"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/net/html/charset"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Normalize strips a leading BOM, converts CRLF and CR line endings to LF and
// trims surrounding whitespace.
func Normalize(text string) string {
	text = strings.TrimPrefix(text, string(utf8BOM))
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	return strings.TrimSpace(text)
}

// DecodeText returns data as UTF-8. Input that is not valid UTF-8 is decoded
// with a detected charset.
func DecodeText(data []byte) (string, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if utf8.Valid(data) {
		return string(data), nil
	}

	result, err := chardet.NewTextDetector().DetectBest(data)
	if err != nil {
		return "", fmt.Errorf("%w: detect charset: %v", ErrBadEncoding, err)
	}
	enc, name := charset.Lookup(result.Charset)
	if enc == nil {
		return "", fmt.Errorf("%w: unknown charset %q", ErrBadEncoding, result.Charset)
	}
	decoded, err := enc.NewDecoder().Bytes(data)
	if err != nil || !utf8.Valid(decoded) {
		return "", fmt.Errorf("%w: decode as %s", ErrBadEncoding, name)
	}
	return string(decoded), nil
}

// PlainText reads text files.
type PlainText struct{}

func (PlainText) ExtractText(_ context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	text, err := DecodeText(data)
	if err != nil {
		return "", err
	}
	return Normalize(text), nil
}

// HTMLText keeps the visible text of an HTML page.
type HTMLText struct{}

func (HTMLText) ExtractText(_ context.Context, path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	r, err := charset.NewReader(file, "text/html")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadEncoding, err)
	}
	return htmlToText(r)
}

var (
	blankRuns  = regexp.MustCompile(`[ \t\f\v]+`)
	whitespace = regexp.MustCompile(`\s+`)
)

// blockElements start and end on their own line.
var blockElements = map[atom.Atom]bool{
	atom.Address: true, atom.Article: true, atom.Aside: true, atom.Blockquote: true,
	atom.Caption: true, atom.Dd: true, atom.Details: true, atom.Div: true,
	atom.Dl: true, atom.Dt: true, atom.Fieldset: true, atom.Figcaption: true,
	atom.Figure: true, atom.Footer: true, atom.Form: true, atom.H1: true,
	atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Header: true, atom.Hr: true, atom.Li: true, atom.Main: true,
	atom.Nav: true, atom.Ol: true, atom.P: true, atom.Pre: true,
	atom.Section: true, atom.Summary: true, atom.Table: true, atom.Tbody: true,
	atom.Td: true, atom.Tfoot: true, atom.Th: true, atom.Thead: true,
	atom.Tr: true, atom.Ul: true,
}

func htmlToText(r io.Reader) (string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return "", fmt.Errorf("%w: parse html: %v", ErrExtraction, err)
	}
	doc.Find("script, style, noscript, template").Remove()

	root := doc.Find("body")
	if root.Length() == 0 {
		root = doc.Selection
	}

	var sb strings.Builder
	for _, n := range root.Nodes {
		writeNodeText(&sb, n, false)
	}

	var lines []string
	for _, line := range strings.Split(sb.String(), "\n") {
		line = strings.TrimSpace(blankRuns.ReplaceAllString(line, " "))
		if line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n"), nil
}

// writeNodeText appends the visible text below n. Whitespace runs collapse to
// one space outside <pre>; block elements and <br> break the line.
func writeNodeText(sb *strings.Builder, n *html.Node, pre bool) {
	switch n.Type {
	case html.TextNode:
		if pre {
			sb.WriteString(n.Data)
		} else {
			sb.WriteString(whitespace.ReplaceAllString(n.Data, " "))
		}
		return
	case html.CommentNode:
		return
	case html.ElementNode:
		if n.DataAtom == atom.Br {
			sb.WriteByte('\n')
			return
		}
		pre = pre || n.DataAtom == atom.Pre || n.DataAtom == atom.Textarea
	}

	block := n.Type == html.ElementNode && blockElements[n.DataAtom]
	if block {
		sb.WriteByte('\n')
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		writeNodeText(sb, c, pre)
	}
	if block {
		sb.WriteByte('\n')
	}
}

// PDFText extracts the text layer of a PDF. Scanned pages without a text
// layer come back empty; those need the Tika OCR path.
type PDFText struct{}

func (PDFText) ExtractText(_ context.Context, path string) (text string, err error) {
	// the pdf library panics on some malformed files
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("%w: pdf: %v", ErrExtraction, r)
		}
	}()

	file, reader, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("%w: pdf: %v", ErrExtraction, err)
	}
	defer file.Close()

	plain, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("%w: pdf: %v", ErrExtraction, err)
	}
	data, err := io.ReadAll(plain)
	if err != nil {
		return "", fmt.Errorf("%w: pdf: %v", ErrExtraction, err)
	}
	return Normalize(string(data)), nil
}
