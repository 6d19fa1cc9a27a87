package extract

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"io"
	"net/http"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/xuri/excelize/v2"

	"github.com/xxxsen/docchat/internal/ai"
	appErr "github.com/xxxsen/docchat/internal/pkg/errors"
)

var (
	ErrUnsupported = appErr.ErrUnsupportedFile
	ErrEmpty       = appErr.ErrEmptyDocument
)

type Kind string

const (
	KindPDF      Kind = "pdf"
	KindDOCX     Kind = "docx"
	KindXLSX     Kind = "xlsx"
	KindMarkdown Kind = "markdown"
	KindText     Kind = "text"
	KindImage    Kind = "image"
)

const maxSheetCells = 20000

var extensionKinds = map[string]Kind{
	".pdf":      KindPDF,
	".docx":     KindDOCX,
	".xlsx":     KindXLSX,
	".md":       KindMarkdown,
	".markdown": KindMarkdown,
	".txt":      KindText,
	".csv":      KindText,
	".json":     KindText,
	".png":      KindImage,
	".jpg":      KindImage,
	".jpeg":     KindImage,
	".webp":     KindImage,
}

var contentTypeKinds = map[string]Kind{
	"application/pdf": KindPDF,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": KindDOCX,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":       KindXLSX,
	"text/markdown":    KindMarkdown,
	"text/x-markdown":  KindMarkdown,
	"text/plain":       KindText,
	"text/csv":         KindText,
	"application/json": KindText,
	"image/png":        KindImage,
	"image/jpeg":       KindImage,
	"image/webp":       KindImage,
}

type Result struct {
	Kind     Kind
	MimeType string
	Text     string
}

// Markdown reports whether the text keeps markdown structure worth chunking on.
func (r *Result) Markdown() bool {
	return r.Kind == KindMarkdown
}

type Extractor struct {
	ocr ai.IOCR
}

// New builds an extractor. A nil ocr disables image uploads.
func New(ocr ai.IOCR) *Extractor {
	return &Extractor{ocr: ocr}
}

// Detect resolves a document kind from the file extension, the declared
// content type and finally the sniffed bytes.
func Detect(name, contentType string, data []byte) (Kind, string, error) {
	if kind, ok := extensionKinds[strings.ToLower(filepath.Ext(name))]; ok {
		return kind, mimeFor(kind, name, contentType, data), nil
	}
	declared := strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	if kind, ok := contentTypeKinds[declared]; ok {
		return kind, declared, nil
	}
	sniffed := strings.Split(http.DetectContentType(data), ";")[0]
	if kind, ok := contentTypeKinds[sniffed]; ok {
		return kind, sniffed, nil
	}
	return "", "", fmt.Errorf("%w: %s", ErrUnsupported, name)
}

func mimeFor(kind Kind, name, contentType string, data []byte) string {
	if kind != KindImage {
		for ct, k := range contentTypeKinds {
			if k == kind && strings.HasPrefix(contentType, ct) {
				return ct
			}
		}
		return contentType
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	}
	return http.DetectContentType(data)
}

func (e *Extractor) Extract(ctx context.Context, name, contentType string, data []byte) (*Result, error) {
	kind, mimeType, err := Detect(name, contentType, data)
	if err != nil {
		return nil, err
	}
	var text string
	switch kind {
	case KindPDF:
		text, err = extractPDF(data)
	case KindDOCX:
		text, err = extractDOCX(data)
	case KindXLSX:
		text, err = extractXLSX(ctx, data)
	case KindMarkdown, KindText:
		text, err = extractText(data)
	case KindImage:
		if e.ocr == nil {
			return nil, fmt.Errorf("%w: image ocr not configured", ErrUnsupported)
		}
		text, err = e.ocr.ExtractText(ctx, mimeType, data)
	}
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", kind, err)
	}
	text = normalizeWhitespace(text)
	if text == "" {
		return nil, ErrEmpty
	}
	return &Result{Kind: kind, MimeType: mimeType, Text: text}, nil
}

func extractPDF(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}
	var parts []string
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		txt, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		if strings.TrimSpace(txt) != "" {
			parts = append(parts, txt)
		}
	}
	if len(parts) > 0 {
		return strings.Join(parts, "\n\n"), nil
	}
	plain, err := reader.GetPlainText()
	if err != nil {
		return "", err
	}
	out, err := io.ReadAll(plain)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func extractDOCX(data []byte) (string, error) {
	doc, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}
	defer func() { _ = doc.Close() }()
	return docxXMLToText(doc.Editable().GetContent()), nil
}

var (
	docxParagraphEnd = regexp.MustCompile(`</w:p>`)
	docxTab          = regexp.MustCompile(`<w:tab/>`)
	docxBreak        = regexp.MustCompile(`<w:br[^>]*/>`)
	xmlTag           = regexp.MustCompile(`<[^>]+>`)
)

// docxXMLToText flattens WordprocessingML into paragraphs.
func docxXMLToText(content string) string {
	content = docxParagraphEnd.ReplaceAllString(content, "\n\n")
	content = docxTab.ReplaceAllString(content, "\t")
	content = docxBreak.ReplaceAllString(content, "\n")
	content = xmlTag.ReplaceAllString(content, "")
	return html.UnescapeString(content)
}

func extractXLSX(ctx context.Context, data []byte) (string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	var parts []string
	cells := 0
	for _, sheet := range f.GetSheetList() {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", fmt.Errorf("read sheet %s: %w", sheet, err)
		}
		var sb strings.Builder
		sb.WriteString("Sheet: " + sheet + "\n")
		for _, row := range rows {
			values := make([]string, 0, len(row))
			for _, cell := range row {
				values = append(values, strings.TrimSpace(cell))
			}
			line := strings.TrimRight(strings.Join(values, " | "), " |")
			if line == "" {
				continue
			}
			sb.WriteString(line + "\n")
			cells += len(row)
			if cells >= maxSheetCells {
				break
			}
		}
		parts = append(parts, strings.TrimSpace(sb.String()))
		if cells >= maxSheetCells {
			break
		}
	}
	return strings.Join(parts, "\n\n"), nil
}

func extractText(data []byte) (string, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if !utf8.Valid(data) {
		return "", fmt.Errorf("%w: text is not valid utf-8", ErrUnsupported)
	}
	return string(data), nil
}

var (
	trailingSpace = regexp.MustCompile(`[ \t]+\n`)
	blankRuns     = regexp.MustCompile(`\n{3,}`)
)

func normalizeWhitespace(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ToValidUTF8(text, "")
	text = strings.ReplaceAll(text, "\x00", "")
	text = trailingSpace.ReplaceAllString(text, "\n")
	text = blankRuns.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
