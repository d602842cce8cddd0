// Package extract turns uploaded document bytes into plain text. Plain text, HTML and office
// formats are parsed in process; PDFs and images go through poppler and tesseract.
package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/target/docflow/internal/core"
)

// ErrUnsupportedFormat is returned for suffixes no extractor handles.
var ErrUnsupportedFormat = errors.New("unsupported document format")

// Config names the external tools and OCR options.
type Config struct {
	Pdftotext     string
	Tesseract     string
	TesseractLang string
	TessdataDir   string
}

// Extractor dispatches on the file suffix.
type Extractor struct {
	cfg    Config
	runner Runner
	logger *slog.Logger
}

// Option customises an Extractor.
type Option func(*Extractor)

// WithRunner replaces the command runner. Tests use it to stub external tools.
func WithRunner(r Runner) Option {
	return func(e *Extractor) { e.runner = r }
}

// New builds an Extractor with tool defaults applied.
func New(cfg Config, logger *slog.Logger, opts ...Option) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Pdftotext == "" {
		cfg.Pdftotext = "pdftotext"
	}
	if cfg.Tesseract == "" {
		cfg.Tesseract = "tesseract"
	}
	if cfg.TesseractLang == "" {
		cfg.TesseractLang = "eng"
	}
	logger = logger.With("component", "extract")
	e := &Extractor{cfg: cfg, runner: execRunner{logger: logger}, logger: logger}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract returns the text of the document at path. data holds the same bytes; in-process
// parsers read data and external tools read path.
func (e *Extractor) Extract(ctx context.Context, path string, data []byte) (string, error) {
	start := time.Now()
	ext := strings.ToLower(filepath.Ext(path))

	var (
		text string
		err  error
	)
	switch ext {
	case ".txt", ".csv", ".tsv", ".md", ".json", ".log", ".xml", ".yaml", ".yml":
		text = plainText(data)
	case ".rtf":
		text = rtfText(data)
	case ".html", ".htm":
		text, err = htmlText(data)
	case ".docx":
		text, err = docxText(data)
	case ".pptx":
		text, err = pptxText(data)
	case ".odt":
		text, err = odtText(data)
	case ".xlsx", ".xlsm":
		text, err = xlsxText(data)
	case ".pdf":
		text, err = e.pdfText(ctx, path)
	case ".png", ".jpg", ".jpeg", ".tif", ".tiff", ".bmp", ".gif", ".webp":
		text, err = e.ocr(ctx, path)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	if err != nil {
		return "", fmt.Errorf("extract %s: %w", filepath.Base(path), err)
	}

	e.logger.DebugContext(ctx, "extracted text",
		"ext", ext,
		"chars", len(text),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return text, nil
}

// Supported reports whether Extract handles the suffix.
func Supported(ext string) bool {
	switch strings.ToLower(ext) {
	case ".txt", ".csv", ".tsv", ".md", ".json", ".log", ".xml", ".yaml", ".yml", ".rtf",
		".html", ".htm", ".docx", ".pptx", ".odt", ".xlsx", ".xlsm", ".pdf",
		".png", ".jpg", ".jpeg", ".tif", ".tiff", ".bmp", ".gif", ".webp":
		return true
	}
	return false
}

var _ core.Extractor = (*Extractor)(nil)
