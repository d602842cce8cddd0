package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// plainText strips a BOM and replaces invalid UTF-8 sequences.
func plainText(data []byte) string {
	data = bytes.TrimPrefix(data, utf8BOM)
	if utf8.Valid(data) {
		return string(data)
	}
	return strings.ToValidUTF8(string(data), "�")
}

// skippedElements never contribute visible text.
var skippedElements = map[string]bool{
	"script": true, "style": true, "noscript": true, "head": true, "template": true,
}

// blockElements end a line.
var blockElements = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "tr": true, "h1": true, "h2": true,
	"h3": true, "h4": true, "h5": true, "h6": true, "table": true, "section": true, "article": true,
}

// htmlText walks the token stream and keeps visible text.
func htmlText(data []byte) (string, error) {
	z := html.NewTokenizer(bytes.NewReader(data))
	var b strings.Builder
	skip := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			if err := z.Err(); err != nil && !errors.Is(err, io.EOF) {
				return "", fmt.Errorf("parse html: %w", err)
			}
			return collapseBlankLines(b.String()), nil
		case html.StartTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if skippedElements[tag] {
				skip++
			}
			if blockElements[tag] {
				b.WriteByte('\n')
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if skippedElements[tag] && skip > 0 {
				skip--
			}
			if blockElements[tag] {
				b.WriteByte('\n')
			}
		case html.SelfClosingTagToken:
			name, _ := z.TagName()
			if blockElements[string(name)] {
				b.WriteByte('\n')
			}
		case html.TextToken:
			if skip == 0 {
				b.WriteString(strings.Join(strings.Fields(string(z.Text())), " "))
				b.WriteByte(' ')
			}
		}
	}
}

// collapseBlankLines trims every line and drops empty ones.
func collapseBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, l := range lines {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}

// rtfText drops control words, groups that hold destinations, and braces.
func rtfText(data []byte) string {
	s := plainText(data)
	var b strings.Builder
	depth := 0
	skipDepth := -1
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '{':
			depth++
			if i+2 < len(s) && s[i+1] == '\\' && s[i+2] == '*' && skipDepth < 0 {
				skipDepth = depth
			}
		case '}':
			if depth == skipDepth {
				skipDepth = -1
			}
			depth--
		case '\\':
			j := i + 1
			if j < len(s) && (s[j] == '\\' || s[j] == '{' || s[j] == '}') {
				if skipDepth < 0 {
					b.WriteByte(s[j])
				}
				i = j
				continue
			}
			if j+2 < len(s) && s[j] == '\'' {
				// \'hh is a Windows-1252 byte; Latin-1 covers the common range.
				if v, err := strconv.ParseUint(s[j+1:j+3], 16, 8); err == nil && skipDepth < 0 {
					b.WriteRune(rune(v))
				}
				i = j + 2
				continue
			}
			for j < len(s) && isASCIILetter(s[j]) {
				j++
			}
			word := s[i+1 : j]
			for j < len(s) && (s[j] == '-' || (s[j] >= '0' && s[j] <= '9')) {
				j++
			}
			if j < len(s) && s[j] == ' ' {
				j++
			}
			if skipDepth < 0 && (word == "par" || word == "line") {
				b.WriteByte('\n')
			}
			if skipDepth < 0 && (word == "fonttbl" || word == "colortbl" || word == "stylesheet" || word == "info") {
				skipDepth = depth
			}
			i = j - 1
		case '\r', '\n':
		default:
			if skipDepth < 0 {
				b.WriteByte(c)
			}
		}
	}
	return collapseBlankLines(b.String())
}

func isASCIILetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func (e *Extractor) pdfText(ctx context.Context, path string) (string, error) {
	// pdftotext -layout -enc UTF-8 -eol unix <path> -
	out, errb, err := e.runner.Run(ctx, e.cfg.Pdftotext, "-layout", "-enc", "UTF-8", "-eol", "unix", path, "-")
	if err != nil {
		return "", fmt.Errorf("pdftotext: %w: %s", err, truncate(string(errb), 512))
	}
	return strings.ReplaceAll(string(out), "\f", "\n"), nil
}

func (e *Extractor) ocr(ctx context.Context, path string) (string, error) {
	args := []string{path, "stdout", "-l", e.cfg.TesseractLang}
	if e.cfg.TessdataDir != "" {
		args = append(args, "--tessdata-dir", e.cfg.TessdataDir)
	}
	out, errb, err := e.runner.Run(ctx, e.cfg.Tesseract, args...)
	if err != nil {
		return "", fmt.Errorf("tesseract: %w: %s", err, truncate(string(errb), 512))
	}
	return string(out), nil
}
