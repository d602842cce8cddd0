package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// maxZipEntry bounds how much of one archive member is inflated.
const maxZipEntry = 64 << 20

// xmlTextSpec names the elements that carry text and the ones that end a line.
type xmlTextSpec struct {
	text  map[string]bool
	lines map[string]bool
	tab   map[string]bool
}

var (
	wordSpec = xmlTextSpec{
		text:  map[string]bool{"t": true},
		lines: map[string]bool{"p": true, "br": true, "cr": true},
		tab:   map[string]bool{"tab": true},
	}
	slideSpec = xmlTextSpec{
		text:  map[string]bool{"t": true},
		lines: map[string]bool{"p": true, "br": true},
	}
	odfSpec = xmlTextSpec{
		lines: map[string]bool{"p": true, "h": true, "line-break": true},
		tab:   map[string]bool{"tab": true},
	}
)

func docxText(data []byte) (string, error) {
	zr, err := openZip(data)
	if err != nil {
		return "", err
	}
	return zipMembersText(zr, []string{"word/document.xml"}, wordSpec, false)
}

func pptxText(data []byte) (string, error) {
	zr, err := openZip(data)
	if err != nil {
		return "", err
	}
	var slides []string
	for _, f := range zr.File {
		if strings.HasPrefix(f.Name, "ppt/slides/slide") && strings.HasSuffix(f.Name, ".xml") {
			slides = append(slides, f.Name)
		}
	}
	sort.Slice(slides, func(i, j int) bool { return slideNumber(slides[i]) < slideNumber(slides[j]) })
	return zipMembersText(zr, slides, slideSpec, false)
}

// odtText reads content.xml. ODF paragraphs hold character data directly, so every
// character run inside the body counts.
func odtText(data []byte) (string, error) {
	zr, err := openZip(data)
	if err != nil {
		return "", err
	}
	return zipMembersText(zr, []string{"content.xml"}, odfSpec, true)
}

func slideNumber(name string) int {
	n, _ := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, "ppt/slides/slide"), ".xml"))
	return n
}

func openZip(data []byte) (*zip.Reader, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open office archive: %w", err)
	}
	return zr, nil
}

func zipMembersText(zr *zip.Reader, names []string, spec xmlTextSpec, allText bool) (string, error) {
	if len(names) == 0 {
		return "", errors.New("office archive has no text parts")
	}
	var b strings.Builder
	for _, name := range names {
		f, err := zr.Open(name)
		if err != nil {
			return "", fmt.Errorf("open %s: %w", name, err)
		}
		err = xmlText(io.LimitReader(f, maxZipEntry), spec, allText, &b)
		_ = f.Close()
		if err != nil {
			return "", fmt.Errorf("read %s: %w", name, err)
		}
		b.WriteByte('\n')
	}
	return collapseBlankLines(b.String()), nil
}

// xmlText streams tokens and writes character data found inside text elements.
func xmlText(r io.Reader, spec xmlTextSpec, allText bool, b *strings.Builder) error {
	dec := xml.NewDecoder(r)
	inText := 0
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch {
			case spec.text[t.Name.Local]:
				inText++
			case spec.tab[t.Name.Local]:
				b.WriteByte('\t')
			case spec.lines[t.Name.Local] && t.Name.Local != "p" && t.Name.Local != "h":
				b.WriteByte('\n')
			}
		case xml.EndElement:
			if spec.text[t.Name.Local] && inText > 0 {
				inText--
			}
			if t.Name.Local == "p" || t.Name.Local == "h" {
				b.WriteByte('\n')
			}
		case xml.CharData:
			if inText > 0 || allText {
				b.Write(t)
			}
		}
	}
}

// xlsxText renders every sheet as tab separated rows under a "# <sheet>" heading.
func xlsxText(data []byte) (string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("open workbook: %w", err)
	}
	defer func() { _ = f.Close() }()

	var b strings.Builder
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", fmt.Errorf("read sheet %q: %w", sheet, err)
		}
		if len(rows) == 0 {
			continue
		}
		b.WriteString("# " + sheet + "\n")
		for _, row := range rows {
			line := strings.TrimRight(strings.Join(row, "\t"), "\t")
			if line != "" {
				b.WriteString(line + "\n")
			}
		}
	}
	return strings.TrimSpace(b.String()), nil
}
