// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"bytes"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/go-pdf/fpdf"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/unicode/norm"
)

// =============================================================================
// PDF EXPORTER
// =============================================================================

const (
	pdfHeaderText  = "Deep Research Report"
	pdfBodySize    = 11.0
	pdfLineHeight  = 6.0
	pdfBulletShift = 5.0
	coreFamily     = "Helvetica"
	codeFamily     = "Courier"
	utf8Family     = "ReportSans"
)

// PDFExporter renders reports as A4 PDF documents.
//
// Light markdown is honoured: # headings, **bold**, *italic*, "- " bullets,
// "> " quotes and fenced code. With a loadable TTF font the text is written
// as UTF-8; otherwise the built-in Helvetica is used and runes outside
// Windows-1252 print as '?'.
type PDFExporter struct {
	options  *Options
	now      func() time.Time
	compress bool
}

// NewPDFExporter creates a new PDF exporter.
func NewPDFExporter(opts *Options) *PDFExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &PDFExporter{options: opts, now: time.Now, compress: true}
}

// FileExtension returns the file extension for PDF.
func (e *PDFExporter) FileExtension() string {
	return ".pdf"
}

// MimeType returns the MIME type for PDF.
func (e *PDFExporter) MimeType() string {
	return "application/pdf"
}

// pdfWriter carries the font mode for one render.
type pdfWriter struct {
	pdf    *fpdf.Fpdf
	family string
	utf8   bool
	// glyphs maps BMP runes to glyph ids of the loaded TTF; nil when the
	// cmap could not be read.
	glyphs map[uint16]uint16
}

// Export renders text to PDF bytes. A failure while writing with the
// configured font retries once on the core font.
func (e *PDFExporter) Export(text string) ([]byte, error) {
	if e.options.FontPath != "" {
		data, err := e.render(text, e.options.FontPath)
		if err == nil {
			return data, nil
		}
	}
	return e.render(text, "")
}

func (e *PDFExporter) render(text, fontPath string) (data []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			data, err = nil, fmt.Errorf("render pdf: %v", r)
		}
	}()

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetCompression(e.compress)
	pdf.SetCreationDate(e.now())
	pdf.SetAutoPageBreak(true, 20)

	w := &pdfWriter{pdf: pdf, family: coreFamily}
	if fontPath != "" {
		w.loadFont(fontPath)
	}

	pdf.SetTitle(w.text(Title(text)), w.utf8)
	pdf.SetCreator("deepresearch", false)
	if e.options.Model != "" {
		pdf.SetSubject(w.text(e.options.Model), w.utf8)
	}

	pdf.SetHeaderFunc(func() {
		pdf.SetFont(w.family, "B", 12)
		pdf.CellFormat(0, 10, pdfHeaderText, "", 1, "C", false, 0, "")
		pdf.Ln(4)
	})
	pdf.SetFooterFunc(func() {
		pdf.SetY(-15)
		pdf.SetFont(w.family, "I", 8)
		pdf.CellFormat(0, 10, fmt.Sprintf("Page %d", pdf.PageNo()), "", 0, "C", false, 0, "")
	})

	pdf.AddPage()
	pdf.SetFont(w.family, "", pdfBodySize)
	w.body(text)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

// loadFont registers the TTF at path for every style. Any failure leaves
// the writer on the core font.
func (w *pdfWriter) loadFont(path string) {
	data, err := os.ReadFile(path)
	if err != nil || !isTrueType(data) {
		return
	}
	for _, style := range []string{"", "B", "I", "BI"} {
		w.pdf.AddUTF8FontFromBytes(utf8Family, style, data)
	}
	if w.pdf.Err() {
		w.pdf.ClearError()
		return
	}
	w.family = utf8Family
	w.utf8 = true
	if ttf, err := fpdf.TtfParse(path); err == nil && len(ttf.Chars) > 0 {
		w.glyphs = ttf.Chars
	}
}

// isTrueType checks the sfnt version tag.
func isTrueType(data []byte) bool {
	if len(data) < 12 {
		return false
	}
	tag := string(data[:4])
	return tag == "\x00\x01\x00\x00" || tag == "true"
}

// text prepares s for the active font.
func (w *pdfWriter) text(s string) string {
	if w.utf8 {
		return toFontRunes(s, w.glyphs)
	}
	return toWinAnsi(s)
}

// toWinAnsi normalizes s to NFC and encodes it as Windows-1252, the byte
// encoding of the core PDF fonts. Unmappable runes become '?'.
func toWinAnsi(s string) string {
	s = norm.NFC.String(s)
	out := make([]byte, 0, len(s))
	for _, r := range s {
		if r == '\t' {
			out = append(out, ' ', ' ', ' ', ' ')
			continue
		}
		if unicode.IsControl(r) {
			continue
		}
		b, ok := charmap.Windows1252.EncodeRune(r)
		if !ok {
			b = '?'
		}
		out = append(out, b)
	}
	return string(out)
}

// toFontRunes readies s for the UTF-8 font writer, which only indexes the
// Basic Multilingual Plane. Control runes are dropped; runes above U+FFFF,
// and runes missing from glyphs when it is non-nil, become '?'.
func toFontRunes(s string, glyphs map[uint16]uint16) string {
	s = norm.NFC.String(s)
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\t':
			return ' '
		case unicode.IsControl(r) || r == unicode.ReplacementChar:
			return -1
		case r > 0xFFFF || (r >= 0xD800 && r <= 0xDFFF):
			return '?'
		case glyphs != nil && r != ' ':
			if _, ok := glyphs[uint16(r)]; !ok {
				return '?'
			}
		}
		return r
	}, s)
}

// =============================================================================
// BODY LAYOUT
// =============================================================================

var emphasisRe = regexp.MustCompile(`\*\*[^*]+\*\*|\*[^*\s][^*]*\*`)

func (w *pdfWriter) body(text string) {
	pdf := w.pdf
	left, _, _, _ := pdf.GetMargins()
	inCode := false

	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, "```") {
			inCode = !inCode
			continue
		}
		if inCode {
			w.code(line)
			continue
		}

		switch {
		case trimmed == "":
			pdf.Ln(pdfLineHeight / 2)

		case strings.HasPrefix(trimmed, "#"):
			level := len(trimmed) - len(strings.TrimLeft(trimmed, "#"))
			size := map[int]float64{1: 16, 2: 14}[level]
			if size == 0 {
				size = 12
			}
			heading := strings.Trim(strings.TrimSpace(strings.TrimLeft(trimmed, "#")), "*")
			pdf.Ln(2)
			pdf.SetFont(w.family, "B", size)
			pdf.MultiCell(0, size*0.5, w.text(heading), "", "L", false)
			pdf.Ln(1)
			pdf.SetFont(w.family, "", pdfBodySize)

		case strings.HasPrefix(trimmed, "- ") || strings.HasPrefix(trimmed, "* "):
			pdf.SetLeftMargin(left + pdfBulletShift)
			pdf.SetX(left + pdfBulletShift)
			w.inline("• " + strings.TrimSpace(trimmed[2:]))
			pdf.Ln(pdfLineHeight)
			pdf.SetLeftMargin(left)

		case strings.HasPrefix(trimmed, ">"):
			pdf.SetTextColor(90, 90, 90)
			w.inline(strings.TrimSpace(strings.TrimPrefix(trimmed, ">")))
			pdf.Ln(pdfLineHeight)
			pdf.SetTextColor(0, 0, 0)

		default:
			w.inline(trimmed)
			pdf.Ln(pdfLineHeight)
		}
	}
}

// inline writes one paragraph, switching style for **bold** and *italic*.
func (w *pdfWriter) inline(s string) {
	pdf := w.pdf
	pos := 0
	for _, loc := range emphasisRe.FindAllStringIndex(s, -1) {
		if loc[0] > pos {
			pdf.SetFont(w.family, "", pdfBodySize)
			pdf.Write(pdfLineHeight, w.text(s[pos:loc[0]]))
		}
		span := s[loc[0]:loc[1]]
		if strings.HasPrefix(span, "**") {
			pdf.SetFont(w.family, "B", pdfBodySize)
			span = span[2 : len(span)-2]
		} else {
			pdf.SetFont(w.family, "I", pdfBodySize)
			span = span[1 : len(span)-1]
		}
		pdf.Write(pdfLineHeight, w.text(span))
		pos = loc[1]
	}
	if pos < len(s) {
		pdf.SetFont(w.family, "", pdfBodySize)
		pdf.Write(pdfLineHeight, w.text(s[pos:]))
	}
	pdf.SetFont(w.family, "", pdfBodySize)
}

func (w *pdfWriter) code(line string) {
	pdf := w.pdf
	if w.utf8 {
		pdf.SetFont(w.family, "", 9)
	} else {
		pdf.SetFont(codeFamily, "", 9)
	}
	pdf.MultiCell(0, 4.5, w.text(line), "", "L", false)
	pdf.SetFont(w.family, "", pdfBodySize)
}
