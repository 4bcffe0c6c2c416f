// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleReport = `# LLM Releases, November 2025

> 🔍 **Executing Discovery Search:** LLMs released November 2025

Several *notable* models launched this month.

## Highlights

- **Model A**: open weights, 30B parameters
- Model B – multilingual, “strong” on 日本語 benchmarks
* Model C: café naïve résumé

` + "```\ncode block ✓\n```\n"

func TestPDFExporter_Signature(t *testing.T) {
	e := NewPDFExporter(nil)
	data, err := e.Export(sampleReport)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("%PDF-")))
	assert.Equal(t, ".pdf", e.FileExtension())
	assert.Equal(t, "application/pdf", e.MimeType())
}

func TestPDFExporter_EmptyText(t *testing.T) {
	data, err := NewPDFExporter(nil).Export("")
	require.NoError(t, err)
	assert.NotEmpty(t, data)
	assert.True(t, bytes.HasPrefix(data, []byte("%PDF-")))
}

func TestPDFExporter_NonASCIINeverFails(t *testing.T) {
	inputs := []string{
		"emoji only 🚀🔥💡",
		"中文 русский العربية עברית",
		"combining é and é",
		"control \x00\x07 chars \t tabbed",
		"invalid utf8 \xff\xfe",
		"**unterminated bold",
		strings.Repeat("averyveryverylongwordwithoutanyspaces", 20),
		strings.Repeat("line\n", 400),
	}
	e := NewPDFExporter(nil)
	for _, in := range inputs {
		data, err := e.Export(in)
		require.NoError(t, err, "input %q", in)
		assert.True(t, bytes.HasPrefix(data, []byte("%PDF-")))
	}
}

func TestPDFExporter_HeaderAndFooter(t *testing.T) {
	e := NewPDFExporter(nil)
	e.compress = false
	data, err := e.Export(strings.Repeat("paragraph text\n", 200))
	require.NoError(t, err)

	assert.Contains(t, string(data), "(Deep Research Report)")
	assert.Contains(t, string(data), "(Page 1)")
	assert.Contains(t, string(data), "(Page 2)")
}

func TestPDFExporter_MissingOrInvalidFontFallsBack(t *testing.T) {
	bogus := filepath.Join(t.TempDir(), "bogus.ttf")
	require.NoError(t, os.WriteFile(bogus, []byte("definitely not a font file"), 0600))

	for _, path := range []string{filepath.Join(t.TempDir(), "missing.ttf"), bogus} {
		e := NewPDFExporter(&Options{FontPath: path})
		e.compress = false
		data, err := e.Export("café")
		require.NoError(t, err)
		assert.Contains(t, string(data), "/Helvetica")
	}
}

const testFont = "testdata/DejaVuSansCondensed.ttf"

func TestPDFExporter_UTF8Font(t *testing.T) {
	e := NewPDFExporter(&Options{FontPath: testFont})
	e.compress = false
	data, err := e.Export(sampleReport)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("%PDF-")))
	assert.NotContains(t, string(data), "/Helvetica", "the TTF should be used, not the core font")
}

func TestPDFExporter_UTF8FontOutsideBMP(t *testing.T) {
	inputs := []string{
		"> 🔍 **Executing Fact Search:** query",
		"*🚀 launch* and **💡 idea**",
		"- 𝔘𝔫𝔦𝔠𝔬𝔡𝔢 bullet",
		"# 📊 Heading",
		"```\n🔥 in code\n```",
		"日本語 ✓ 中文 \xff",
	}
	e := NewPDFExporter(&Options{FontPath: testFont})
	for _, in := range inputs {
		var data []byte
		var err error
		require.NotPanics(t, func() { data, err = e.Export(in) }, "input %q", in)
		require.NoError(t, err, "input %q", in)
		assert.True(t, bytes.HasPrefix(data, []byte("%PDF-")))
	}
}

func TestToFontRunes(t *testing.T) {
	assert.Equal(t, "? search", toFontRunes("🔍 search", nil))
	assert.Equal(t, "a b", toFontRunes("a\tb", nil))
	assert.Equal(t, "ab", toFontRunes("a\x00b", nil))
	assert.Equal(t, "café", toFontRunes("cafe\u0301", nil), "NFC composes first")
	assert.Equal(t, "日本", toFontRunes("日本", nil), "BMP runes pass without a glyph table")

	glyphs := map[uint16]uint16{'a': 1, 'b': 2}
	assert.Equal(t, "ab ??", toFontRunes("ab 日c", glyphs))
}

func TestToWinAnsi(t *testing.T) {
	assert.Equal(t, "caf\xe9", toWinAnsi("café"))
	assert.Equal(t, "caf\xe9", toWinAnsi("café"), "NFC composes before encoding")
	assert.Equal(t, "\x93q\x94 \x96 \x95", toWinAnsi("“q” – •"))
	assert.Equal(t, "?? ?", toWinAnsi("日本 🚀"))
	assert.Equal(t, "a    b", toWinAnsi("a\tb"))
	assert.Equal(t, "ab", toWinAnsi("a\x00b"))
}

func TestMarkdownExporter(t *testing.T) {
	e := NewMarkdownExporter(&Options{IncludeMetadata: true, Model: "alibaba/tongyi-deepresearch-30b-a3b:free"})
	e.now = func() time.Time { return time.Date(2025, 11, 20, 9, 30, 0, 0, time.UTC) }

	data, err := e.Export(sampleReport)
	require.NoError(t, err)

	out := string(data)
	assert.True(t, strings.HasPrefix(out, "---\ntitle: LLM Releases, November 2025\n"), out)
	assert.Contains(t, out, "model: \"alibaba/tongyi-deepresearch-30b-a3b:free\"\n")
	assert.Contains(t, out, "generated: 2025-11-20T09:30:00Z\n")
	assert.Contains(t, out, "---\n\n# LLM Releases")
	assert.Equal(t, ".md", e.FileExtension())
}

func TestMarkdownExporter_NoMetadata(t *testing.T) {
	data, err := NewMarkdownExporter(&Options{}).Export("plain\n\n")
	require.NoError(t, err)
	assert.Equal(t, "plain\n", string(data))
}

func TestJSONExporter(t *testing.T) {
	e := NewJSONExporter(&Options{Model: "m"})
	data, err := e.Export("# Title\nbody")
	require.NoError(t, err)

	var r Report
	require.NoError(t, json.Unmarshal(data, &r))
	assert.Equal(t, "Title", r.Title)
	assert.Equal(t, "m", r.Model)
	assert.Equal(t, "# Title\nbody", r.Content)
}

func TestForFormat(t *testing.T) {
	for format, ext := range map[string]string{"pdf": ".pdf", "": ".pdf", ".md": ".md", "markdown": ".md", "JSON": ".json"} {
		e, err := ForFormat(format, nil)
		require.NoError(t, err, format)
		assert.Equal(t, ext, e.FileExtension())
	}
	_, err := ForFormat("docx", nil)
	assert.Error(t, err)
}

func TestExportToFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "reports")
	opts := &Options{OutputDir: dir}

	path, err := ExportToFile("# Rust vs Go: a/b?\nbody", NewPDFExporter(opts), opts)
	require.NoError(t, err)

	assert.Equal(t, dir, filepath.Dir(path))
	base := filepath.Base(path)
	assert.True(t, strings.HasPrefix(base, "research_Rust_vs_Go-_a-b-_"), base)
	assert.True(t, strings.HasSuffix(base, ".pdf"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("%PDF-")))
}

func TestWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deep_research_report.md")

	got, err := WriteFile(path, "# Title\nbody", NewMarkdownExporter(&Options{}))
	require.NoError(t, err)
	assert.Equal(t, path, got)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "# Title\nbody", strings.TrimSpace(string(data)))
}

func TestTitle(t *testing.T) {
	assert.Equal(t, DefaultTitle, Title(""))
	assert.Equal(t, DefaultTitle, Title("no heading here"))
	assert.Equal(t, "Findings", Title("intro\n## **Findings**\n# Later"))
	assert.Equal(t, DefaultTitle, Title("#\n"))
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "a-b-c_d", sanitizeFilename("a/b:c d"))
	assert.Equal(t, "report", sanitizeFilename(""))
	assert.Len(t, []rune(sanitizeFilename(strings.Repeat("x", 80))), 50)
}
