// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Loam Contributors

// Package ingest turns uploaded files into chunks ready for indexing.
package ingest

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/loam-dev/loam/internal/vectorstore"
	loamerr "github.com/loam-dev/loam/pkg/errors"
)

// Page is one unit of parsed text. Number is 1-based for paged formats and
// 0 when the format has no page structure.
type Page struct {
	Text   string
	Number int
}

// Parser extracts text from one file format.
type Parser interface {
	Parse(path string) ([]Page, error)
}

// SupportedExt reports whether the extension maps to a parser.
func SupportedExt(ext string) bool {
	switch strings.ToLower(ext) {
	case ".pdf", ".md", ".markdown":
		return true
	}
	return false
}

// parserFor picks the parser by file extension.
func parserFor(path string) (Parser, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".pdf":
		return PDFParser{}, nil
	case ".md", ".markdown":
		return MarkdownParser{}, nil
	default:
		return nil, loamerr.Errorf(loamerr.CodeIngestFormatUnsupported, "unsupported file extension %q", ext)
	}
}

// PDFParser extracts plain text per page.
type PDFParser struct{}

var _ Parser = PDFParser{}

func (PDFParser) Parse(path string) ([]Page, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, loamerr.Errorf(loamerr.CodeIngestParseFailure, "opening pdf: %w", err)
	}
	defer func() { _ = f.Close() }()

	pages := make([]Page, 0, reader.NumPage())
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// A single unreadable page should not sink the document.
			continue
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		pages = append(pages, Page{Text: text, Number: i})
	}
	return pages, nil
}

// MarkdownParser reads the file verbatim as one unpaged unit.
type MarkdownParser struct{}

var _ Parser = MarkdownParser{}

func (MarkdownParser) Parse(path string) ([]Page, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, loamerr.Errorf(loamerr.CodeIngestParseFailure, "reading markdown: %w", err)
	}
	return []Page{{Text: string(data)}}, nil
}

// Chunker splits text into overlapping rune windows.
type Chunker struct {
	Size    int
	Overlap int
}

// Split produces chunks of at most Size runes, each starting Size−Overlap
// runes after the previous one. Whitespace-only chunks are dropped.
func (c Chunker) Split(text string) []string {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	step := c.Size - c.Overlap
	if step < 1 {
		step = c.Size
	}

	var chunks []string
	for start := 0; start < len(runes); start += step {
		end := start + c.Size
		if end > len(runes) {
			end = len(runes)
		}
		chunk := strings.TrimSpace(string(runes[start:end]))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		if end == len(runes) {
			break
		}
	}
	return chunks
}

// Pipeline parses and chunks files for indexing.
type Pipeline struct {
	chunker Chunker
}

// NewPipeline builds a pipeline with the configured chunking parameters.
func NewPipeline(size, overlap int) *Pipeline {
	return &Pipeline{chunker: Chunker{Size: size, Overlap: overlap}}
}

// ProcessFile parses the file at path and returns chunks whose metadata
// carries the original (display) name as source, plus the page for paged
// formats.
func (p *Pipeline) ProcessFile(path, originalName string) ([]vectorstore.Chunk, error) {
	parser, err := parserFor(path)
	if err != nil {
		return nil, err
	}

	pages, err := parser.Parse(path)
	if err != nil {
		return nil, err
	}

	var chunks []vectorstore.Chunk
	for _, page := range pages {
		for _, text := range p.chunker.Split(page.Text) {
			metadata := map[string]any{"source": originalName}
			if page.Number > 0 {
				metadata["page"] = page.Number
			}
			chunks = append(chunks, vectorstore.Chunk{Content: text, Metadata: metadata})
		}
	}
	return chunks, nil
}
