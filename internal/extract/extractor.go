// Package extract turns stored uploads into plain text pages.
package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino-ext/components/document/loader/file"
	"github.com/cloudwego/eino/components/document"
	"github.com/cloudwego/eino/components/document/parser"

	"studyhub/internal/models"
)

const pageMetaKey = "page"

// ErrNoText is returned when a file parses but holds no readable text.
var ErrNoText = errors.New("file has no readable text content")

// Extractor loads a file from disk and returns its text, one entry per page
// for paginated formats and a single entry otherwise. PDFs go through
// MuPDF; every other extension is read as plain text.
type Extractor struct {
	loader *file.FileLoader
}

func New(ctx context.Context) (*Extractor, error) {
	extParser, err := parser.NewExtParser(ctx, &parser.ExtParserConfig{
		Parsers: map[string]parser.Parser{
			".pdf": &PDFParser{},
		},
		FallbackParser: parser.TextParser{},
	})
	if err != nil {
		return nil, fmt.Errorf("create ext parser: %w", err)
	}
	loader, err := file.NewFileLoader(ctx, &file.FileLoaderConfig{
		UseNameAsID: true,
		Parser:      extParser,
	})
	if err != nil {
		return nil, fmt.Errorf("create file loader: %w", err)
	}
	return &Extractor{loader: loader}, nil
}

// Extract returns the non-empty pages of the file at path. PDF pages carry
// their page number; plain text comes back as a single page numbered 0.
func (e *Extractor) Extract(ctx context.Context, path string) ([]models.Page, error) {
	docs, err := e.loader.Load(ctx, document.Source{URI: path})
	if err != nil {
		return nil, fmt.Errorf("load file: %w", err)
	}
	pages := make([]models.Page, 0, len(docs))
	for _, doc := range docs {
		content := strings.TrimSpace(doc.Content)
		if content == "" {
			continue
		}
		number, _ := doc.MetaData[pageMetaKey].(int)
		pages = append(pages, models.Page{Number: number, Text: content})
	}
	if len(pages) == 0 {
		return nil, ErrNoText
	}
	return pages, nil
}
