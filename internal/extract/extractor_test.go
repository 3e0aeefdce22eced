package extract

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestExtractPlainText(t *testing.T) {
	ex, err := New(context.Background())
	if err != nil {
		t.Fatalf("new extractor: %v", err)
	}
	path := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(path, []byte("  Cells are the unit of life.\n"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	pages, err := ex.Extract(context.Background(), path)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(pages) != 1 || pages[0].Text != "Cells are the unit of life." || pages[0].Number != 0 {
		t.Fatalf("unexpected pages: %#v", pages)
	}
}

func TestExtractEmptyFile(t *testing.T) {
	ex, err := New(context.Background())
	if err != nil {
		t.Fatalf("new extractor: %v", err)
	}
	path := filepath.Join(t.TempDir(), "blank.md")
	if err := os.WriteFile(path, []byte(" \n\t"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if _, err := ex.Extract(context.Background(), path); !errors.Is(err, ErrNoText) {
		t.Fatalf("expected ErrNoText, got %v", err)
	}
}

func TestExtractMissingFile(t *testing.T) {
	ex, err := New(context.Background())
	if err != nil {
		t.Fatalf("new extractor: %v", err)
	}
	if _, err := ex.Extract(context.Background(), filepath.Join(t.TempDir(), "missing.txt")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestPDFParserRejectsGarbage(t *testing.T) {
	p := &PDFParser{}
	if _, err := p.Parse(context.Background(), strings.NewReader("not a pdf")); err == nil {
		t.Fatalf("expected error parsing non-pdf input")
	}
}
