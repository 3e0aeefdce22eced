package extract

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/cloudwego/eino/components/document/parser"
	"github.com/cloudwego/eino/schema"
	"github.com/gen2brain/go-fitz"
)

// PDFParser is an eino parser producing one document per PDF page.
type PDFParser struct{}

func (p *PDFParser) Parse(ctx context.Context, reader io.Reader, opts ...parser.Option) ([]*schema.Document, error) {
	options := parser.GetCommonOptions(&parser.Options{}, opts...)

	doc, err := fitz.NewFromReader(reader)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer doc.Close()

	docs := make([]*schema.Document, 0, doc.NumPage())
	for i := 0; i < doc.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		text, err := doc.Text(i)
		if err != nil {
			return nil, fmt.Errorf("read pdf page %d: %w", i+1, err)
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		meta := map[string]any{pageMetaKey: i + 1}
		for k, v := range options.ExtraMeta {
			meta[k] = v
		}
		docs = append(docs, &schema.Document{
			ID:       fmt.Sprintf("%s#page-%d", options.URI, i+1),
			Content:  text,
			MetaData: meta,
		})
	}
	return docs, nil
}
