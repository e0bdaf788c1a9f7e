// Markdown export: renders the document as CommonMark Markdown.
package main

import (
	"fmt"
	"strings"
	"sync"

	"github.com/JohannesKaufmann/dom"
	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"golang.org/x/net/html"
)

var (
	mdConverter     *converter.Converter
	mdConverterOnce sync.Once
)

// getMarkdownConverter returns a shared converter that never emits
// non-network image sources: data: and file: images become alt-text
// placeholders.
func getMarkdownConverter() *converter.Converter {
	mdConverterOnce.Do(func() {
		mdConverter = converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
			),
		)
		// PriorityEarly (100) runs before the commonmark plugin (PriorityStandard 500).
		mdConverter.Register.RendererFor("img", converter.TagTypeInline,
			func(ctx converter.Context, w converter.Writer, n *html.Node) converter.RenderStatus {
				src := dom.GetAttributeOr(n, "src", "")
				switch classifySource(src) {
				case schemeInlineData, schemeLocalFile:
				default:
					return converter.RenderTryNext
				}
				alt := strings.TrimSpace(dom.GetAttributeOr(n, "alt", ""))
				if alt != "" {
					w.WriteString("[Image: " + alt + "]")
				}
				return converter.RenderSuccess
			},
			converter.PriorityEarly,
		)
	})
	return mdConverter
}

// documentToMarkdown converts the document's blocks to Markdown.
func documentToMarkdown(d *memoryDocument) (string, error) {
	md, err := getMarkdownConverter().ConvertString(d.HTML())
	if err != nil {
		return "", fmt.Errorf("markdown conversion: %w", err)
	}
	return strings.TrimSpace(md), nil
}
