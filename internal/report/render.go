package report

import (
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

// RenderHTML converts model Markdown to an HTML fragment. Raw HTML in the
// input is dropped by the renderer.
func RenderHTML(md string) (string, error) {
	var out strings.Builder
	if err := markdown.Convert([]byte(md), &out); err != nil {
		return "", fmt.Errorf("markdown convert: %w", err)
	}
	return out.String(), nil
}
