package api

import (
	"bytes"
	"html/template"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

// Previewer renders extracted markdown to HTML for the result page. Raw HTML
// in the markdown is omitted; only safe link targets (including inline
// data:image URIs) survive.
type Previewer struct {
	md goldmark.Markdown
}

func NewPreviewer() *Previewer {
	return &Previewer{
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(html.WithXHTML()),
		),
	}
}

func (p *Previewer) Render(markdown string) (template.HTML, error) {
	var buf bytes.Buffer
	if err := p.md.Convert([]byte(markdown), &buf); err != nil {
		return "", err
	}
	return template.HTML(buf.String()), nil
}
