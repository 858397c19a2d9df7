package doctree

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/dgallion1/docquote/internal/imageio"
)

// PictureMode controls how pictures appear in exported markdown.
type PictureMode string

const (
	PicturePlaceholder PictureMode = "placeholder"
	PictureEmbedded    PictureMode = "embedded"
)

const imagePlaceholder = "<!-- image -->"

const listIndent = 4

// ExportOptions tunes markdown export.
type ExportOptions struct {
	Pictures PictureMode
	// IncludeFurniture keeps page headers and footers, which are dropped by default.
	IncludeFurniture bool
}

// Markdown exports the document with default options.
func (d *Document) Markdown() string {
	return d.MarkdownWith(ExportOptions{Pictures: PicturePlaceholder})
}

// MarkdownWith exports the document as markdown. Blocks are separated by a
// blank line. A top-level list stays in one block together with any lists
// nested inside it; nested items are indented by listIndent per level.
func (d *Document) MarkdownWith(opts ExportOptions) string {
	var blocks []string
	var list []string
	topList := -1
	counters := map[int]int{}

	flushList := func() {
		if len(list) > 0 {
			blocks = append(blocks, strings.Join(list, "\n"))
		}
		list = nil
		topList = -1
		clear(counters)
	}

	for _, it := range d.Items {
		if it.Kind == KindListItem {
			if it.Depth == 0 && it.List != topList {
				flushList()
				topList = it.List
			}
			counters[it.List]++
			marker := "- "
			if it.Ordered {
				marker = strconv.Itoa(counters[it.List]) + ". "
			}
			list = append(list, strings.Repeat(" ", listIndent*it.Depth)+marker+it.Text)
			continue
		}
		flushList()

		if b := d.block(it, opts); b != "" {
			blocks = append(blocks, b)
		}
	}
	flushList()

	return strings.Join(blocks, "\n\n")
}

func (d *Document) block(it *Item, opts ExportOptions) string {
	switch it.Kind {
	case KindTitle:
		return "# " + it.Text
	case KindSectionHeader:
		level := it.Level
		if level < 1 {
			level = 1
		}
		if level > 5 {
			level = 5
		}
		return strings.Repeat("#", level+1) + " " + it.Text
	case KindText, KindCaption, KindFootnote:
		return it.Text
	case KindPageHeader, KindPageFooter:
		if opts.IncludeFurniture {
			return it.Text
		}
		return ""
	case KindCode:
		return "```" + it.Lang + "\n" + it.Text + "\n```"
	case KindFormula:
		if it.Text == "" {
			return "<!-- formula-not-decoded -->"
		}
		return "$$" + it.Text + "$$"
	case KindPicture:
		return joinBlocks(it.Caption, d.picture(it, opts))
	case KindTable:
		return joinBlocks(it.Caption, renderTable(it.Table))
	}
	return ""
}

func (d *Document) picture(it *Item, opts ExportOptions) string {
	if opts.Pictures != PictureEmbedded || !it.HasBox() {
		return imagePlaceholder
	}
	img := d.PageImage(it.Page)
	if img == nil {
		return imagePlaceholder
	}
	data, err := imageio.CropPNG(img, it.Box)
	if err != nil || len(data) == 0 {
		return imagePlaceholder
	}
	return fmt.Sprintf("![Image](data:image/png;base64,%s)", base64.StdEncoding.EncodeToString(data))
}

func joinBlocks(parts ...string) string {
	var out []string
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "\n\n")
}

// renderTable writes a GitHub pipe table. The first row is always the header.
func renderTable(t *Table) string {
	if t == nil || len(t.Rows) == 0 {
		return ""
	}
	cols := 0
	for _, row := range t.Rows {
		if len(row) > cols {
			cols = len(row)
		}
	}
	if cols == 0 {
		return ""
	}

	cells := make([][]string, len(t.Rows))
	widths := make([]int, cols)
	for i, row := range t.Rows {
		cells[i] = make([]string, cols)
		for j := 0; j < cols; j++ {
			var c string
			if j < len(row) {
				c = escapeCell(row[j])
			}
			cells[i][j] = c
			if n := utf8.RuneCountInString(c); n > widths[j] {
				widths[j] = n
			}
		}
	}
	for j := range widths {
		if widths[j] < 3 {
			widths[j] = 3
		}
	}

	var sb strings.Builder
	writeRow := func(row []string) {
		sb.WriteString("|")
		for j, c := range row {
			sb.WriteString(" ")
			sb.WriteString(c)
			sb.WriteString(strings.Repeat(" ", widths[j]-utf8.RuneCountInString(c)))
			sb.WriteString(" |")
		}
	}

	writeRow(cells[0])
	sb.WriteString("\n|")
	for _, w := range widths {
		sb.WriteString(strings.Repeat("-", w+2))
		sb.WriteString("|")
	}
	for _, row := range cells[1:] {
		sb.WriteString("\n")
		writeRow(row)
	}
	return sb.String()
}

func escapeCell(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.ReplaceAll(s, "|", `\|`)
}
