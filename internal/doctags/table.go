package doctags

import (
	"strings"

	"github.com/dgallion1/docquote/internal/doctree"
)

type otslCell struct {
	tag  string
	text strings.Builder
}

// tableBuilder accumulates OTSL cells row by row.
type tableBuilder struct {
	rows    [][]*otslCell
	row     []*otslCell
	locs    []int
	caption string
}

func (b *tableBuilder) startCell(tag string) {
	b.row = append(b.row, &otslCell{tag: tag})
}

func (b *tableBuilder) write(s string) {
	if len(b.row) == 0 {
		return
	}
	b.row[len(b.row)-1].text.WriteString(s)
}

func (b *tableBuilder) endRow() {
	if len(b.row) > 0 {
		b.rows = append(b.rows, b.row)
	}
	b.row = nil
}

// build resolves span cells into a rectangular text grid: lcel repeats the
// cell to its left, ucel the cell above, xcel the cell diagonally up-left.
func (b *tableBuilder) build() *doctree.Table {
	b.endRow()
	t := &doctree.Table{}
	for i, row := range b.rows {
		out := make([]string, len(row))
		for j, c := range row {
			switch c.tag {
			case "lcel":
				out[j] = cellAt(out, j-1)
			case "ucel":
				out[j] = gridAt(t.Rows, i-1, j)
			case "xcel":
				out[j] = gridAt(t.Rows, i-1, j-1)
			case "ecel":
				out[j] = ""
			default:
				out[j] = cleanText(c.text.String())
			}
		}
		t.Rows = append(t.Rows, out)
	}
	return t
}

func cellAt(row []string, j int) string {
	if j < 0 || j >= len(row) {
		return ""
	}
	return row[j]
}

func gridAt(rows [][]string, i, j int) string {
	if i < 0 || i >= len(rows) {
		return ""
	}
	return cellAt(rows[i], j)
}
