package doctree

import "image"

// Kind identifies the semantic role of a document item.
type Kind string

const (
	KindTitle         Kind = "title"
	KindSectionHeader Kind = "section_header"
	KindText          Kind = "text"
	KindCaption       Kind = "caption"
	KindFootnote      Kind = "footnote"
	KindPageHeader    Kind = "page_header"
	KindPageFooter    Kind = "page_footer"
	KindListItem      Kind = "list_item"
	KindCode          Kind = "code"
	KindFormula       Kind = "formula"
	KindPicture       Kind = "picture"
	KindTable         Kind = "table"
)

// Document is the parsed, structured form of one or more model outputs.
type Document struct {
	Name  string // Document name (used by exporters, not rendered)
	Pages []Page // Source pages, 1-indexed by Item.Page
	Items []*Item
}

// Page records the pixel size and bitmap of a source page.
type Page struct {
	Size  image.Point
	Image image.Image // may be nil when only the size is known
}

// Item is a single block-level element of the document.
type Item struct {
	Kind    Kind
	Text    string
	Level   int    // Section header level (1-based)
	Page    int    // Source page (1-based)
	Box     image.Rectangle
	Lang    string // Code language, if tagged
	Ordered bool   // List items: part of an ordered list
	List    int    // List items: id of the enclosing list (items of one list share it)
	Depth   int    // List items: nesting depth, 0 for a top-level list
	Caption string // Pictures and tables
	Table   *Table
}

// Table is a grid of cell texts. Spanned cells repeat the text of their origin.
type Table struct {
	Rows [][]string
}

// HasBox reports whether the item carries a non-empty location.
func (it *Item) HasBox() bool {
	return !it.Box.Empty()
}

// PageImage returns the bitmap for a 1-based page number, or nil.
func (d *Document) PageImage(page int) image.Image {
	if page < 1 || page > len(d.Pages) {
		return nil
	}
	return d.Pages[page-1].Image
}
