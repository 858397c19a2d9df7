// Package doctags parses the DocTags markup emitted by SmolDocling-style
// vision models into a structured document.
//
// DocTags is a flat XML-like stream: block elements (<title>, <text>,
// <section_header_level_1>, ...) carry their text and an optional location
// as four <loc_N> tokens on a 0..500 grid; tables are encoded in OTSL
// (<otsl> with <fcel>, <ecel>, <lcel>, <nl>, ...). The parser is lenient:
// unknown tags are skipped and unclosed blocks are flushed at end of input.
package doctags

import (
	"errors"
	"image"
	"regexp"
	"strconv"
	"strings"

	"github.com/dgallion1/docquote/internal/doctree"
	"golang.org/x/net/html"
)

// ErrNoContent means the model output held no recognizable DocTags content.
var ErrNoContent = errors.New("no parseable doctags content")

// LocGrid is the resolution of <loc_N> coordinates.
const LocGrid = 500

var tagRe = regexp.MustCompile(`<(/?)([^<>\s/]+)>`)

var blockKinds = map[string]doctree.Kind{
	"title":               doctree.KindTitle,
	"text":                doctree.KindText,
	"paragraph":           doctree.KindText,
	"reference":           doctree.KindText,
	"checkbox_selected":   doctree.KindText,
	"checkbox_unselected": doctree.KindText,
	"caption":             doctree.KindCaption,
	"footnote":            doctree.KindFootnote,
	"page_header":         doctree.KindPageHeader,
	"page_footer":         doctree.KindPageFooter,
	"list_item":           doctree.KindListItem,
	"code":                doctree.KindCode,
	"formula":             doctree.KindFormula,
}

var cellTags = map[string]bool{
	"fcel": true, "ecel": true, "ched": true, "rhed": true,
	"srow": true, "lcel": true, "ucel": true, "xcel": true,
}

// Parse parses the output for a single page.
func Parse(raw string, page doctree.Page) (*doctree.Document, error) {
	return ParsePages([]string{raw}, []doctree.Page{page})
}

// ParsePages parses one DocTags string per page into a single document.
// raws and pages must have the same length.
func ParsePages(raws []string, pages []doctree.Page) (*doctree.Document, error) {
	if len(raws) != len(pages) {
		return nil, errors.New("doctags: pages and outputs differ in length")
	}
	p := &parser{doc: &doctree.Document{Name: "Document", Pages: pages}}
	for i, raw := range raws {
		p.page = i + 1
		p.size = pages[i].Size
		p.feed(raw)
		p.finishPage()
	}
	if p.recognized == 0 || len(p.doc.Items) == 0 {
		return nil, ErrNoContent
	}
	return p.doc, nil
}

type listCtx struct {
	ordered bool
	id      int
}

type parser struct {
	doc  *doctree.Document
	page int
	size image.Point

	recognized int
	pending    string // text seen before the first recognized tag
	nextList   int
	strayList  int // list id for list items outside any list container, -1 when none

	cur     *doctree.Item // open text-bearing block
	curTag  string
	text    strings.Builder
	curLocs []int

	lists   []listCtx
	picture *pictureCtx
	table   *tableBuilder
}

type pictureCtx struct {
	item *doctree.Item
	locs []int
}

func (p *parser) feed(raw string) {
	p.strayList = -1
	pos := 0
	for _, m := range tagRe.FindAllStringSubmatchIndex(raw, -1) {
		p.onText(raw[pos:m[0]])
		closing := m[3] > m[2]
		p.onTag(raw[m[4]:m[5]], closing)
		pos = m[1]
	}
	p.onText(raw[pos:])
}

func (p *parser) onTag(name string, closing bool) {
	if n, ok := locValue(name); ok {
		p.onLoc(n)
		return
	}
	if isLangTag(name) {
		if p.cur != nil && p.cur.Kind == doctree.KindCode && !closing {
			p.cur.Lang = strings.Trim(name, "_")
		}
		return
	}

	kind, level, isBlock := blockKind(name)
	switch {
	case isBlock && !closing:
		p.recognize()
		p.openBlock(name, kind, level)
	case isBlock && closing:
		if p.cur != nil && p.curTag == name {
			p.closeBlock()
		}
	case name == "unordered_list" || name == "ordered_list":
		p.recognize()
		if closing {
			if len(p.lists) > 0 {
				p.lists = p.lists[:len(p.lists)-1]
			}
			return
		}
		p.flushBlock()
		p.lists = append(p.lists, listCtx{ordered: name == "ordered_list", id: p.newList()})
	case name == "picture" || name == "chart":
		p.recognize()
		if closing {
			p.closePicture()
			return
		}
		p.flushBlock()
		p.closePicture()
		p.picture = &pictureCtx{item: &doctree.Item{Kind: doctree.KindPicture, Page: p.page}}
	case name == "otsl":
		p.recognize()
		if closing {
			p.closeTable()
			return
		}
		p.flushBlock()
		p.closeTable()
		p.table = &tableBuilder{}
	case cellTags[name] && !closing:
		if p.table != nil {
			p.table.startCell(name)
		}
	case name == "nl" && !closing:
		if p.table != nil {
			p.table.endRow()
		}
	case name == "doctag":
		p.recognize()
	}
	// Everything else (end_of_utterance, page_break, <|...|> specials) is ignored.
}

func (p *parser) onText(s string) {
	if s == "" {
		return
	}
	switch {
	case p.cur != nil:
		p.text.WriteString(s)
	case p.table != nil:
		p.table.write(s)
	case p.picture != nil:
		// Free text inside a picture is classification noise.
	default:
		t := cleanText(s)
		switch {
		case t == "":
		case p.recognized == 0:
			p.pending = joinText(p.pending, t)
		default:
			p.emit(&doctree.Item{Kind: doctree.KindText, Text: t, Page: p.page})
		}
	}
}

// recognize counts a DocTags element. Text held back while waiting for the
// first one is emitted as a paragraph.
func (p *parser) recognize() {
	p.recognized++
	if p.pending != "" {
		p.emit(&doctree.Item{Kind: doctree.KindText, Text: p.pending, Page: p.page})
		p.pending = ""
	}
}

func (p *parser) onLoc(n int) {
	switch {
	case p.cur != nil:
		p.curLocs = append(p.curLocs, n)
	case p.picture != nil:
		p.picture.locs = append(p.picture.locs, n)
	case p.table != nil:
		p.table.locs = append(p.table.locs, n)
	}
}

func (p *parser) openBlock(tag string, kind doctree.Kind, level int) {
	p.flushBlock()
	p.cur = &doctree.Item{Kind: kind, Level: level, Page: p.page}
	p.curTag = tag
	p.text.Reset()
	p.curLocs = nil
}

// flushBlock closes a block left open by a missing end tag.
func (p *parser) flushBlock() {
	if p.cur != nil {
		p.closeBlock()
	}
}

func (p *parser) closeBlock() {
	it := p.cur
	raw := p.text.String()
	if it.Kind == doctree.KindCode {
		it.Text = strings.Trim(html.UnescapeString(raw), "\r\n")
	} else {
		it.Text = cleanText(raw)
	}
	it.Box = p.scaleBox(p.curLocs)
	p.cur = nil
	p.curTag = ""
	p.text.Reset()
	p.curLocs = nil

	if it.Kind == doctree.KindCaption {
		switch {
		case p.table != nil:
			p.table.caption = joinText(p.table.caption, it.Text)
			return
		case p.picture != nil:
			p.picture.item.Caption = joinText(p.picture.item.Caption, it.Text)
			return
		}
	}
	if it.Text == "" && it.Kind != doctree.KindFormula {
		return
	}
	if it.Kind == doctree.KindListItem {
		if len(p.lists) > 0 {
			top := p.lists[len(p.lists)-1]
			it.Ordered = top.ordered
			it.List = top.id
			it.Depth = len(p.lists) - 1
		} else {
			if p.strayList < 0 {
				p.strayList = p.newList()
			}
			it.List = p.strayList
		}
	}
	p.emit(it)
}

func (p *parser) closePicture() {
	if p.picture == nil {
		return
	}
	p.flushBlock()
	it := p.picture.item
	it.Box = p.scaleBox(p.picture.locs)
	p.picture = nil
	p.emit(it)
}

func (p *parser) closeTable() {
	if p.table == nil {
		return
	}
	p.flushBlock()
	tb := p.table
	p.table = nil
	t := tb.build()
	if len(t.Rows) == 0 {
		return
	}
	p.emit(&doctree.Item{
		Kind:    doctree.KindTable,
		Page:    p.page,
		Box:     p.scaleBox(tb.locs),
		Caption: tb.caption,
		Table:   t,
	})
}

func (p *parser) finishPage() {
	p.flushBlock()
	p.pending = ""
	p.closePicture()
	p.closeTable()
	p.lists = nil
}

func (p *parser) emit(it *doctree.Item) {
	if it.Kind != doctree.KindListItem {
		p.strayList = -1
	}
	p.doc.Items = append(p.doc.Items, it)
}

func (p *parser) newList() int {
	id := p.nextList
	p.nextList++
	return id
}

// scaleBox maps the first four grid coordinates onto the page size.
func (p *parser) scaleBox(locs []int) image.Rectangle {
	if len(locs) < 4 || p.size.X <= 0 || p.size.Y <= 0 {
		return image.Rectangle{}
	}
	sx := func(v int) int { return v * p.size.X / LocGrid }
	sy := func(v int) int { return v * p.size.Y / LocGrid }
	return image.Rect(sx(locs[0]), sy(locs[1]), sx(locs[2]), sy(locs[3]))
}

func blockKind(name string) (doctree.Kind, int, bool) {
	if k, ok := blockKinds[name]; ok {
		return k, 0, true
	}
	if rest, ok := strings.CutPrefix(name, "section_header_level_"); ok {
		level, err := strconv.Atoi(rest)
		if err != nil || level < 1 {
			level = 1
		}
		return doctree.KindSectionHeader, level, true
	}
	return "", 0, false
}

func locValue(name string) (int, bool) {
	rest, ok := strings.CutPrefix(name, "loc_")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil {
		return 0, false
	}
	return n, true
}

// isLangTag matches code language markers such as <_Python_>.
func isLangTag(name string) bool {
	return len(name) > 2 && strings.HasPrefix(name, "_") && strings.HasSuffix(name, "_")
}

func cleanText(s string) string {
	s = html.UnescapeString(s)
	return strings.Join(strings.Fields(s), " ")
}

func joinText(a, b string) string {
	if a == "" {
		return b
	}
	if b == "" {
		return a
	}
	return a + " " + b
}
