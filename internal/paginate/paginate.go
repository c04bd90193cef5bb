// Package paginate chunks display lines into pages under the dynamic
// (book-wide) and absolute (per-chapter) numbering policies.
package paginate

import (
	"sync/atomic"

	"github.com/shoko-reader/shoko/internal/config"
	"github.com/shoko-reader/shoko/internal/format"
)

// ContentHeight is the number of content rows for a terminal height:
// the header and one blank row above the content, the page-number row
// and the footer below it.
func ContentHeight(termHeight int) int {
	h := termHeight - 4
	if h < 1 {
		h = 1
	}
	return h
}

// SingleColumnWidth is the content width in single-column view.
func SingleColumnWidth(termWidth int) int {
	w := termWidth * 9 / 10
	if w < 30 {
		w = 30
	}
	if w > 120 {
		w = 120
	}
	return w
}

// SplitColumnWidth is the per-column content width in split view.
func SplitColumnWidth(termWidth int) int {
	inner := termWidth - 4
	if inner < 40 {
		inner = 40
	}
	w := (inner - 4) / 2
	if w < 20 {
		w = 20
	}
	return w
}

// ColumnWidth picks the content width for a view mode.
func ColumnWidth(termWidth int, mode config.ViewMode) int {
	if mode == config.ViewSplit {
		return SplitColumnWidth(termWidth)
	}
	return SingleColumnWidth(termWidth)
}

// DisplayableLines adjusts the content height for a line-spacing mode.
func DisplayableLines(contentHeight int, spacing config.LineSpacing) int {
	switch spacing {
	case config.SpacingNormal:
		n := contentHeight * 3 / 4
		if n < 1 {
			n = 1
		}
		return n
	case config.SpacingRelaxed:
		n := (contentHeight + 1) / 2
		if n < 1 {
			n = 1
		}
		return n
	default:
		return contentHeight
	}
}

// Page is a contiguous display-line range of one chapter.
type Page struct {
	ChapterIndex int
	LineStart    int
	LineEnd      int // exclusive
}

// LinesFunc supplies the formatted display lines of a chapter.
type LinesFunc func(chapterIndex int) []format.DisplayLine

// BuildDynamic produces the book-wide page list. The build checks
// cancelled before each chapter and returns ok=false when aborted.
func BuildDynamic(chapterCount, pageSize int, lines LinesFunc, cancelled *atomic.Bool) ([]Page, bool) {
	if pageSize < 1 {
		pageSize = 1
	}
	var pages []Page
	for ch := 0; ch < chapterCount; ch++ {
		if cancelled != nil && cancelled.Load() {
			return nil, false
		}
		n := len(lines(ch))
		if n == 0 {
			// An empty chapter still occupies one page so navigation can
			// land on it.
			pages = append(pages, Page{ChapterIndex: ch, LineStart: 0, LineEnd: 0})
			continue
		}
		for start := 0; start < n; start += pageSize {
			end := start + pageSize
			if end > n {
				end = n
			}
			pages = append(pages, Page{ChapterIndex: ch, LineStart: start, LineEnd: end})
		}
	}
	return pages, true
}

// Dynamic is a built book-wide pagination.
type Dynamic struct {
	Pages    []Page
	PageSize int
}

// ChapterAt returns the chapter index of page p.
func (d *Dynamic) ChapterAt(p int) int {
	if len(d.Pages) == 0 {
		return 0
	}
	if p < 0 {
		p = 0
	}
	if p >= len(d.Pages) {
		p = len(d.Pages) - 1
	}
	return d.Pages[p].ChapterIndex
}

// PageForChapter returns the first page whose chapter index is ch.
func (d *Dynamic) PageForChapter(ch int) int {
	for i, pg := range d.Pages {
		if pg.ChapterIndex == ch {
			return i
		}
	}
	return 0
}

// PageForLine returns the page containing line offset in chapter ch.
func (d *Dynamic) PageForLine(ch, line int) int {
	for i, pg := range d.Pages {
		if pg.ChapterIndex == ch && line >= pg.LineStart && (line < pg.LineEnd || pg.LineStart == pg.LineEnd) {
			return i
		}
	}
	return d.PageForChapter(ch)
}

// NextChapter returns the first page of the chapter after page p.
func (d *Dynamic) NextChapter(p int) int {
	cur := d.ChapterAt(p)
	for i := p + 1; i < len(d.Pages); i++ {
		if d.Pages[i].ChapterIndex != cur {
			return i
		}
	}
	return p
}

// PrevChapter returns the first page of the chapter before page p.
func (d *Dynamic) PrevChapter(p int) int {
	cur := d.ChapterAt(p)
	if cur == 0 {
		return d.PageForChapter(0)
	}
	return d.PageForChapter(cur - 1)
}

// Absolute is the per-chapter pagination: each chapter spans one or
// more pages and scrolling moves by whole content heights.
type Absolute struct {
	PageMap  []int // pages per chapter
	PageSize int
}

// BuildAbsolute computes the page map for progress displays.
func BuildAbsolute(chapterCount, pageSize int, lines LinesFunc) *Absolute {
	if pageSize < 1 {
		pageSize = 1
	}
	a := &Absolute{PageMap: make([]int, chapterCount), PageSize: pageSize}
	for ch := 0; ch < chapterCount; ch++ {
		n := len(lines(ch))
		pages := (n + pageSize - 1) / pageSize
		if pages < 1 {
			pages = 1
		}
		a.PageMap[ch] = pages
	}
	return a
}

// PagesIn returns the page count of chapter ch.
func (a *Absolute) PagesIn(ch int) int {
	if ch < 0 || ch >= len(a.PageMap) {
		return 1
	}
	return a.PageMap[ch]
}

// TotalPages sums the page map.
func (a *Absolute) TotalPages() int {
	total := 0
	for _, n := range a.PageMap {
		total += n
	}
	return total
}

// PageBefore sums the pages of all chapters before ch.
func (a *Absolute) PageBefore(ch int) int {
	total := 0
	for i := 0; i < ch && i < len(a.PageMap); i++ {
		total += a.PageMap[i]
	}
	return total
}
