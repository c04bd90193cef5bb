package reader

import (
	"fmt"

	"github.com/shoko-reader/shoko/internal/config"
	"github.com/shoko-reader/shoko/internal/paginate"
	"github.com/shoko-reader/shoko/internal/render"
	"github.com/shoko-reader/shoko/internal/textmetrics"
)

// render builds the frame view model from the current state and hands
// it to the renderer.
func (r *Reader) render() {
	vm := &render.ViewModel{
		Mode:            string(r.mode),
		Message:         r.message,
		ShowPageNumbers: r.deps.Config.ShowPageNumbers,
		RowStep:         1,
	}
	if r.deps.Config.LineSpacing == config.SpacingRelaxed {
		vm.RowStep = 2
	}

	if r.payload == nil {
		vm.DocumentTitle = "shoko"
		vm.Mode = string(ModePopup)
		vm.OverlayTitle = "Loading…"
		r.renderer.Render(vm)
		return
	}

	book := r.payload.Book
	ch := r.currentChapter()
	vm.DocumentTitle = book.Title
	if ch < len(book.Chapters) {
		vm.ChapterTitle = book.Chapters[ch].Title
	}
	if r.deps.Config.ViewMode == config.ViewSplit {
		vm.ViewModeLabel = "[split]"
	} else {
		vm.ViewModeLabel = "[single]"
	}
	vm.FooterLeft = fmt.Sprintf("Chapter %d/%d", ch+1, len(r.payload.Chapters))
	vm.FooterRight = "? help  q quit"

	switch r.mode {
	case ModeRead:
		r.buildContent(vm)
	case ModeHelp:
		vm.OverlayTitle = "Help"
		vm.Overlay = helpLines
	case ModeTOC:
		vm.OverlayTitle = "Table of Contents"
		vm.Overlay = r.tocOverlay()
	case ModeBookmarks:
		vm.OverlayTitle = "Bookmarks"
		vm.Overlay = r.bookmarkOverlay()
	case ModeAnnotations:
		vm.OverlayTitle = "Annotations"
		vm.Overlay = r.annotationOverlay()
	case ModeAnnotationEditor:
		vm.OverlayTitle = "Annotation note (enter to save, esc to cancel)"
		vm.Overlay = []string{
			"> " + string(r.editorBuf) + "█",
			"",
			textmetrics.TruncateToWidth(r.pendingText, 70),
		}
	}

	r.renderer.Render(vm)
}

func (r *Reader) buildContent(vm *render.ViewModel) {
	if r.building && r.pag == nil && r.deps.Config.Pagination == config.PaginationDynamic {
		vm.Mode = string(ModePopup)
		vm.OverlayTitle = "Paginating…"
		return
	}

	width := paginate.ColumnWidth(r.cols, r.deps.Config.ViewMode)
	if r.selRange != nil {
		rng := *r.selRange
		vm.Selected = rng.Contains
	}

	if r.deps.Config.Pagination == config.PaginationDynamic {
		r.buildDynamicColumns(vm, width)
	} else {
		r.buildAbsoluteColumns(vm, width)
	}
}

func (r *Reader) buildDynamicColumns(vm *render.ViewModel, width int) {
	if r.pag == nil || len(r.pag.Pages) == 0 {
		return
	}
	vm.PageID = render.PageIDFor(r.pag.ChapterAt(r.pageIndex), r.pageIndex)
	total := len(r.pag.Pages)
	vm.FooterLeft = fmt.Sprintf("%s · Page %d/%d", vm.FooterLeft, r.pageIndex+1, total)

	left := r.pageColumn("left", r.pageIndex, width)
	if r.deps.Config.ViewMode == config.ViewSplit {
		gap := 4
		inner := 2*width + gap
		origin := maxInt((r.cols-inner)/2, 0)
		left.OriginX = origin
		right := r.pageColumn("right", r.pageIndex+1, width)
		right.OriginX = origin + width + gap
		vm.Columns = []render.Column{left, right}
		return
	}
	left.OriginX = maxInt((r.cols-width)/2, 0)
	vm.Columns = []render.Column{left}
}

func (r *Reader) pageColumn(id string, pageIndex, width int) render.Column {
	col := render.Column{ID: id, Width: width}
	if pageIndex < 0 || pageIndex >= len(r.pag.Pages) {
		return col
	}
	pg := r.pag.Pages[pageIndex]
	lines := r.chapterLines(pg.ChapterIndex)
	for off := pg.LineStart; off < pg.LineEnd && off < len(lines); off++ {
		col.Lines = append(col.Lines, render.ContentLine{Display: lines[off], LineOffset: off})
	}
	col.PageNumber = fmt.Sprintf("%d", pageIndex+1)
	return col
}

func (r *Reader) buildAbsoluteColumns(vm *render.ViewModel, width int) {
	pageSize := paginate.DisplayableLines(paginate.ContentHeight(r.rows), r.deps.Config.LineSpacing)
	lines := r.chapterLines(r.chapter)
	vm.PageID = render.PageIDFor(r.chapter, r.scroll/maxInt(pageSize, 1))

	if r.abs != nil {
		pageInChapter := r.scroll/maxInt(pageSize, 1) + 1
		vm.FooterLeft = fmt.Sprintf("%s · Page %d/%d", vm.FooterLeft, pageInChapter, r.abs.PagesIn(r.chapter))
	}

	makeCol := func(id string, start int) render.Column {
		col := render.Column{ID: id, Width: width}
		for off := start; off < start+pageSize && off < len(lines); off++ {
			col.Lines = append(col.Lines, render.ContentLine{Display: lines[off], LineOffset: off})
		}
		col.PageNumber = fmt.Sprintf("%d", start/maxInt(pageSize, 1)+1)
		return col
	}

	left := makeCol("left", r.scroll)
	if r.deps.Config.ViewMode == config.ViewSplit {
		gap := 4
		inner := 2*width + gap
		origin := maxInt((r.cols-inner)/2, 0)
		left.OriginX = origin
		// Both columns advance together; the right column continues the
		// left by one content height.
		right := makeCol("right", r.scroll+pageSize)
		right.OriginX = origin + width + gap
		vm.Columns = []render.Column{left, right}
		return
	}
	left.OriginX = maxInt((r.cols-width)/2, 0)
	vm.Columns = []render.Column{left}
}

func (r *Reader) tocOverlay() []string {
	var out []string
	for i, e := range r.payload.Book.TOC {
		indent := ""
		for l := 1; l < e.Level; l++ {
			indent += "  "
		}
		marker := "  "
		if i == r.cursor {
			marker = "> "
		}
		title := e.Title
		if !e.Navigable {
			title += " ·"
		}
		out = append(out, marker+indent+title)
	}
	if len(out) == 0 {
		out = []string{"(no table of contents)"}
	}
	return out
}

func (r *Reader) bookmarkOverlay() []string {
	marks := r.deps.UserData.Bookmarks[r.bookPath]
	var out []string
	for i, b := range marks {
		marker := "  "
		if i == r.cursor {
			marker = "> "
		}
		out = append(out, fmt.Sprintf("%sch.%d +%d  %s  (%s)", marker, b.Chapter+1, b.LineOffset, b.Text, FormatTimestamp(b.Timestamp)))
	}
	if len(out) == 0 {
		out = []string{"(no bookmarks; press b while reading)"}
	}
	return out
}

func (r *Reader) annotationOverlay() []string {
	notes := r.deps.UserData.Annotations[r.bookPath]
	var out []string
	for i, a := range notes {
		marker := "  "
		if i == r.cursor {
			marker = "> "
		}
		text := textmetrics.TruncateToWidth(a.Text, 40)
		note := textmetrics.TruncateToWidth(a.Note, 30)
		out = append(out, fmt.Sprintf("%sch.%d  %q — %s", marker, a.Chapter+1, text, note))
	}
	if len(out) == 0 {
		out = []string{"(no annotations; select text with the mouse, then N)"}
	}
	return out
}
