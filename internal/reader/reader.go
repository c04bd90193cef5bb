// Package reader owns the interactive session: a single UI goroutine
// drives input, state updates and rendering, while ingestion and
// pagination run on background workers that report through a mailbox.
package reader

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/shoko-reader/shoko/internal/cache"
	"github.com/shoko-reader/shoko/internal/config"
	"github.com/shoko-reader/shoko/internal/format"
	"github.com/shoko-reader/shoko/internal/logging"
	"github.com/shoko-reader/shoko/internal/paginate"
	"github.com/shoko-reader/shoko/internal/render"
	"github.com/shoko-reader/shoko/internal/selection"
	"github.com/shoko-reader/shoko/internal/term"
	"github.com/shoko-reader/shoko/internal/textmetrics"
)

// Deps are the constructed ports and collaborators the reader uses.
type Deps struct {
	Port        term.Port
	Coordinator *cache.Coordinator
	Config      config.Config
	UserData    *UserData
	Clock       clock.Clock
	Graphics    bool
}

// update is a mailbox message from a background worker. Updates are
// consumed one at a time on the UI goroutine, in send order.
type update interface{ isUpdate() }

type bookOpened struct {
	payload *cache.Payload
	err     error
}

func (bookOpened) isUpdate() {}

type pagesBuilt struct {
	token    uint64
	pages    []paginate.Page
	pageSize int
}

func (pagesBuilt) isUpdate() {}

// Reader is the interactive session state machine.
type Reader struct {
	deps     Deps
	renderer *render.Renderer
	layouts  *layoutCache
	mailbox  chan update
	input    *term.InputReader

	mode    Mode
	running bool

	payload  *cache.Payload
	bookPath string

	rows, cols int

	// Dynamic pagination.
	pag       *paginate.Dynamic
	pageIndex int
	building  bool
	buildTok  uint64
	cancel    *atomic.Bool

	// Absolute pagination.
	abs     *paginate.Absolute
	chapter int
	scroll  int

	message      string
	messageUntil time.Time

	cursor int // overlay cursor

	selStart  *selection.Anchor
	selRange  *selection.Range
	selecting bool

	editorBuf      []rune
	pendingRange   *selection.Range
	pendingText    string
	pendingChapter int
}

// Run opens the book at path and drives the session until quit.
func Run(path string, deps Deps) error {
	r := &Reader{
		deps:    deps,
		mailbox: make(chan update, 16),
		mode:    ModeRead,
		running: true,
		cancel:  &atomic.Bool{},
	}
	r.layouts = newLayoutCache(deps.Coordinator.Store())

	restore, err := deps.Port.MakeRaw()
	if err != nil {
		logging.Debugf("terminal", "raw mode unavailable: %v", err)
		restore = func() {}
	}
	defer restore()

	deps.Port.Write([]byte(term.EnterAltScreen + term.EnableMouse))
	defer deps.Port.Write([]byte(term.DisableMouse + term.ExitAltScreen))

	r.renderer = render.New(deps.Port, r.resource, deps.Graphics && deps.Config.ImageRendering)
	r.rows, r.cols = deps.Port.Size()

	r.input = term.NewInputReader(deps.Port)
	defer r.input.Stop()

	// Ingestion runs off the UI goroutine; the result arrives as a
	// state update.
	go func() {
		payload, err := deps.Coordinator.Open(path)
		r.mailbox <- bookOpened{payload: payload, err: err}
	}()

	ticker := deps.Clock.Ticker(term.PollInterval)
	defer ticker.Stop()

	r.render()
	for r.running {
		select {
		case ev, ok := <-r.input.Events:
			if !ok {
				r.running = false
				break
			}
			r.handleEvent(ev)
		case u := <-r.mailbox:
			r.applyUpdate(u, path)
		case <-ticker.C:
			r.tick()
		}
		r.render()
	}

	r.saveProgress()
	return nil
}

func (r *Reader) resource(src string) ([]byte, bool) {
	if r.payload == nil || r.payload.Book.Resources == nil {
		return nil, false
	}
	data, ok := r.payload.Book.Resources[src]
	return data, ok
}

func (r *Reader) applyUpdate(u update, path string) {
	switch m := u.(type) {
	case bookOpened:
		if m.err != nil {
			logging.Errorf("reader", m.err)
			r.flash(fmt.Sprintf("Cannot open book: %v", m.err))
			r.running = false
			return
		}
		r.payload = m.payload
		r.bookPath = path
		if err := r.deps.UserData.TouchRecent(path); err != nil {
			logging.Errorf("reader", err)
		}
		if p, ok := r.deps.UserData.Progress[path]; ok {
			r.chapter = clamp(p.Chapter, 0, len(r.payload.Chapters)-1)
			r.scroll = p.LineOffset
		}
		r.scheduleBuild()
	case pagesBuilt:
		if m.token != r.buildTok {
			// A stale build finished after a resize; drop it.
			return
		}
		r.building = false
		r.pag = &paginate.Dynamic{Pages: m.pages, PageSize: m.pageSize}
		r.pageIndex = r.pag.PageForLine(r.chapter, r.scroll)
		go r.layouts.Persist(r.payload.Row.SourceSHA, r.payload.Chapters, r.formatOptions())
	}
}

func (r *Reader) tick() {
	if r.message != "" && r.deps.Clock.Now().After(r.messageUntil) {
		r.message = ""
	}
	if _, _, changed := r.renderer.Size(); changed {
		r.onResize()
	}
}

func (r *Reader) onResize() {
	r.rows, r.cols = r.deps.Port.Size()
	if r.payload != nil {
		// Remember the reading position so the rebuilt page list can
		// seek back to it.
		r.syncPosition()
		r.scheduleBuild()
	}
}

// syncPosition folds the current page back into (chapter, scroll).
func (r *Reader) syncPosition() {
	if r.deps.Config.Pagination == config.PaginationDynamic && r.pag != nil && r.pageIndex < len(r.pag.Pages) {
		pg := r.pag.Pages[r.pageIndex]
		r.chapter = pg.ChapterIndex
		r.scroll = pg.LineStart
	}
}

func (r *Reader) formatOptions() format.Options {
	return format.Options{
		Width:          paginate.ColumnWidth(r.cols, r.deps.Config.ViewMode),
		LineSpacing:    r.deps.Config.LineSpacing,
		ViewMode:       r.deps.Config.ViewMode,
		ImageRendering: r.deps.Config.ImageRendering,
	}
}

// scheduleBuild cancels any in-flight pagination build and starts a new
// one for the current dimensions.
func (r *Reader) scheduleBuild() {
	if r.payload == nil {
		return
	}
	r.cancel.Store(true)
	r.cancel = &atomic.Bool{}
	r.buildTok++

	opts := r.formatOptions()
	pageSize := paginate.DisplayableLines(paginate.ContentHeight(r.rows), r.deps.Config.LineSpacing)
	r.abs = nil
	if r.deps.Config.Pagination == config.PaginationAbsolute {
		r.abs = paginate.BuildAbsolute(len(r.payload.Chapters), pageSize, r.linesFunc(opts))
		return
	}

	r.building = true
	token := r.buildTok
	cancelled := r.cancel
	sha := r.payload.Row.SourceSHA
	chapters := r.payload.Chapters
	go func() {
		r.layouts.Preload(sha, len(chapters), opts)
		pages, ok := paginate.BuildDynamic(len(chapters), pageSize, func(ch int) []format.DisplayLine {
			return r.layouts.Lines(sha, &chapters[ch], ch, opts)
		}, cancelled)
		if !ok {
			return
		}
		r.mailbox <- pagesBuilt{token: token, pages: pages, pageSize: pageSize}
	}()
}

// linesFunc adapts the layout cache for pagination builds on the UI
// goroutine (absolute mode formats lazily).
func (r *Reader) linesFunc(opts format.Options) paginate.LinesFunc {
	sha := r.payload.Row.SourceSHA
	chapters := r.payload.Chapters
	return func(ch int) []format.DisplayLine {
		return r.layouts.Lines(sha, &chapters[ch], ch, opts)
	}
}

func (r *Reader) flash(message string) {
	r.message = message
	r.messageUntil = r.deps.Clock.Now().Add(2 * time.Second)
}

// --- Event handling ---

func (r *Reader) handleEvent(ev term.Event) {
	if ev.Mouse {
		r.handleMouse(ev)
		return
	}
	if r.mode == ModeAnnotationEditor {
		r.handleEditorKey(ev)
		return
	}

	switch ActionFor(r.mode, ev) {
	case ActionQuit:
		r.running = false
	case ActionNextPage:
		r.moveBy(1)
	case ActionPrevPage:
		r.moveBy(-1)
	case ActionNextChapter:
		r.gotoChapter(r.currentChapter() + 1)
	case ActionPrevChapter:
		r.gotoChapter(r.currentChapter() - 1)
	case ActionFirstPage:
		r.gotoChapter(0)
	case ActionLastPage:
		if r.payload != nil {
			r.gotoChapter(len(r.payload.Chapters) - 1)
		}
	case ActionShowTOC:
		r.mode = ModeTOC
		r.cursor = 0
	case ActionShowHelp:
		r.mode = ModeHelp
	case ActionShowBookmarks:
		r.mode = ModeBookmarks
		r.cursor = 0
	case ActionShowAnnotations:
		r.mode = ModeAnnotations
		r.cursor = 0
	case ActionToggleViewMode:
		if r.deps.Config.ViewMode == config.ViewSingle {
			r.deps.Config.ViewMode = config.ViewSplit
		} else {
			r.deps.Config.ViewMode = config.ViewSingle
		}
		r.saveConfig()
		r.syncPosition()
		r.scheduleBuild()
	case ActionCycleSpacing:
		switch r.deps.Config.LineSpacing {
		case config.SpacingCompact:
			r.deps.Config.LineSpacing = config.SpacingNormal
		case config.SpacingNormal:
			r.deps.Config.LineSpacing = config.SpacingRelaxed
		default:
			r.deps.Config.LineSpacing = config.SpacingCompact
		}
		r.saveConfig()
		r.syncPosition()
		r.scheduleBuild()
		r.flash(fmt.Sprintf("Line spacing: %s", r.deps.Config.LineSpacing))
	case ActionTogglePageNumbers:
		r.deps.Config.ShowPageNumbers = !r.deps.Config.ShowPageNumbers
		r.saveConfig()
	case ActionToggleBookmark:
		r.toggleBookmark()
	case ActionAnnotateSelection:
		r.beginAnnotation()
	case ActionCursorUp:
		if r.cursor > 0 {
			r.cursor--
		}
	case ActionCursorDown:
		if r.cursor < r.overlayLen()-1 {
			r.cursor++
		}
	case ActionSelect:
		r.overlaySelect()
	case ActionDelete:
		r.overlayDelete()
	case ActionClose:
		if r.mode == ModeRead {
			r.selRange = nil
		} else {
			r.mode = ModeRead
		}
	}
}

func (r *Reader) handleEditorKey(ev term.Event) {
	switch ev.Key {
	case term.KeyEscape:
		r.mode = ModeRead
		r.editorBuf = nil
		r.pendingRange = nil
	case term.KeyEnter:
		r.commitAnnotation()
	case term.KeyBackspace:
		if len(r.editorBuf) > 0 {
			r.editorBuf = r.editorBuf[:len(r.editorBuf)-1]
		}
	case term.KeyRune:
		r.editorBuf = append(r.editorBuf, ev.Rune)
	}
}

func (r *Reader) handleMouse(ev term.Event) {
	if r.mode != ModeRead {
		return
	}
	switch {
	case ev.Btn == term.MouseWheelDown && !ev.Up:
		r.moveBy(1)
	case ev.Btn == term.MouseWheelUp && !ev.Up:
		r.moveBy(-1)
	case ev.Btn == term.MouseLeft:
		reg := r.renderer.Registry()
		switch {
		case !ev.Up && !ev.Drag:
			if a, ok := selection.AnchorAt(reg, ev.X, ev.Y, selection.BiasLeading); ok {
				r.selStart = &a
				r.selRange = nil
				r.selecting = true
			}
		case ev.Drag && r.selecting && r.selStart != nil:
			if a, ok := selection.AnchorAt(reg, ev.X, ev.Y, selection.BiasTrailing); ok {
				rng := selection.Normalize(*r.selStart, a)
				r.selRange = &rng
			}
		case ev.Up && r.selecting:
			r.selecting = false
			if r.selRange != nil {
				text := selection.ResolveText(reg, *r.selRange)
				r.pendingText = text
				r.pendingChapter = r.currentChapter()
				r.flash("Selected; press N to annotate")
			}
		}
	}
}

// --- Navigation ---

func (r *Reader) currentChapter() int {
	if r.deps.Config.Pagination == config.PaginationDynamic && r.pag != nil {
		return r.pag.ChapterAt(r.pageIndex)
	}
	return r.chapter
}

func (r *Reader) moveBy(delta int) {
	if r.payload == nil {
		return
	}
	if r.deps.Config.Pagination == config.PaginationDynamic {
		if r.pag == nil {
			return
		}
		step := delta
		if r.deps.Config.ViewMode == config.ViewSplit {
			step *= 2
		}
		r.pageIndex = clamp(r.pageIndex+step, 0, len(r.pag.Pages)-1)
		return
	}
	// Absolute: scroll by whole content heights within the chapter.
	pageSize := paginate.DisplayableLines(paginate.ContentHeight(r.rows), r.deps.Config.LineSpacing)
	lines := r.chapterLines(r.chapter)
	next := r.scroll + delta*pageSize
	switch {
	case next < 0 && r.chapter > 0:
		r.chapter--
		prev := r.chapterLines(r.chapter)
		r.scroll = maxInt((len(prev)-1)/maxInt(pageSize, 1)*pageSize, 0)
	case next >= len(lines) && r.chapter < len(r.payload.Chapters)-1:
		r.chapter++
		r.scroll = 0
	default:
		r.scroll = clamp(next, 0, maxInt(len(lines)-1, 0))
	}
}

func (r *Reader) gotoChapter(ch int) {
	if r.payload == nil {
		return
	}
	ch = clamp(ch, 0, len(r.payload.Chapters)-1)
	if r.deps.Config.Pagination == config.PaginationDynamic && r.pag != nil {
		r.pageIndex = r.pag.PageForChapter(ch)
		return
	}
	r.chapter = ch
	r.scroll = 0
}

func (r *Reader) chapterLines(ch int) []format.DisplayLine {
	if r.payload == nil || ch < 0 || ch >= len(r.payload.Chapters) {
		return nil
	}
	return r.layouts.Lines(r.payload.Row.SourceSHA, &r.payload.Chapters[ch], ch, r.formatOptions())
}

// --- Bookmarks / annotations ---

func (r *Reader) toggleBookmark() {
	if r.payload == nil {
		return
	}
	ch := r.currentChapter()
	offset := r.currentLineOffset()
	text := ""
	for _, l := range r.chapterLines(ch)[minInt(offset, maxInt(len(r.chapterLines(ch))-1, 0)):] {
		if strings.TrimSpace(l.Plain) != "" {
			text = textmetrics.TruncateToWidth(l.Plain, 60)
			break
		}
	}
	added, err := r.deps.UserData.ToggleBookmark(r.bookPath, ch, offset, text)
	if err != nil {
		logging.Errorf("reader", err)
		return
	}
	if added {
		r.flash("Bookmark added")
	} else {
		r.flash("Bookmark removed")
	}
}

func (r *Reader) currentLineOffset() int {
	if r.deps.Config.Pagination == config.PaginationDynamic && r.pag != nil && r.pageIndex < len(r.pag.Pages) {
		return r.pag.Pages[r.pageIndex].LineStart
	}
	return r.scroll
}

func (r *Reader) beginAnnotation() {
	if r.selRange == nil || r.pendingText == "" {
		r.flash("Nothing selected")
		return
	}
	rng := *r.selRange
	r.pendingRange = &rng
	r.editorBuf = nil
	r.mode = ModeAnnotationEditor
}

func (r *Reader) commitAnnotation() {
	if r.pendingRange == nil {
		r.mode = ModeRead
		return
	}
	_, err := r.deps.UserData.AddAnnotation(r.bookPath, r.pendingChapter, *r.pendingRange, r.pendingText, string(r.editorBuf))
	if err != nil {
		logging.Errorf("reader", err)
		r.flash("Annotation not saved")
	} else {
		r.flash("Annotation saved")
	}
	r.mode = ModeRead
	r.editorBuf = nil
	r.pendingRange = nil
	r.selRange = nil
}

func (r *Reader) saveProgress() {
	if r.payload == nil {
		return
	}
	r.syncPosition()
	if err := r.deps.UserData.SaveProgress(r.bookPath, r.currentChapter(), r.currentLineOffset()); err != nil {
		logging.Errorf("reader", err)
	}
}

func (r *Reader) saveConfig() {
	if err := config.Save(r.deps.Config); err != nil {
		logging.Errorf("config", err)
	}
}

// --- Overlays ---

func (r *Reader) overlayLen() int {
	if r.payload == nil {
		return 0
	}
	switch r.mode {
	case ModeTOC:
		return len(r.payload.Book.TOC)
	case ModeBookmarks:
		return len(r.deps.UserData.Bookmarks[r.bookPath])
	case ModeAnnotations:
		return len(r.deps.UserData.Annotations[r.bookPath])
	default:
		return 0
	}
}

func (r *Reader) overlaySelect() {
	if r.payload == nil {
		return
	}
	switch r.mode {
	case ModeTOC:
		toc := r.payload.Book.TOC
		if r.cursor < len(toc) && toc[r.cursor].Navigable {
			r.gotoChapter(toc[r.cursor].ChapterIndex)
			r.mode = ModeRead
		}
	case ModeBookmarks:
		marks := r.deps.UserData.Bookmarks[r.bookPath]
		if r.cursor < len(marks) {
			r.gotoLine(marks[r.cursor].Chapter, marks[r.cursor].LineOffset)
			r.mode = ModeRead
		}
	case ModeAnnotations:
		notes := r.deps.UserData.Annotations[r.bookPath]
		if r.cursor < len(notes) {
			r.gotoLine(notes[r.cursor].Chapter, notes[r.cursor].Range.Start.LineOffset)
			r.mode = ModeRead
		}
	}
}

func (r *Reader) overlayDelete() {
	switch r.mode {
	case ModeBookmarks:
		marks := r.deps.UserData.Bookmarks[r.bookPath]
		if r.cursor < len(marks) {
			if _, err := r.deps.UserData.ToggleBookmark(r.bookPath, marks[r.cursor].Chapter, marks[r.cursor].LineOffset, ""); err != nil {
				logging.Errorf("reader", err)
			}
			if r.cursor >= len(r.deps.UserData.Bookmarks[r.bookPath]) && r.cursor > 0 {
				r.cursor--
			}
		}
	case ModeAnnotations:
		notes := r.deps.UserData.Annotations[r.bookPath]
		if r.cursor < len(notes) {
			if err := r.deps.UserData.DeleteAnnotation(r.bookPath, notes[r.cursor].ID); err != nil {
				logging.Errorf("reader", err)
			}
			if r.cursor > 0 {
				r.cursor--
			}
		}
	}
}

func (r *Reader) gotoLine(ch, offset int) {
	if r.deps.Config.Pagination == config.PaginationDynamic && r.pag != nil {
		r.pageIndex = r.pag.PageForLine(ch, offset)
		return
	}
	r.chapter = clamp(ch, 0, len(r.payload.Chapters)-1)
	r.scroll = offset
}

func clamp(v, lo, hi int) int {
	if hi < lo {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
