package reader

import "github.com/shoko-reader/shoko/internal/term"

// Mode is the reader's interaction mode.
type Mode string

const (
	ModeRead             Mode = "read"
	ModeHelp             Mode = "help"
	ModeTOC              Mode = "toc"
	ModeBookmarks        Mode = "bookmarks"
	ModeAnnotations      Mode = "annotations"
	ModeAnnotationEditor Mode = "annotation_editor"
	ModePopup            Mode = "popup"
)

// Action is one dispatched reader command.
type Action int

const (
	ActionNone Action = iota
	ActionQuit
	ActionNextPage
	ActionPrevPage
	ActionNextChapter
	ActionPrevChapter
	ActionFirstPage
	ActionLastPage
	ActionShowTOC
	ActionShowHelp
	ActionShowBookmarks
	ActionShowAnnotations
	ActionToggleViewMode
	ActionCycleSpacing
	ActionToggleBookmark
	ActionTogglePageNumbers
	ActionClose
	ActionCursorUp
	ActionCursorDown
	ActionSelect
	ActionDelete
	ActionAnnotateSelection
)

// ActionFor is the pure dispatch mapping (mode, key) → action.
func ActionFor(mode Mode, ev term.Event) Action {
	if mode != ModeRead && mode != ModeAnnotationEditor {
		return overlayAction(ev)
	}
	if mode == ModeAnnotationEditor {
		// Editor input is handled character-wise by the loop; only the
		// exits dispatch here.
		switch ev.Key {
		case term.KeyEscape:
			return ActionClose
		case term.KeyEnter:
			return ActionSelect
		}
		return ActionNone
	}

	switch ev.Key {
	case term.KeyRight, term.KeyPageDown:
		return ActionNextPage
	case term.KeyLeft, term.KeyPageUp:
		return ActionPrevPage
	case term.KeyDown:
		return ActionNextPage
	case term.KeyUp:
		return ActionPrevPage
	case term.KeyHome:
		return ActionFirstPage
	case term.KeyEnd:
		return ActionLastPage
	case term.KeyEscape:
		return ActionClose
	}

	switch ev.Rune {
	case 'q':
		return ActionQuit
	case ' ', 'j', 'l':
		return ActionNextPage
	case 'k', 'h':
		return ActionPrevPage
	case 'n', ']':
		return ActionNextChapter
	case 'p', '[':
		return ActionPrevChapter
	case 'g':
		return ActionFirstPage
	case 'G':
		return ActionLastPage
	case 't':
		return ActionShowTOC
	case '?':
		return ActionShowHelp
	case 'b':
		return ActionToggleBookmark
	case 'B':
		return ActionShowBookmarks
	case 'a':
		return ActionShowAnnotations
	case 'v':
		return ActionToggleViewMode
	case 's':
		return ActionCycleSpacing
	case '#':
		return ActionTogglePageNumbers
	case 'N':
		return ActionAnnotateSelection
	}
	return ActionNone
}

func overlayAction(ev term.Event) Action {
	switch ev.Key {
	case term.KeyUp:
		return ActionCursorUp
	case term.KeyDown:
		return ActionCursorDown
	case term.KeyEnter:
		return ActionSelect
	case term.KeyEscape:
		return ActionClose
	}
	switch ev.Rune {
	case 'k':
		return ActionCursorUp
	case 'j':
		return ActionCursorDown
	case 'q':
		return ActionClose
	case 'd':
		return ActionDelete
	}
	return ActionNone
}

// helpLines is the static help overlay content.
var helpLines = []string{
	"space/j/l  next page",
	"k/h        previous page",
	"n/]        next chapter",
	"p/[        previous chapter",
	"g/G        first / last page",
	"t          table of contents",
	"b          toggle bookmark",
	"B          bookmarks",
	"a          annotations",
	"v          single / split view",
	"s          cycle line spacing",
	"#          toggle page numbers",
	"mouse drag select, then N to annotate",
	"q          quit",
}
