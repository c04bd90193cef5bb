package reader

import (
	"path/filepath"
	"testing"

	"github.com/benbjohnson/clock"

	"github.com/shoko-reader/shoko/internal/selection"
	"github.com/shoko-reader/shoko/internal/term"
)

func TestActionDispatch(t *testing.T) {
	tests := []struct {
		name string
		mode Mode
		ev   term.Event
		want Action
	}{
		{name: "quit", mode: ModeRead, ev: term.Event{Key: term.KeyRune, Rune: 'q'}, want: ActionQuit},
		{name: "space pages", mode: ModeRead, ev: term.Event{Key: term.KeyRune, Rune: ' '}, want: ActionNextPage},
		{name: "arrow back", mode: ModeRead, ev: term.Event{Key: term.KeyLeft}, want: ActionPrevPage},
		{name: "next chapter", mode: ModeRead, ev: term.Event{Key: term.KeyRune, Rune: 'n'}, want: ActionNextChapter},
		{name: "toc", mode: ModeRead, ev: term.Event{Key: term.KeyRune, Rune: 't'}, want: ActionShowTOC},
		{name: "bookmark", mode: ModeRead, ev: term.Event{Key: term.KeyRune, Rune: 'b'}, want: ActionToggleBookmark},
		{name: "view toggle", mode: ModeRead, ev: term.Event{Key: term.KeyRune, Rune: 'v'}, want: ActionToggleViewMode},
		{name: "unbound", mode: ModeRead, ev: term.Event{Key: term.KeyRune, Rune: 'Z'}, want: ActionNone},
		{name: "overlay down", mode: ModeTOC, ev: term.Event{Key: term.KeyRune, Rune: 'j'}, want: ActionCursorDown},
		{name: "overlay select", mode: ModeTOC, ev: term.Event{Key: term.KeyEnter}, want: ActionSelect},
		{name: "overlay close", mode: ModeBookmarks, ev: term.Event{Key: term.KeyEscape}, want: ActionClose},
		{name: "overlay delete", mode: ModeBookmarks, ev: term.Event{Key: term.KeyRune, Rune: 'd'}, want: ActionDelete},
		{name: "editor escape", mode: ModeAnnotationEditor, ev: term.Event{Key: term.KeyEscape}, want: ActionClose},
		{name: "editor commit", mode: ModeAnnotationEditor, ev: term.Event{Key: term.KeyEnter}, want: ActionSelect},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ActionFor(tt.mode, tt.ev); got != tt.want {
				t.Errorf("ActionFor(%s, %+v) = %d, want %d", tt.mode, tt.ev, got, tt.want)
			}
		})
	}
}

func TestBookmarkToggleRoundTrip(t *testing.T) {
	dir := t.TempDir()
	mock := clock.NewMock()
	u := LoadUserData(dir, mock)

	added, err := u.ToggleBookmark("/b.epub", 2, 14, "snippet")
	if err != nil || !added {
		t.Fatalf("add: added=%v err=%v", added, err)
	}

	// Reload from disk: the bookmark persists.
	u2 := LoadUserData(dir, mock)
	marks := u2.Bookmarks["/b.epub"]
	if len(marks) != 1 || marks[0].Chapter != 2 || marks[0].LineOffset != 14 || marks[0].Text != "snippet" {
		t.Fatalf("persisted = %+v", marks)
	}

	// Toggling the same position removes it.
	added, err = u2.ToggleBookmark("/b.epub", 2, 14, "")
	if err != nil || added {
		t.Fatalf("remove: added=%v err=%v", added, err)
	}
	u3 := LoadUserData(dir, mock)
	if len(u3.Bookmarks["/b.epub"]) != 0 {
		t.Errorf("bookmark survived removal: %+v", u3.Bookmarks)
	}
}

func TestAnnotationPersistence(t *testing.T) {
	dir := t.TempDir()
	mock := clock.NewMock()
	u := LoadUserData(dir, mock)

	rng := selection.Normalize(
		selection.Anchor{PageID: "p0_0", ColumnID: "left", LineOffset: 1, CellIndex: 2},
		selection.Anchor{PageID: "p0_0", ColumnID: "left", LineOffset: 1, CellIndex: 8},
	)
	a, err := u.AddAnnotation("/b.epub", 0, rng, "selected text", "my note")
	if err != nil {
		t.Fatalf("AddAnnotation: %v", err)
	}
	if a.ID == "" {
		t.Error("annotation id empty")
	}

	u2 := LoadUserData(dir, mock)
	notes := u2.Annotations["/b.epub"]
	if len(notes) != 1 || notes[0].Note != "my note" || notes[0].Range.Start.CellIndex != 2 {
		t.Fatalf("persisted = %+v", notes)
	}

	if err := u2.DeleteAnnotation("/b.epub", a.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	u3 := LoadUserData(dir, mock)
	if len(u3.Annotations["/b.epub"]) != 0 {
		t.Error("annotation survived deletion")
	}
}

func TestProgressAndRecent(t *testing.T) {
	dir := t.TempDir()
	mock := clock.NewMock()
	u := LoadUserData(dir, mock)

	if err := u.SaveProgress("/b.epub", 3, 42); err != nil {
		t.Fatalf("SaveProgress: %v", err)
	}
	u.TouchRecent("/b.epub")
	u.TouchRecent("/c.epub")
	u.TouchRecent("/b.epub")

	u2 := LoadUserData(dir, mock)
	p := u2.Progress["/b.epub"]
	if p.Chapter != 3 || p.LineOffset != 42 {
		t.Errorf("progress = %+v", p)
	}
	if len(u2.Recent) != 2 || u2.Recent[0] != "/b.epub" || u2.Recent[1] != "/c.epub" {
		t.Errorf("recent = %v", u2.Recent)
	}

	// The recent list is capped.
	for i := 0; i < recentLimit+10; i++ {
		u2.TouchRecent(filepath.Join(dir, "book", string(rune('a'+i%26))))
	}
	if len(u2.Recent) > recentLimit {
		t.Errorf("recent over cap: %d", len(u2.Recent))
	}
}

func TestUserDataFilesAtomic(t *testing.T) {
	dir := t.TempDir()
	mock := clock.NewMock()
	u := LoadUserData(dir, mock)
	u.SaveProgress("/b.epub", 1, 1)
	u.ToggleBookmark("/b.epub", 0, 0, "x")

	matches, err := filepath.Glob(filepath.Join(dir, "*.tmp"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(matches) != 0 {
		t.Errorf("temp files left: %v", matches)
	}
}
