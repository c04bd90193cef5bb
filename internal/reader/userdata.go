package reader

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gofrs/uuid"

	"github.com/shoko-reader/shoko/internal/selection"
)

// Bookmark marks a line in a book.
type Bookmark struct {
	Chapter    int    `json:"chapter"`
	LineOffset int    `json:"line_offset"`
	Text       string `json:"text"`
	Timestamp  int64  `json:"timestamp"`
}

// Annotation attaches a note to a selected range.
type Annotation struct {
	ID        string          `json:"id"`
	Chapter   int             `json:"chapter"`
	Range     selection.Range `json:"range"`
	Text      string          `json:"text"`
	Note      string          `json:"note"`
	CreatedAt int64           `json:"created_at"`
}

// Progress is the last reading position in a book.
type Progress struct {
	Chapter    int   `json:"chapter"`
	LineOffset int   `json:"line_offset"`
	Timestamp  int64 `json:"timestamp"`
}

// UserData persists bookmarks, annotations, progress and the recent
// list under the config root. All writes are atomic.
type UserData struct {
	dir   string
	clock clock.Clock

	Bookmarks   map[string][]Bookmark   `json:"-"`
	Annotations map[string][]Annotation `json:"-"`
	Progress    map[string]Progress     `json:"-"`
	Recent      []string                `json:"-"`
}

const recentLimit = 20

// LoadUserData reads all persisted user state from dir.
func LoadUserData(dir string, clk clock.Clock) *UserData {
	u := &UserData{
		dir:         dir,
		clock:       clk,
		Bookmarks:   make(map[string][]Bookmark),
		Annotations: make(map[string][]Annotation),
		Progress:    make(map[string]Progress),
	}
	readJSON(filepath.Join(dir, "bookmarks.json"), &u.Bookmarks)
	readJSON(filepath.Join(dir, "annotations.json"), &u.Annotations)
	readJSON(filepath.Join(dir, "progress.json"), &u.Progress)
	readJSON(filepath.Join(dir, "recent.json"), &u.Recent)
	return u
}

func readJSON(path string, v interface{}) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	json.Unmarshal(data, v)
}

func writeJSON(path string, v interface{}) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("user data dir: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %q: %w", path, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %q: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename %q: %w", path, err)
	}
	return nil
}

// ToggleBookmark adds a bookmark at (chapter, lineOffset) or removes an
// existing one at the same position. Returns true when added.
func (u *UserData) ToggleBookmark(bookPath string, chapter, lineOffset int, text string) (bool, error) {
	marks := u.Bookmarks[bookPath]
	for i, b := range marks {
		if b.Chapter == chapter && b.LineOffset == lineOffset {
			u.Bookmarks[bookPath] = append(marks[:i], marks[i+1:]...)
			return false, u.saveBookmarks()
		}
	}
	u.Bookmarks[bookPath] = append(marks, Bookmark{
		Chapter:    chapter,
		LineOffset: lineOffset,
		Text:       text,
		Timestamp:  u.clock.Now().Unix(),
	})
	return true, u.saveBookmarks()
}

func (u *UserData) saveBookmarks() error {
	return writeJSON(filepath.Join(u.dir, "bookmarks.json"), u.Bookmarks)
}

// AddAnnotation stores a new annotation for the normalized range.
func (u *UserData) AddAnnotation(bookPath string, chapter int, rng selection.Range, text, note string) (Annotation, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return Annotation{}, fmt.Errorf("annotation id: %w", err)
	}
	a := Annotation{
		ID:        id.String(),
		Chapter:   chapter,
		Range:     rng,
		Text:      text,
		Note:      note,
		CreatedAt: u.clock.Now().Unix(),
	}
	u.Annotations[bookPath] = append(u.Annotations[bookPath], a)
	return a, writeJSON(filepath.Join(u.dir, "annotations.json"), u.Annotations)
}

// DeleteAnnotation removes an annotation by id.
func (u *UserData) DeleteAnnotation(bookPath, id string) error {
	list := u.Annotations[bookPath]
	for i, a := range list {
		if a.ID == id {
			u.Annotations[bookPath] = append(list[:i], list[i+1:]...)
			break
		}
	}
	return writeJSON(filepath.Join(u.dir, "annotations.json"), u.Annotations)
}

// SaveProgress records the reading position for a book.
func (u *UserData) SaveProgress(bookPath string, chapter, lineOffset int) error {
	u.Progress[bookPath] = Progress{
		Chapter:    chapter,
		LineOffset: lineOffset,
		Timestamp:  u.clock.Now().Unix(),
	}
	return writeJSON(filepath.Join(u.dir, "progress.json"), u.Progress)
}

// TouchRecent moves bookPath to the front of the recent list.
func (u *UserData) TouchRecent(bookPath string) error {
	out := make([]string, 0, len(u.Recent)+1)
	out = append(out, bookPath)
	for _, p := range u.Recent {
		if p != bookPath {
			out = append(out, p)
		}
	}
	if len(out) > recentLimit {
		out = out[:recentLimit]
	}
	u.Recent = out
	return writeJSON(filepath.Join(u.dir, "recent.json"), u.Recent)
}

// FormatTimestamp renders a bookmark timestamp for list overlays.
func FormatTimestamp(ts int64) string {
	return time.Unix(ts, 0).Format("2006-01-02 15:04")
}
