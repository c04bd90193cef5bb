// Package render composes frames from a view model, writes them through
// the terminal buffer, and records the line geometry consumed by
// selection.
package render

import (
	"fmt"
	"sync/atomic"

	"github.com/shoko-reader/shoko/internal/textmetrics"
)

// LineGeometry records where one content line landed on screen.
type LineGeometry struct {
	PageID       string
	ColumnID     string
	Row          int
	ColumnOrigin int
	LineOffset   int
	ChapterIndex int
	Plain        string
	Styled       string
	Cells        []textmetrics.Cell
}

// Key is the geometry key "{column_id}_{line_offset}_{row}".
func (g *LineGeometry) Key() string {
	return fmt.Sprintf("%s_%d_%d", g.ColumnID, g.LineOffset, g.Row)
}

// VisibleWidth is the width of the recorded cells.
func (g *LineGeometry) VisibleWidth() int {
	w := 0
	for _, c := range g.Cells {
		w += c.Width
	}
	return w
}

// Registry is one frame's worth of geometry. It is immutable once
// published; selection reads it lock-free.
type Registry struct {
	Lines []*LineGeometry
	byKey map[string]*LineGeometry
	byRow map[int][]*LineGeometry
}

// NewRegistry builds the lookup indexes for a set of lines.
func NewRegistry(lines []*LineGeometry) *Registry {
	r := &Registry{
		Lines: lines,
		byKey: make(map[string]*LineGeometry, len(lines)),
		byRow: make(map[int][]*LineGeometry),
	}
	for _, l := range lines {
		r.byKey[l.Key()] = l
		r.byRow[l.Row] = append(r.byRow[l.Row], l)
	}
	return r
}

// ByKey looks up a line by its geometry key.
func (r *Registry) ByKey(key string) (*LineGeometry, bool) {
	l, ok := r.byKey[key]
	return l, ok
}

// AtRow returns the lines rendered on a given screen row.
func (r *Registry) AtRow(row int) []*LineGeometry {
	return r.byRow[row]
}

// registryHolder publishes registries atomically; the swap is a single
// reference assignment so selection never sees a half-written frame.
type registryHolder struct {
	ptr atomic.Pointer[Registry]
}

func (h *registryHolder) publish(r *Registry) {
	h.ptr.Store(r)
}

// current returns the last published registry, possibly empty.
func (h *registryHolder) current() *Registry {
	if r := h.ptr.Load(); r != nil {
		return r
	}
	return NewRegistry(nil)
}
