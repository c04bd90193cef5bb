package selection

import (
	"testing"

	"github.com/shoko-reader/shoko/internal/render"
	"github.com/shoko-reader/shoko/internal/textmetrics"
)

func lineAt(columnID string, row, origin, lineOffset int, text string) *render.LineGeometry {
	return &render.LineGeometry{
		PageID:       "p0_0",
		ColumnID:     columnID,
		Row:          row,
		ColumnOrigin: origin,
		LineOffset:   lineOffset,
		Plain:        text,
		Cells:        textmetrics.Cells(text, origin),
	}
}

func TestAnchorAtLeading(t *testing.T) {
	reg := render.NewRegistry([]*render.LineGeometry{
		lineAt("left", 10, 5, 0, "abcdefgh"),
	})

	a, ok := AnchorAt(reg, 7, 10, BiasLeading)
	if !ok {
		t.Fatal("no anchor")
	}
	if a.CellIndex != 2 {
		t.Errorf("cell index = %d, want 2", a.CellIndex)
	}
	if a.GeometryKey != "left_0_10" {
		t.Errorf("geometry key = %q", a.GeometryKey)
	}
	if a.ColumnOrigin != 5 || a.Row != 10 {
		t.Errorf("anchor = %+v", a)
	}
}

// Every cell round-trips through its own screen x under leading bias.
func TestSelectionRoundTrip(t *testing.T) {
	line := lineAt("left", 4, 3, 7, "mixed 日本 text")
	reg := render.NewRegistry([]*render.LineGeometry{line})

	for i, c := range line.Cells {
		a, ok := AnchorAt(reg, c.ScreenX, 4, BiasLeading)
		if !ok {
			t.Fatalf("cell %d: no anchor", i)
		}
		if a.CellIndex != i {
			t.Errorf("cell %d round-tripped to %d", i, a.CellIndex)
		}
	}
}

func TestAnchorMisses(t *testing.T) {
	reg := render.NewRegistry([]*render.LineGeometry{
		lineAt("left", 10, 5, 0, "abc"),
	})
	if _, ok := AnchorAt(reg, 2, 10, BiasLeading); ok {
		t.Error("hit left of column")
	}
	if _, ok := AnchorAt(reg, 9, 10, BiasLeading); ok {
		t.Error("hit right of column width")
	}
	if _, ok := AnchorAt(reg, 6, 11, BiasLeading); ok {
		t.Error("hit on wrong row")
	}
}

func TestNormalize(t *testing.T) {
	a := Anchor{PageID: "p0_0", LineOffset: 3, ColumnID: "left", Row: 5, CellIndex: 2}
	b := Anchor{PageID: "p0_0", LineOffset: 1, ColumnID: "left", Row: 3, CellIndex: 7}

	rng := Normalize(a, b)
	if rng.Start != b || rng.End != a {
		t.Errorf("normalize = %+v", rng)
	}
	// Already ordered pairs pass through.
	rng2 := Normalize(b, a)
	if rng2 != rng {
		t.Errorf("normalize not symmetric: %+v vs %+v", rng, rng2)
	}
	// Ordering ties break on cell index.
	c := Anchor{PageID: "p0_0", LineOffset: 1, ColumnID: "left", Row: 3, CellIndex: 2}
	rng3 := Normalize(b, c)
	if rng3.Start != c || rng3.End != b {
		t.Errorf("cell tie-break = %+v", rng3)
	}
}

// Scenario: width-1 cells at origin 5 on row 10. Leading hit at x=7 is
// cell 2; extending trailing to x=9 covers cells 2..3.
func TestDragSelectionResolvesText(t *testing.T) {
	line := lineAt("left", 10, 5, 0, "abcdefgh")
	reg := render.NewRegistry([]*render.LineGeometry{line})

	start, ok := AnchorAt(reg, 7, 10, BiasLeading)
	if !ok || start.CellIndex != 2 {
		t.Fatalf("start = %+v ok=%v", start, ok)
	}
	end, ok := AnchorAt(reg, 9, 10, BiasTrailing)
	if !ok {
		t.Fatal("no end anchor")
	}

	rng := Normalize(start, end)
	got := ResolveText(reg, rng)
	if got != "cd" {
		t.Errorf("resolved text = %q, want %q", got, "cd")
	}
}

func TestResolveTextAcrossLines(t *testing.T) {
	l0 := lineAt("left", 10, 5, 0, "first")
	l1 := lineAt("left", 11, 5, 1, "second")
	reg := render.NewRegistry([]*render.LineGeometry{l0, l1})

	start := Anchor{PageID: "p0_0", ColumnID: "left", LineOffset: 0, Row: 10, CellIndex: 3}
	end := Anchor{PageID: "p0_0", ColumnID: "left", LineOffset: 1, Row: 11, CellIndex: 2}
	got := ResolveText(reg, Normalize(start, end))
	if got != "st\nsec" {
		t.Errorf("resolved = %q", got)
	}
}

func TestRangeContains(t *testing.T) {
	rng := Range{
		Start: Anchor{ColumnID: "left", LineOffset: 2, CellIndex: 3},
		End:   Anchor{ColumnID: "left", LineOffset: 4, CellIndex: 1},
	}
	tests := []struct {
		line, cell int
		want       bool
	}{
		{line: 1, cell: 9, want: false},
		{line: 2, cell: 2, want: false},
		{line: 2, cell: 3, want: true},
		{line: 3, cell: 0, want: true},
		{line: 4, cell: 1, want: true},
		{line: 4, cell: 2, want: false},
		{line: 5, cell: 0, want: false},
	}
	for _, tt := range tests {
		if got := rng.Contains("left", tt.line, tt.cell); got != tt.want {
			t.Errorf("Contains(%d, %d) = %v, want %v", tt.line, tt.cell, got, tt.want)
		}
	}
}
