package term

import (
	"strings"
	"testing"
)

func renderFrame(b *Buffer, writes map[int]string) {
	b.StartFrame()
	for row, text := range writes {
		b.Write(row, 0, text)
	}
	b.EndFrame()
}

func TestRecorderResize(t *testing.T) {
	rec := NewRecorder(0, 0)
	rec.Resize(30, 100)
	rows, cols := rec.Size()
	if rows != 30 || cols != 100 {
		t.Errorf("size = %d x %d", rows, cols)
	}
}

// A frame that changes a single row emits exactly one cursor-position
// sequence and touches no other row.
func TestDifferentialMinimality(t *testing.T) {
	rec := NewRecorder(10, 40)
	b := NewBuffer(rec)

	renderFrame(b, map[int]string{
		2: "first line",
		5: "second line",
		7: "third line",
	})
	rec.ResetOps()

	renderFrame(b, map[int]string{
		2: "first line",
		5: "CHANGED line",
		7: "third line",
	})

	out := rec.Output()
	moveCount := 0
	for _, part := range strings.Split(out, "\x1b[") {
		if strings.Contains(part, "H") {
			if idx := strings.IndexByte(part, 'H'); idx > 0 && strings.Contains(part[:idx], ";") {
				moveCount++
			}
		}
	}
	if moveCount != 1 {
		t.Errorf("cursor moves = %d, want 1 (output %q)", moveCount, out)
	}
	if strings.Contains(out, "first") || strings.Contains(out, "third") {
		t.Errorf("unchanged rows rewritten: %q", out)
	}
	if !strings.Contains(out, "CHANGED") {
		t.Errorf("changed row missing: %q", out)
	}
}

func TestIdenticalFramesEmitNothing(t *testing.T) {
	rec := NewRecorder(5, 20)
	b := NewBuffer(rec)
	renderFrame(b, map[int]string{1: "static"})
	rec.ResetOps()
	renderFrame(b, map[int]string{1: "static"})
	if out := rec.Output(); out != "" {
		t.Errorf("identical frame emitted %q", out)
	}
}

func TestStyledWrite(t *testing.T) {
	rec := NewRecorder(5, 20)
	b := NewBuffer(rec)
	renderFrame(b, map[int]string{0: "\x1b[1mbold\x1b[0m plain"})

	out := rec.Output()
	if !strings.Contains(out, "\x1b[1m") {
		t.Errorf("SGR missing from output: %q", out)
	}
	if !strings.Contains(out, "bold") || !strings.Contains(out, "plain") {
		t.Errorf("text missing: %q", out)
	}
}

func TestWideClusterOccupiesTwoCells(t *testing.T) {
	rec := NewRecorder(5, 20)
	b := NewBuffer(rec)

	b.StartFrame()
	b.Write(0, 0, "日x")
	b.EndFrame()

	out := rec.Output()
	if !strings.Contains(out, "日x") {
		t.Errorf("wide cluster output = %q", out)
	}
}

func TestClippingAtEdge(t *testing.T) {
	rec := NewRecorder(3, 5)
	b := NewBuffer(rec)
	b.StartFrame()
	b.Write(0, 3, "abcdef") // clipped after 2 cells
	b.Write(9, 0, "off-screen")
	b.EndFrame()

	out := rec.Output()
	if strings.Contains(out, "c") || strings.Contains(out, "off") {
		t.Errorf("clipping failed: %q", out)
	}
}

func TestResizeForcesRepaint(t *testing.T) {
	rec := NewRecorder(5, 20)
	b := NewBuffer(rec)
	renderFrame(b, map[int]string{0: "hello"})
	rec.ResetOps()

	rec.Resize(6, 30)
	b.Size()
	renderFrame(b, map[int]string{0: "hello"})
	if out := rec.Output(); !strings.Contains(out, "hello") {
		t.Errorf("no repaint after resize: %q", out)
	}
}
