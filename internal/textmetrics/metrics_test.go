package textmetrics

import (
	"strings"
	"testing"
)

func TestVisibleWidth(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  int
	}{
		{name: "ascii", input: "hello", want: 5},
		{name: "empty", input: "", want: 0},
		{name: "east asian wide", input: "日本", want: 4},
		{name: "combining mark", input: "é", want: 1},
		{name: "soft hyphen", input: "­", want: 0},
		{name: "ansi stripped", input: "\x1b[1mbold\x1b[0m", want: 4},
		{name: "tab to stop", input: "ab\tc", want: 9},
		{name: "tab at stop", input: "12345678\tx", want: 17},
		{name: "kitty placeholder", input: "\U0010eeee", want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := VisibleWidth(tt.input); got != tt.want {
				t.Errorf("VisibleWidth(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

func TestTruncateToWidth(t *testing.T) {
	tests := []struct {
		name  string
		input string
		cols  int
		want  string
	}{
		{name: "fits", input: "abc", cols: 5, want: "abc"},
		{name: "cut", input: "abcdef", cols: 3, want: "abc"},
		{name: "zero", input: "abc", cols: 0, want: ""},
		{name: "wide not split", input: "a日b", cols: 2, want: "a"},
		{name: "newline as space", input: "a\nb", cols: 3, want: "a b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TruncateToWidth(tt.input, tt.cols); got != tt.want {
				t.Errorf("TruncateToWidth(%q, %d) = %q, want %q", tt.input, tt.cols, got, tt.want)
			}
		})
	}
}

// Truncation must never split a grapheme cluster.
func TestTruncateGraphemeSafety(t *testing.T) {
	inputs := []string{"ééé", "日本語テスト", "a👍b👍c"}
	for _, s := range inputs {
		for cols := 0; cols < 8; cols++ {
			got := TruncateToWidth(s, cols)
			if VisibleWidth(got) > cols {
				t.Errorf("TruncateToWidth(%q, %d) too wide: %q", s, cols, got)
			}
			if got != "" && !strings.HasPrefix(strings.ReplaceAll(s, "\n", " "), got) {
				t.Errorf("TruncateToWidth(%q, %d) = %q is not a prefix", s, cols, got)
			}
		}
	}
}

func TestPadRight(t *testing.T) {
	if got := PadRight("ab", 5); got != "ab   " {
		t.Errorf("PadRight = %q", got)
	}
	if got := PadRight("abcdef", 3); VisibleWidth(got) != 3 {
		t.Errorf("PadRight over-wide = %q", got)
	}
}

func TestWrapPlainText(t *testing.T) {
	tests := []struct {
		name  string
		input string
		cols  int
		want  []string
	}{
		{name: "blank", input: "", cols: 10, want: []string{""}},
		{name: "single line", input: "hello world", cols: 20, want: []string{"hello world"}},
		{name: "wraps", input: "hello brave new world", cols: 11, want: []string{"hello brave", "new world"}},
		{name: "long token split", input: "abcdefghij", cols: 4, want: []string{"abcd", "efgh", "ij"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := WrapPlainText(tt.input, tt.cols)
			if len(got) != len(tt.want) {
				t.Fatalf("WrapPlainText(%q, %d) = %q, want %q", tt.input, tt.cols, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("line %d = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestWrapWidthBound(t *testing.T) {
	input := "the quick brown fox jumps over the extraordinarily lazy dog 日本語も含めて"
	for _, cols := range []int{5, 10, 20, 40} {
		for _, line := range WrapPlainText(input, cols) {
			if VisibleWidth(line) > cols {
				t.Errorf("cols=%d: line %q exceeds width", cols, line)
			}
		}
	}
}

func TestCells(t *testing.T) {
	cells := Cells("a日b", 5)
	if len(cells) != 3 {
		t.Fatalf("got %d cells", len(cells))
	}
	wantX := []int{5, 6, 8}
	wantW := []int{1, 2, 1}
	for i, c := range cells {
		if c.ScreenX != wantX[i] || c.Width != wantW[i] {
			t.Errorf("cell %d = x%d w%d, want x%d w%d", i, c.ScreenX, c.Width, wantX[i], wantW[i])
		}
	}
	if cells[2].CharStart != 2 || cells[2].CharEnd != 3 {
		t.Errorf("cell 2 rune offsets = [%d,%d)", cells[2].CharStart, cells[2].CharEnd)
	}
}
