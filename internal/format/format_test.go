package format

import (
	"reflect"
	"strings"
	"testing"

	"github.com/shoko-reader/shoko/internal/config"
	"github.com/shoko-reader/shoko/internal/epub"
	"github.com/shoko-reader/shoko/internal/textmetrics"
)

func defaultOpts(width int) Options {
	return Options{
		Width:       width,
		LineSpacing: config.SpacingNormal,
		ViewMode:    config.ViewSingle,
	}
}

func chapterFrom(body string) *epub.Chapter {
	return &epub.Chapter{
		Position: 0,
		Number:   1,
		Title:    "Test",
		RawXHTML: []byte("<html><body>" + body + "</body></html>"),
		Metadata: map[string]string{"source_path": "ch1.xhtml"},
	}
}

// The trivial book renders as heading, blank spacer, paragraph.
func TestTrivialChapterLayout(t *testing.T) {
	ch := chapterFrom("<h1>Hello</h1><p>World</p>")
	lines := Chapter(ch, 0, defaultOpts(20))

	if len(lines) != 3 {
		t.Fatalf("lines = %d: %+v", len(lines), lines)
	}
	if lines[0].Plain != "Hello" {
		t.Errorf("line 0 = %q", lines[0].Plain)
	}
	if len(lines[0].Segments) == 0 || !lines[0].Segments[0].Style.Bold {
		t.Error("heading line not bold")
	}
	if !lines[1].Meta.Spacer || lines[1].Plain != "" {
		t.Errorf("line 1 not a blank spacer: %+v", lines[1])
	}
	if lines[2].Plain != "World" {
		t.Errorf("line 2 = %q", lines[2].Plain)
	}
	for _, l := range lines {
		if l.Meta.ChapterIndex != 0 || l.Meta.ChapterSourcePath != "ch1.xhtml" {
			t.Errorf("meta = %+v", l.Meta)
		}
	}
}

// Formatting is a pure function: equal inputs, structurally equal output.
func TestFormatterDeterminism(t *testing.T) {
	body := `<h1>Title</h1><p>Some <b>styled</b> text that wraps over lines</p>
<ul><li>first</li><li>second</li></ul><pre>x = 1</pre>`
	a := Chapter(chapterFrom(body), 0, defaultOpts(24))
	b := Chapter(chapterFrom(body), 0, defaultOpts(24))
	if !reflect.DeepEqual(a, b) {
		t.Error("formatter output differs between identical runs")
	}
}

// Every non-preformatted line fits the requested width.
func TestWrappingWidthBound(t *testing.T) {
	body := `<p>The quick brown fox jumps over the lazy dog again and again and again</p>
<blockquote><p>Quoted wisdom that also needs to wrap around the margin</p></blockquote>
<ul><li>a rather long list item that will certainly need wrapping</li></ul>`
	for _, width := range []int{12, 20, 40, 80} {
		for _, l := range Chapter(chapterFrom(body), 0, defaultOpts(width)) {
			if l.Meta.Preserve {
				continue
			}
			if got := textmetrics.VisibleWidth(l.Plain); got > width {
				t.Errorf("width %d: line %q has width %d", width, l.Plain, got)
			}
		}
	}
}

func TestListPrefixes(t *testing.T) {
	body := `<ol><li>one two three four five six seven</li></ol>`
	lines := Chapter(chapterFrom(body), 0, defaultOpts(14))
	if len(lines) < 2 {
		t.Fatalf("expected wrapped list item, got %+v", lines)
	}
	if !strings.HasPrefix(lines[0].Plain, "1. ") {
		t.Errorf("first line = %q", lines[0].Plain)
	}
	if !strings.HasPrefix(lines[1].Plain, "   ") {
		t.Errorf("continuation not indented: %q", lines[1].Plain)
	}
	if lines[0].Meta.List == nil || lines[0].Meta.List.Marker != "1." {
		t.Errorf("list meta = %+v", lines[0].Meta.List)
	}
}

func TestQuotePrefix(t *testing.T) {
	lines := Chapter(chapterFrom("<blockquote><p>quoted text</p></blockquote>"), 0, defaultOpts(30))
	if len(lines) == 0 || !strings.HasPrefix(lines[0].Plain, "│ ") {
		t.Fatalf("quote line = %+v", lines)
	}
}

func TestSeparatorLength(t *testing.T) {
	tests := []struct {
		width int
		want  int
	}{
		{width: 20, want: 20},
		{width: 60, want: 40},
	}
	for _, tt := range tests {
		lines := Chapter(chapterFrom("<hr/>"), 0, defaultOpts(tt.width))
		if len(lines) != 1 {
			t.Fatalf("width %d: lines = %+v", tt.width, lines)
		}
		if got := textmetrics.VisibleWidth(lines[0].Plain); got != tt.want {
			t.Errorf("width %d: separator width = %d, want %d", tt.width, got, tt.want)
		}
	}
}

func TestPreformattedNeverWraps(t *testing.T) {
	long := strings.Repeat("x", 60)
	lines := Chapter(chapterFrom("<pre>"+long+"\nshort</pre>"), 0, defaultOpts(20))
	if len(lines) != 2 {
		t.Fatalf("lines = %d", len(lines))
	}
	if lines[0].Plain != long {
		t.Errorf("preformatted line was altered: %q", lines[0].Plain)
	}
	if !lines[0].Meta.Preserve {
		t.Error("preserve flag missing")
	}
}

func TestBlankLinePolicy(t *testing.T) {
	// Consecutive list items have no blank between them; a paragraph
	// following a list does.
	body := `<ul><li>a</li><li>b</li></ul><p>after</p>`
	lines := Chapter(chapterFrom(body), 0, defaultOpts(40))

	var kinds []string
	for _, l := range lines {
		if l.Meta.Spacer {
			kinds = append(kinds, "blank")
		} else {
			kinds = append(kinds, l.Meta.BlockKind+":"+l.Plain)
		}
	}
	want := []string{"list_item:• a", "list_item:• b", "blank", "paragraph:after"}
	if !reflect.DeepEqual(kinds, want) {
		t.Errorf("layout = %v, want %v", kinds, want)
	}
}

func TestImageAltPlaceholder(t *testing.T) {
	lines := Chapter(chapterFrom(`<img src="cover.png" alt="The Cover"/>`), 0, defaultOpts(40))
	if len(lines) != 1 {
		t.Fatalf("lines = %+v", lines)
	}
	if lines[0].Plain != "[image: The Cover]" {
		t.Errorf("placeholder = %q", lines[0].Plain)
	}
}

func TestImageRenderReservation(t *testing.T) {
	opts := defaultOpts(20)
	opts.ImageRendering = true
	lines := Chapter(chapterFrom(`<img src="cover.png" alt="c"/>`), 0, opts)

	// rows = clamp(round(20*0.5), 4, 18) = 10
	if len(lines) != 10 {
		t.Fatalf("reserved rows = %d, want 10", len(lines))
	}
	if lines[0].Meta.Image == nil {
		t.Fatal("first line missing image metadata")
	}
	img := lines[0].Meta.Image
	if img.Cols != 20 || img.Rows != 10 || img.Src != "cover.png" {
		t.Errorf("image render = %+v", img)
	}
	if img.PlacementID == 0 && img.ImageID == 0 {
		t.Error("placement ids not derived")
	}
	for i := 1; i < len(lines); i++ {
		if !lines[i].Meta.Spacer || lines[i].Meta.Image != nil {
			t.Errorf("row %d = %+v", i, lines[i].Meta)
		}
	}

	// Unsupported extension falls back to alt text even when enabled.
	fallback := Chapter(chapterFrom(`<img src="cover.svg" alt="v"/>`), 0, opts)
	if len(fallback) != 1 || fallback[0].Plain != "[image: v]" {
		t.Errorf("svg fallback = %+v", fallback)
	}
}

func TestLayoutKey(t *testing.T) {
	key := LayoutKey(Options{Width: 72, LineSpacing: config.SpacingRelaxed, ViewMode: config.ViewSplit})
	if key != "w72_split_relaxed" {
		t.Errorf("key = %q", key)
	}
}
