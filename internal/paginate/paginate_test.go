package paginate

import (
	"sync/atomic"
	"testing"

	"github.com/shoko-reader/shoko/internal/config"
	"github.com/shoko-reader/shoko/internal/format"
)

func fakeLines(counts []int) LinesFunc {
	return func(ch int) []format.DisplayLine {
		lines := make([]format.DisplayLine, counts[ch])
		for i := range lines {
			lines[i] = format.DisplayLine{Plain: "x"}
		}
		return lines
	}
}

func TestLayoutMetrics(t *testing.T) {
	tests := []struct {
		name string
		got  int
		want int
	}{
		{name: "content height", got: ContentHeight(24), want: 20},
		{name: "content height floor", got: ContentHeight(3), want: 1},
		{name: "single width", got: SingleColumnWidth(100), want: 90},
		{name: "single width min", got: SingleColumnWidth(20), want: 30},
		{name: "single width max", got: SingleColumnWidth(200), want: 120},
		{name: "split width", got: SplitColumnWidth(100), want: 46},
		{name: "split width min", got: SplitColumnWidth(30), want: 20},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %d, want %d", tt.got, tt.want)
			}
		})
	}
}

func TestDisplayableLines(t *testing.T) {
	if got := DisplayableLines(20, config.SpacingCompact); got != 20 {
		t.Errorf("compact = %d", got)
	}
	if got := DisplayableLines(20, config.SpacingNormal); got != 15 {
		t.Errorf("normal = %d", got)
	}
	if got := DisplayableLines(21, config.SpacingRelaxed); got != 11 {
		t.Errorf("relaxed = %d", got)
	}
}

// Dynamic pages cover the whole book with no overlaps.
func TestDynamicCoverage(t *testing.T) {
	counts := []int{25, 0, 7, 10}
	pages, ok := BuildDynamic(len(counts), 10, fakeLines(counts), nil)
	if !ok {
		t.Fatal("build cancelled unexpectedly")
	}

	covered := make([]map[int]bool, len(counts))
	for i := range covered {
		covered[i] = make(map[int]bool)
	}
	for _, pg := range pages {
		for l := pg.LineStart; l < pg.LineEnd; l++ {
			if covered[pg.ChapterIndex][l] {
				t.Errorf("line %d of chapter %d covered twice", l, pg.ChapterIndex)
			}
			covered[pg.ChapterIndex][l] = true
		}
		if pg.LineEnd-pg.LineStart > 10 {
			t.Errorf("page %+v exceeds page size", pg)
		}
	}
	for ch, lines := range covered {
		if len(lines) != counts[ch] {
			t.Errorf("chapter %d covered %d of %d lines", ch, len(lines), counts[ch])
		}
	}

	// The empty chapter still has a landing page.
	d := &Dynamic{Pages: pages, PageSize: 10}
	if got := d.PageForChapter(1); d.Pages[got].ChapterIndex != 1 {
		t.Errorf("no page for empty chapter: %d", got)
	}
}

// page_for_chapter(chapter_at(p)) is the first page of that chapter.
func TestNavigationRoundTrip(t *testing.T) {
	counts := []int{25, 7, 13}
	pages, _ := BuildDynamic(len(counts), 10, fakeLines(counts), nil)
	d := &Dynamic{Pages: pages, PageSize: 10}

	for p := range d.Pages {
		ch := d.ChapterAt(p)
		first := d.PageForChapter(ch)
		if d.Pages[first].ChapterIndex != ch {
			t.Fatalf("page %d: first page %d has chapter %d, want %d", p, first, d.Pages[first].ChapterIndex, ch)
		}
		for q := 0; q < first; q++ {
			if d.Pages[q].ChapterIndex == ch {
				t.Fatalf("page %d is an earlier page of chapter %d", q, ch)
			}
		}
	}
}

func TestNextPrevChapter(t *testing.T) {
	counts := []int{15, 5, 5}
	pages, _ := BuildDynamic(len(counts), 10, fakeLines(counts), nil)
	d := &Dynamic{Pages: pages, PageSize: 10}

	if got := d.NextChapter(0); d.Pages[got].ChapterIndex != 1 {
		t.Errorf("NextChapter(0) = %d", got)
	}
	last := len(d.Pages) - 1
	if got := d.NextChapter(last); got != last {
		t.Errorf("NextChapter at end = %d", got)
	}
	if got := d.PrevChapter(d.PageForChapter(2)); d.Pages[got].ChapterIndex != 1 {
		t.Errorf("PrevChapter = %d", got)
	}
}

func TestBuildCancellation(t *testing.T) {
	var cancelled atomic.Bool
	cancelled.Store(true)
	if _, ok := BuildDynamic(3, 10, fakeLines([]int{5, 5, 5}), &cancelled); ok {
		t.Error("cancelled build reported success")
	}
}

// Rebuilding at a smaller width yields pages within the new height.
func TestRebuildAfterResize(t *testing.T) {
	counts := []int{33}
	wide, _ := BuildDynamic(1, 20, fakeLines(counts), nil)
	narrow, _ := BuildDynamic(1, 8, fakeLines(counts), nil)
	if len(narrow) <= len(wide) {
		t.Errorf("narrow build has %d pages, wide %d", len(narrow), len(wide))
	}
	for _, pg := range narrow {
		if pg.LineEnd-pg.LineStart > 8 {
			t.Errorf("page %+v exceeds new content height", pg)
		}
	}
}

func TestAbsolutePageMap(t *testing.T) {
	a := BuildAbsolute(3, 10, fakeLines([]int{25, 0, 10}))
	want := []int{3, 1, 1}
	for ch, n := range want {
		if a.PagesIn(ch) != n {
			t.Errorf("PagesIn(%d) = %d, want %d", ch, a.PagesIn(ch), n)
		}
	}
	if a.TotalPages() != 5 {
		t.Errorf("TotalPages = %d", a.TotalPages())
	}
	if a.PageBefore(2) != 4 {
		t.Errorf("PageBefore(2) = %d", a.PageBefore(2))
	}
}
