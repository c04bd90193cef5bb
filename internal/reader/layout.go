package reader

import (
	"encoding/json"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/shoko-reader/shoko/internal/cache"
	"github.com/shoko-reader/shoko/internal/epub"
	"github.com/shoko-reader/shoko/internal/format"
	"github.com/shoko-reader/shoko/internal/logging"
)

// layoutCacheEntries bounds the in-memory layout LRU by entries;
// layoutCacheBudget by estimated bytes.
const (
	layoutCacheEntries = 256
	layoutCacheBudget  = 32 << 20
)

type layoutKey struct {
	sha     string
	key     string
	chapter int
}

// layoutCache memoizes formatted chapters per (sha, width, view mode,
// line spacing) and mirrors complete layouts to the disk store. The
// mutex serialises the UI goroutine against pagination workers.
type layoutCache struct {
	store    *cache.Store
	mu       sync.Mutex
	mem      *lru.Cache[layoutKey, []format.DisplayLine]
	memBytes int64
}

func newLayoutCache(store *cache.Store) *layoutCache {
	c := &layoutCache{store: store}
	mem, err := lru.NewWithEvict[layoutKey, []format.DisplayLine](layoutCacheEntries, func(_ layoutKey, lines []format.DisplayLine) {
		c.memBytes -= linesBytes(lines)
	})
	if err != nil {
		panic(err) // only on non-positive size
	}
	c.mem = mem
	return c
}

func linesBytes(lines []format.DisplayLine) int64 {
	var n int64
	for i := range lines {
		n += int64(len(lines[i].Plain)) + 64
		for _, seg := range lines[i].Segments {
			n += int64(len(seg.Text)) + 32
		}
	}
	return n
}

// Lines returns the formatted display lines of one chapter, formatting
// on miss. Eviction is by byte budget.
func (c *layoutCache) Lines(sha string, ch *epub.Chapter, chapterIndex int, opts format.Options) []format.DisplayLine {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := layoutKey{sha: sha, key: format.LayoutKey(opts), chapter: chapterIndex}
	if lines, ok := c.mem.Get(k); ok {
		return lines
	}
	lines := format.Chapter(ch, chapterIndex, opts)
	c.mem.Add(k, lines)
	c.memBytes += linesBytes(lines)
	for c.memBytes > layoutCacheBudget && c.mem.Len() > 1 {
		c.mem.RemoveOldest()
	}
	return lines
}

// storedLayout is the persisted whole-book layout payload.
type storedLayout struct {
	Chapters [][]format.DisplayLine `json:"chapters"`
}

// Preload seeds the in-memory cache from a stored layout, returning
// true on a usable hit.
func (c *layoutCache) Preload(sha string, chapterCount int, opts format.Options) bool {
	if c.store == nil {
		return false
	}
	row, err := c.store.FetchLayout(sha, format.LayoutKey(opts))
	if err != nil {
		return false
	}
	var stored storedLayout
	if err := json.Unmarshal(row.PayloadJSON, &stored); err != nil {
		return false
	}
	if len(stored.Chapters) != chapterCount {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, lines := range stored.Chapters {
		k := layoutKey{sha: sha, key: row.Key, chapter: i}
		c.mem.Add(k, lines)
		c.memBytes += linesBytes(lines)
	}
	return true
}

// Persist mirrors the full layout to disk. A failed write keeps the
// in-memory layout valid.
func (c *layoutCache) Persist(sha string, chapters []epub.Chapter, opts format.Options) {
	if c.store == nil {
		return
	}
	stored := storedLayout{Chapters: make([][]format.DisplayLine, len(chapters))}
	for i := range chapters {
		stored.Chapters[i] = c.Lines(sha, &chapters[i], i, opts)
	}
	payload, err := json.Marshal(stored)
	if err != nil {
		return
	}
	if err := c.store.StoreLayout(sha, format.LayoutKey(opts), payload); err != nil {
		logging.Errorf("cache", err)
	}
}
