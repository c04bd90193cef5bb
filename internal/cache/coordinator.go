package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/benbjohnson/clock"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/shoko-reader/shoko/internal/epub"
	"github.com/shoko-reader/shoko/internal/logging"
	"github.com/shoko-reader/shoko/internal/zipreader"
)

// payloadCacheEntries bounds the in-memory payload LRU by entry count;
// payloadCacheBudget bounds it by total raw-chapter and resource bytes.
const (
	payloadCacheEntries = 16
	payloadCacheBudget  = 64 << 20
)

// Ingester rebuilds a payload from a source archive on cache miss.
type Ingester func(path string, limits zipreader.Limits) (*epub.Book, []epub.Chapter, error)

// Coordinator decides cache hit or miss for a source path and owns the
// in-memory payload cache. It is used from the UI goroutine only.
type Coordinator struct {
	store   *Store
	ingest  Ingester
	limits  zipreader.Limits
	clock   clock.Clock
	mem     *lru.Cache[string, *Payload]
	memSize int64
}

// NewCoordinator wires a coordinator over store with the given ingester.
func NewCoordinator(store *Store, ingest Ingester, limits zipreader.Limits, clk clock.Clock) (*Coordinator, error) {
	c := &Coordinator{
		store:  store,
		ingest: ingest,
		limits: limits,
		clock:  clk,
	}
	mem, err := lru.NewWithEvict[string, *Payload](payloadCacheEntries, func(_ string, p *Payload) {
		c.memSize -= payloadBytes(p)
	})
	if err != nil {
		return nil, err
	}
	c.mem = mem
	return c, nil
}

func payloadBytes(p *Payload) int64 {
	var n int64
	for i := range p.Chapters {
		n += int64(len(p.Chapters[i].RawXHTML))
	}
	for _, blob := range p.Resources {
		n += int64(len(blob))
	}
	return n
}

func (c *Coordinator) remember(sha string, p *Payload) {
	c.mem.Add(sha, p)
	c.memSize += payloadBytes(p)
	// Eviction is by byte budget, not count.
	for c.memSize > payloadCacheBudget && c.mem.Len() > 1 {
		c.mem.RemoveOldest()
	}
}

// DigestFile computes the sha256 of the file bytes at path.
func DigestFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %q: %w", path, err)
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("digest %q: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Open resolves path (archive or pointer file) to a payload, serving
// from memory, then disk, then a rebuild.
func (c *Coordinator) Open(path string) (*Payload, error) {
	if ptr, ok := ReadPointer(path); ok {
		return c.openPointer(ptr)
	}
	return c.openArchive(path)
}

func (c *Coordinator) openPointer(ptr Pointer) (*Payload, error) {
	if p, ok := c.mem.Get(ptr.SHA256); ok && c.fresh(p) {
		return p, nil
	}
	p, err := c.store.FetchPayload(ptr.SHA256)
	if err == nil && c.fresh(p) {
		c.remember(ptr.SHA256, p)
		return p, nil
	}
	if err != nil {
		logging.Debugf("cache", "pointer fetch %.8s: %v", ptr.SHA256, err)
	}
	// Pointer entries can only rebuild when the original source exists.
	if _, statErr := os.Stat(ptr.SourcePath); statErr != nil {
		if p != nil {
			return p, nil
		}
		return nil, &CacheLoadError{Path: ptr.SourcePath, Reason: "source missing and cache unusable"}
	}
	return c.rebuild(ptr.SourcePath)
}

func (c *Coordinator) openArchive(path string) (*Payload, error) {
	sha, err := DigestFile(path)
	if err != nil {
		return nil, err
	}
	if p, ok := c.mem.Get(sha); ok {
		return p, nil
	}
	p, err := c.store.FetchPayload(sha)
	if err == nil {
		c.remember(sha, p)
		return p, nil
	}
	logging.Debugf("cache", "miss for %.8s: %v", sha, err)
	return c.rebuildWithSHA(path, sha)
}

// fresh reports whether a stored payload is still current with respect
// to its source file's mtime. A vanished source keeps serving the cache.
func (c *Coordinator) fresh(p *Payload) bool {
	if p.Row.PayloadVersion != PayloadVersion || p.Row.CacheVersion != CacheVersion {
		return false
	}
	info, err := os.Stat(p.Row.SourcePath)
	if err != nil {
		return true
	}
	generated, err := time.Parse(time.RFC3339, p.Row.GeneratedAt)
	if err != nil {
		return false
	}
	return !info.ModTime().After(generated)
}

func (c *Coordinator) rebuild(path string) (*Payload, error) {
	sha, err := DigestFile(path)
	if err != nil {
		return nil, err
	}
	return c.rebuildWithSHA(path, sha)
}

func (c *Coordinator) rebuildWithSHA(path, sha string) (*Payload, error) {
	book, chapters, err := c.ingest(path, c.limits)
	if err != nil {
		return nil, err
	}

	var mtime int64
	if info, statErr := os.Stat(path); statErr == nil {
		mtime = info.ModTime().Unix()
	}
	p := &Payload{
		Row: BookRow{
			SourceSHA:   sha,
			SourcePath:  path,
			SourceMtime: mtime,
			GeneratedAt: c.clock.Now().UTC().Format(time.RFC3339),
		},
		Book:      book,
		Chapters:  chapters,
		Resources: book.Resources,
	}
	if err := c.store.StorePayload(sha, p); err != nil {
		// A failed write leaves the in-memory book valid.
		logging.Errorf("cache", err)
	}
	c.remember(sha, p)
	return p, nil
}

// Store exposes the underlying disk store.
func (c *Coordinator) Store() *Store { return c.store }
