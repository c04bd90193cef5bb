// Package cache persists ingestion products on disk, keyed by the sha256
// of the source archive. All writes are atomic (tmp + rename) and chapter
// payloads are generational so readers never observe partial stores.
package cache

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/shoko-reader/shoko/internal/epub"
	"github.com/shoko-reader/shoko/internal/logging"
)

const (
	// PayloadVersion tracks the book row schema; CacheVersion the global
	// cache layout. Either changing invalidates stored payloads.
	PayloadVersion = 1
	CacheVersion   = 1

	manifestFile       = "manifest.json"
	legacyManifestFile = "books.json"
	shaDirLen          = 16
)

// CacheLoadError reports an unreadable cache artifact; callers rebuild.
type CacheLoadError struct {
	Path   string
	Reason string
}

func (e *CacheLoadError) Error() string {
	return fmt.Sprintf("cache load %q: %s", e.Path, e.Reason)
}

// CacheWriteError reports a failed cache write; the in-memory model
// stays valid.
type CacheWriteError struct {
	Path string
	Err  error
}

func (e *CacheWriteError) Error() string {
	return fmt.Sprintf("cache write %q: %v", e.Path, e.Err)
}

func (e *CacheWriteError) Unwrap() error { return e.Err }

// BookRow is the persisted metadata row (book.json and manifest rows).
type BookRow struct {
	SourceSHA       string `json:"source_sha"`
	SourcePath      string `json:"source_path"`
	SourceMtime     int64  `json:"source_mtime"`
	PayloadVersion  int    `json:"payload_version"`
	GeneratedAt     string `json:"generated_at"`
	Title           string `json:"title"`
	Language        string `json:"language"`
	AuthorsJSON     string `json:"authors_json"`
	MetadataJSON    string `json:"metadata_json"`
	OPFPath         string `json:"opf_path"`
	SpineJSON       string `json:"spine_json"`
	ChapterHrefsJSON string `json:"chapter_hrefs_json"`
	TOCJSON         string `json:"toc_json"`
	ContainerPath   string `json:"container_path"`
	ContainerXML    string `json:"container_xml"`
	CacheVersion    int    `json:"cache_version"`
	CreatedAt       string `json:"created_at"`
	UpdatedAt       string `json:"updated_at"`
}

// chapterRow is one row of chapters/{gen}/index.json.
type chapterRow struct {
	Position     int    `json:"position"`
	Number       int    `json:"number,omitempty"`
	Title        string `json:"title,omitempty"`
	MetadataJSON string `json:"metadata_json,omitempty"`
}

// LayoutRow is the persisted per-key layout payload.
type LayoutRow struct {
	Key         string          `json:"key"`
	Version     int             `json:"version"`
	PayloadJSON json.RawMessage `json:"payload_json"`
	UpdatedAt   string          `json:"updated_at"`
}

// Payload bundles everything the store persists for one book.
type Payload struct {
	Row       BookRow
	Book      *epub.Book
	Chapters  []epub.Chapter
	Resources map[string][]byte
}

// Store is the on-disk cache under the XDG cache home.
type Store struct {
	root  string
	clock clock.Clock

	mu     sync.Mutex
	perSHA map[string]*sync.Mutex
}

// NewStore creates a store rooted at dir.
func NewStore(dir string, clk clock.Clock) *Store {
	return &Store{
		root:   dir,
		clock:  clk,
		perSHA: make(map[string]*sync.Mutex),
	}
}

// Root returns the cache root directory.
func (s *Store) Root() string { return s.root }

func (s *Store) shaLock(sha string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.perSHA[sha]
	if !ok {
		m = &sync.Mutex{}
		s.perSHA[sha] = m
	}
	return m
}

// bookDir maps a sha to its directory, using a safe prefix.
func (s *Store) bookDir(sha string) string {
	prefix := sha
	if len(prefix) > shaDirLen {
		prefix = prefix[:shaDirLen]
	}
	return filepath.Join(s.root, prefix)
}

// writeFileAtomic writes data to dest via a temp file and rename.
func writeFileAtomic(dest string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return &CacheWriteError{Path: dest, Err: err}
	}
	tmp := dest + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return &CacheWriteError{Path: dest, Err: err}
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return &CacheWriteError{Path: dest, Err: err}
	}
	return nil
}

func marshalString(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(data)
}

// StorePayload persists the book, its chapters and resources for sha.
// Chapters go to a fresh generation; old generations are removed only
// after the new one is complete, and the manifest row is rewritten last.
func (s *Store) StorePayload(sha string, p *Payload) error {
	lock := s.shaLock(sha)
	lock.Lock()
	defer lock.Unlock()

	dir := s.bookDir(sha)
	now := s.clock.Now().UTC().Format(time.RFC3339)

	row := p.Row
	row.SourceSHA = sha
	row.PayloadVersion = PayloadVersion
	row.CacheVersion = CacheVersion
	row.Title = p.Book.Title
	row.Language = p.Book.Language
	row.AuthorsJSON = marshalString(p.Book.Authors)
	row.MetadataJSON = marshalString(p.Book.Metadata)
	row.OPFPath = p.Book.OPFPath
	row.SpineJSON = marshalString(p.Book.Spine)
	row.ChapterHrefsJSON = marshalString(chapterHrefs(p.Book))
	row.TOCJSON = marshalString(p.Book.TOC)
	row.ContainerPath = p.Book.ContainerPath
	row.ContainerXML = p.Book.ContainerXML
	if row.GeneratedAt == "" {
		row.GeneratedAt = now
	}
	if existing, err := s.readBookRow(sha); err == nil && existing.CreatedAt != "" {
		row.CreatedAt = existing.CreatedAt
	} else {
		row.CreatedAt = now
	}
	row.UpdatedAt = now
	p.Row = row

	// 1. Chapter generation.
	gen, err := newGeneration()
	if err != nil {
		return &CacheWriteError{Path: dir, Err: err}
	}
	genDir := filepath.Join(dir, "chapters", gen)
	rows := make([]chapterRow, len(p.Chapters))
	for i, ch := range p.Chapters {
		rows[i] = chapterRow{
			Position:     ch.Position,
			Number:       ch.Number,
			Title:        ch.Title,
			MetadataJSON: marshalString(ch.Metadata),
		}
		raw := filepath.Join(genDir, "raw", fmt.Sprintf("%06d.xhtml", i))
		if err := writeFileAtomic(raw, ch.RawXHTML); err != nil {
			return err
		}
	}
	indexData, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return &CacheWriteError{Path: genDir, Err: err}
	}
	// index.json last: its presence marks the generation complete.
	if err := writeFileAtomic(filepath.Join(genDir, "index.json"), indexData); err != nil {
		return err
	}
	s.removeOldGenerations(dir, gen)

	// 2. Resources, content-hashed.
	if len(p.Resources) > 0 {
		names := make(map[string]string, len(p.Resources))
		for href, data := range p.Resources {
			name := resourceName(href, data)
			names[href] = name
			if err := writeFileAtomic(filepath.Join(dir, "resources", name), data); err != nil {
				logging.Errorf("cache", err)
				continue
			}
		}
		if err := writeFileAtomic(filepath.Join(dir, "resources", "index.json"), []byte(marshalString(names))); err != nil {
			logging.Errorf("cache", err)
		}
	}

	// 3. Book row.
	rowData, err := json.MarshalIndent(row, "", "  ")
	if err != nil {
		return &CacheWriteError{Path: dir, Err: err}
	}
	if err := writeFileAtomic(filepath.Join(dir, "book.json"), rowData); err != nil {
		return err
	}

	// 4. Manifest row.
	if err := s.updateManifest(row, false); err != nil {
		return err
	}
	return nil
}

func chapterHrefs(b *epub.Book) []string {
	hrefs := make([]string, len(b.Chapters))
	for i, ch := range b.Chapters {
		hrefs[i] = ch.FilePath
	}
	return hrefs
}

func resourceName(href string, data []byte) string {
	sum := sha256.Sum256(data)
	ext := path.Ext(href)
	return hex.EncodeToString(sum[:8]) + ext
}

func newGeneration() (string, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}

// removeOldGenerations deletes every complete or partial generation
// except keep. Called only after keep is fully present.
func (s *Store) removeOldGenerations(dir, keep string) {
	chaptersDir := filepath.Join(dir, "chapters")
	entries, err := os.ReadDir(chaptersDir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if !e.IsDir() || e.Name() == keep {
			continue
		}
		if err := os.RemoveAll(filepath.Join(chaptersDir, e.Name())); err != nil {
			logging.Debugf("cache", "old generation %q not removed: %v", e.Name(), err)
		}
	}
}

// generationComplete reports whether index.json lists N rows and all N
// raw files exist.
func generationComplete(genDir string) ([]chapterRow, bool) {
	indexData, err := os.ReadFile(filepath.Join(genDir, "index.json"))
	if err != nil {
		return nil, false
	}
	var rows []chapterRow
	if err := json.Unmarshal(indexData, &rows); err != nil {
		return nil, false
	}
	for i := range rows {
		raw := filepath.Join(genDir, "raw", fmt.Sprintf("%06d.xhtml", i))
		if _, err := os.Stat(raw); err != nil {
			return nil, false
		}
	}
	return rows, true
}

// newestCompleteGeneration picks the most recently written complete
// generation, so a crash mid-store falls back to the previous one.
func newestCompleteGeneration(dir string) (string, []chapterRow, bool) {
	chaptersDir := filepath.Join(dir, "chapters")
	entries, err := os.ReadDir(chaptersDir)
	if err != nil {
		return "", nil, false
	}
	type candidate struct {
		name string
		mod  time.Time
		rows []chapterRow
	}
	var candidates []candidate
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		genDir := filepath.Join(chaptersDir, e.Name())
		rows, ok := generationComplete(genDir)
		if !ok {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		candidates = append(candidates, candidate{name: e.Name(), mod: info.ModTime(), rows: rows})
	}
	if len(candidates) == 0 {
		return "", nil, false
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].mod.After(candidates[j].mod)
	})
	return candidates[0].name, candidates[0].rows, true
}

func (s *Store) readBookRow(sha string) (BookRow, error) {
	p := filepath.Join(s.bookDir(sha), "book.json")
	data, err := os.ReadFile(p)
	if err != nil {
		return BookRow{}, &CacheLoadError{Path: p, Reason: err.Error()}
	}
	var row BookRow
	if err := json.Unmarshal(data, &row); err != nil {
		return BookRow{}, &CacheLoadError{Path: p, Reason: err.Error()}
	}
	return row, nil
}

// FetchPayload loads the stored payload for sha, rebuilding the book
// model from the row and the newest complete chapter generation.
func (s *Store) FetchPayload(sha string) (*Payload, error) {
	row, err := s.readBookRow(sha)
	if err != nil {
		return nil, err
	}
	if row.PayloadVersion != PayloadVersion || row.CacheVersion != CacheVersion {
		return nil, &CacheLoadError{
			Path:   s.bookDir(sha),
			Reason: fmt.Sprintf("version mismatch: payload %d cache %d", row.PayloadVersion, row.CacheVersion),
		}
	}

	book := &epub.Book{
		Title:         row.Title,
		Language:      row.Language,
		OPFPath:       row.OPFPath,
		ContainerPath: row.ContainerPath,
		ContainerXML:  row.ContainerXML,
		Metadata:      map[string]string{},
		Resources:     map[string][]byte{},
	}
	json.Unmarshal([]byte(row.AuthorsJSON), &book.Authors)
	json.Unmarshal([]byte(row.MetadataJSON), &book.Metadata)
	json.Unmarshal([]byte(row.SpineJSON), &book.Spine)
	json.Unmarshal([]byte(row.TOCJSON), &book.TOC)

	dir := s.bookDir(sha)
	gen, rows, ok := newestCompleteGeneration(dir)
	if !ok {
		return nil, &CacheLoadError{Path: dir, Reason: "no complete chapter generation"}
	}
	genDir := filepath.Join(dir, "chapters", gen)

	chapters := make([]epub.Chapter, len(rows))
	for i, r := range rows {
		raw, err := os.ReadFile(filepath.Join(genDir, "raw", fmt.Sprintf("%06d.xhtml", i)))
		if err != nil {
			return nil, &CacheLoadError{Path: genDir, Reason: err.Error()}
		}
		ch := epub.Chapter{
			Position: r.Position,
			Number:   r.Number,
			Title:    r.Title,
			RawXHTML: raw,
			Metadata: map[string]string{},
		}
		json.Unmarshal([]byte(r.MetadataJSON), &ch.Metadata)
		chapters[i] = ch
		book.Chapters = append(book.Chapters, epub.ChapterRef{
			Position: r.Position,
			Number:   r.Number,
			Title:    r.Title,
			FilePath: ch.SourcePath(),
		})
	}

	s.loadResources(dir, book)

	return &Payload{Row: row, Book: book, Chapters: chapters, Resources: book.Resources}, nil
}

func (s *Store) loadResources(dir string, book *epub.Book) {
	indexPath := filepath.Join(dir, "resources", "index.json")
	data, err := os.ReadFile(indexPath)
	if err != nil {
		return
	}
	var names map[string]string
	if err := json.Unmarshal(data, &names); err != nil {
		return
	}
	for href, name := range names {
		blob, err := os.ReadFile(filepath.Join(dir, "resources", name))
		if err != nil {
			continue
		}
		book.Resources[href] = blob
	}
}

// StoreLayout persists a per-(width, view mode, line spacing) layout.
func (s *Store) StoreLayout(sha, key string, payload json.RawMessage) error {
	lock := s.shaLock(sha)
	lock.Lock()
	defer lock.Unlock()

	row := LayoutRow{
		Key:         key,
		Version:     CacheVersion,
		PayloadJSON: payload,
		UpdatedAt:   s.clock.Now().UTC().Format(time.RFC3339),
	}
	data, err := json.Marshal(row)
	if err != nil {
		return &CacheWriteError{Path: key, Err: err}
	}
	dest := filepath.Join(s.bookDir(sha), "layouts", safeKey(key)+".json")
	return writeFileAtomic(dest, data)
}

// FetchLayout loads a stored layout row for sha and key.
func (s *Store) FetchLayout(sha, key string) (*LayoutRow, error) {
	p := filepath.Join(s.bookDir(sha), "layouts", safeKey(key)+".json")
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, &CacheLoadError{Path: p, Reason: err.Error()}
	}
	var row LayoutRow
	if err := json.Unmarshal(data, &row); err != nil {
		return nil, &CacheLoadError{Path: p, Reason: err.Error()}
	}
	if row.Version != CacheVersion || row.Key != key {
		return nil, &CacheLoadError{Path: p, Reason: "layout version mismatch"}
	}
	return &row, nil
}

func safeKey(key string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, key)
}

// ListBooks returns the manifest rows.
func (s *Store) ListBooks() ([]BookRow, error) {
	data, err := os.ReadFile(filepath.Join(s.root, manifestFile))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, &CacheLoadError{Path: manifestFile, Reason: err.Error()}
	}
	var rows []BookRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, &CacheLoadError{Path: manifestFile, Reason: err.Error()}
	}
	return rows, nil
}

// updateManifest rewrites the manifest with row upserted (or removed).
// The legacy manifest filename is deleted after a successful write.
func (s *Store) updateManifest(row BookRow, remove bool) error {
	rows, err := s.ListBooks()
	if err != nil {
		rows = nil
	}
	out := rows[:0]
	for _, r := range rows {
		if r.SourceSHA != row.SourceSHA {
			out = append(out, r)
		}
	}
	if !remove {
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Title < out[j].Title })

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return &CacheWriteError{Path: manifestFile, Err: err}
	}
	if err := writeFileAtomic(filepath.Join(s.root, manifestFile), data); err != nil {
		return err
	}
	os.Remove(filepath.Join(s.root, legacyManifestFile))
	return nil
}

// Delete removes everything stored for sha.
func (s *Store) Delete(sha string) error {
	lock := s.shaLock(sha)
	lock.Lock()
	defer lock.Unlock()

	if err := os.RemoveAll(s.bookDir(sha)); err != nil {
		return &CacheWriteError{Path: s.bookDir(sha), Err: err}
	}
	return s.updateManifest(BookRow{SourceSHA: sha}, true)
}

// Clear removes everything under the cache root; the root directory
// itself is kept.
func (s *Store) Clear() error {
	entries, err := os.ReadDir(s.root)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return &CacheWriteError{Path: s.root, Err: err}
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(s.root, e.Name())); err != nil {
			return &CacheWriteError{Path: e.Name(), Err: err}
		}
	}
	return nil
}
