// Package zipreader reads EPUB archives with entry-name normalization and
// limits that guard against decompression bombs.
package zipreader

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Limits bounds the work a single archive may cause.
type Limits struct {
	MaxEntryBytes           int64
	MaxEntryCompressedBytes int64
	MaxTotalBytes           int64
	MaxEntries              int
}

// DefaultLimits returns the built-in limits, overridable through the
// SHOKO_ZIP_* environment variables.
func DefaultLimits() Limits {
	l := Limits{
		MaxEntryBytes:           256 << 20,
		MaxEntryCompressedBytes: 64 << 20,
		MaxTotalBytes:           1 << 30,
		MaxEntries:              65535,
	}
	if v, ok := envInt64("SHOKO_ZIP_MAX_ENTRY_BYTES"); ok {
		l.MaxEntryBytes = v
	}
	if v, ok := envInt64("SHOKO_ZIP_MAX_ENTRY_COMPRESSED_BYTES"); ok {
		l.MaxEntryCompressedBytes = v
	}
	if v, ok := envInt64("SHOKO_ZIP_MAX_TOTAL_BYTES"); ok {
		l.MaxTotalBytes = v
	}
	if v, ok := envInt64("SHOKO_ZIP_MAX_ENTRIES"); ok {
		l.MaxEntries = int(v)
	}
	return l
}

func envInt64(name string) (int64, bool) {
	raw := os.Getenv(name)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}

// LimitError reports an archive exceeding a configured limit.
type LimitError struct {
	Limit string
	Value int64
	Max   int64
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("zip limit exceeded: %s %d > %d", e.Limit, e.Value, e.Max)
}

// ReadError reports a failure reading a specific archive entry.
type ReadError struct {
	Entry string
	Err   error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("zip read %q: %v", e.Entry, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// Entry describes one archive member.
type Entry struct {
	Name             string
	UncompressedSize int64
	CompressedSize   int64
}

// Reader provides random access to a validated EPUB archive.
type Reader struct {
	zr      *zip.ReadCloser
	entries []Entry
	byName  map[string]*zip.File
	limits  Limits
}

// NormalizeName converts an archive entry name to its canonical form:
// forward slashes, no leading "./". Names escaping the archive root
// return "" and false.
func NormalizeName(name string) (string, bool) {
	name = strings.ReplaceAll(name, `\`, "/")
	name = strings.TrimPrefix(name, "./")
	for _, part := range strings.Split(name, "/") {
		if part == ".." {
			return "", false
		}
	}
	return name, true
}

// Open opens the archive at path and validates it against limits.
func Open(path string, limits Limits) (*Reader, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("opening archive: %w", err)
	}

	if len(zr.File) > limits.MaxEntries {
		zr.Close()
		return nil, &LimitError{Limit: "entries", Value: int64(len(zr.File)), Max: int64(limits.MaxEntries)}
	}

	r := &Reader{
		zr:     zr,
		byName: make(map[string]*zip.File, len(zr.File)),
		limits: limits,
	}

	var total int64
	for _, f := range zr.File {
		name, ok := NormalizeName(f.Name)
		if !ok || name == "" || strings.HasSuffix(name, "/") {
			continue
		}
		usize := int64(f.UncompressedSize64)
		csize := int64(f.CompressedSize64)
		if usize > limits.MaxEntryBytes {
			zr.Close()
			return nil, &LimitError{Limit: "entry bytes", Value: usize, Max: limits.MaxEntryBytes}
		}
		if csize > limits.MaxEntryCompressedBytes {
			zr.Close()
			return nil, &LimitError{Limit: "entry compressed bytes", Value: csize, Max: limits.MaxEntryCompressedBytes}
		}
		total += usize
		if total > limits.MaxTotalBytes {
			zr.Close()
			return nil, &LimitError{Limit: "total bytes", Value: total, Max: limits.MaxTotalBytes}
		}
		r.entries = append(r.entries, Entry{Name: name, UncompressedSize: usize, CompressedSize: csize})
		r.byName[name] = f
	}

	return r, nil
}

// Entries lists the archive members in central-directory order.
func (r *Reader) Entries() []Entry {
	return r.entries
}

// Find looks up an entry by its normalized name.
func (r *Reader) Find(name string) (Entry, bool) {
	norm, ok := NormalizeName(name)
	if !ok {
		return Entry{}, false
	}
	if _, ok := r.byName[norm]; !ok {
		return Entry{}, false
	}
	for _, e := range r.entries {
		if e.Name == norm {
			return e, true
		}
	}
	return Entry{}, false
}

// Read returns the uncompressed bytes of the named entry.
func (r *Reader) Read(name string) ([]byte, error) {
	norm, ok := NormalizeName(name)
	if !ok {
		return nil, &ReadError{Entry: name, Err: fmt.Errorf("name escapes archive root")}
	}
	f, found := r.byName[norm]
	if !found {
		return nil, &ReadError{Entry: norm, Err: os.ErrNotExist}
	}
	if f.Method != zip.Store && f.Method != zip.Deflate {
		return nil, &ReadError{Entry: norm, Err: fmt.Errorf("unsupported compression method %d", f.Method)}
	}

	rc, err := f.Open()
	if err != nil {
		return nil, &ReadError{Entry: norm, Err: err}
	}
	defer rc.Close()

	// The central directory can lie about sizes; bound the actual read.
	data, err := io.ReadAll(io.LimitReader(rc, r.limits.MaxEntryBytes+1))
	if err != nil {
		return nil, &ReadError{Entry: norm, Err: err}
	}
	if int64(len(data)) > r.limits.MaxEntryBytes {
		return nil, &LimitError{Limit: "entry bytes", Value: int64(len(data)), Max: r.limits.MaxEntryBytes}
	}
	return data, nil
}

// Close releases the underlying archive.
func (r *Reader) Close() error {
	if r.zr != nil {
		return r.zr.Close()
	}
	return nil
}
