package cache

import (
	"encoding/json"
	"os"
	"time"
)

// PointerFormat identifies shoko cache pointer files.
const PointerFormat = "shoko-cache-pointer"

// PointerVersion is bumped when the pointer schema changes.
const PointerVersion = 1

// Pointer is the user-visible .cache sidecar referencing a cached book.
type Pointer struct {
	Format      string `json:"format"`
	Version     int    `json:"version"`
	SHA256      string `json:"sha256"`
	SourcePath  string `json:"source_path"`
	GeneratedAt string `json:"generated_at"`
	Engine      string `json:"engine"`
}

// ReadPointer parses path as a pointer file. A file that is not a valid
// pointer returns ok=false without error.
func ReadPointer(path string) (Pointer, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Pointer{}, false
	}
	var p Pointer
	if err := json.Unmarshal(data, &p); err != nil {
		return Pointer{}, false
	}
	if p.Format != PointerFormat || p.SHA256 == "" {
		return Pointer{}, false
	}
	return p, true
}

// WritePointer writes a pointer file for sha at path.
func WritePointer(path, sha, sourcePath, engine string, now time.Time) error {
	p := Pointer{
		Format:      PointerFormat,
		Version:     PointerVersion,
		SHA256:      sha,
		SourcePath:  sourcePath,
		GeneratedAt: now.UTC().Format(time.RFC3339),
		Engine:      engine,
	}
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return &CacheWriteError{Path: path, Err: err}
	}
	return writeFileAtomic(path, data)
}
