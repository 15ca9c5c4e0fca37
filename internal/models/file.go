package models

import "time"

// Kind tags a listing entry as a file or a folder.
type Kind string

const (
	KindFile   Kind = "file"
	KindFolder Kind = "folder"
)

// FileRecord is a snapshot of one remote entry as reported by a list, search,
// move or create call. It is never mutated after the backend produces it.
type FileRecord struct {
	ID   string
	Name string
	Path string
	Kind Kind

	// LastModified is the zero time when the backend did not report it.
	LastModified time.Time
	// ContentHash is empty when the backend did not report it.
	ContentHash string
	Size        int64

	// Raw holds the backend response for this entry, for diagnostics.
	Raw map[string]any
}

// IsFile reports whether the record is a file (not a folder).
func (f FileRecord) IsFile() bool {
	return f.Kind != KindFolder
}

// HasModTime reports whether the backend supplied a modification time.
func (f FileRecord) HasModTime() bool {
	return !f.LastModified.IsZero()
}
