// Package storage defines the contract every remote backend implements and
// the error values callers match on.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/Lllllllleong/paperdrop/internal/models"
)

var (
	// ErrAlreadyExists is returned when creating something that is already there.
	ErrAlreadyExists = errors.New("already exists")
	// ErrConflict is returned when a move or upload target is taken and
	// renaming was not allowed.
	ErrConflict = errors.New("destination conflict")
	ErrNotFound = errors.New("not found")
)

// RemoteError carries a failed backend call's status and body.
type RemoteError struct {
	Op     string
	Status int
	Body   string
	// Kind is one of the sentinel errors above when the backend's reply maps
	// to one, so errors.Is sees through the RemoteError.
	Kind error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Op, e.Status, e.Body)
}

func (e *RemoteError) Unwrap() error {
	return e.Kind
}

type SearchOptions struct {
	// Path restricts the search to a subtree; empty means everywhere.
	Path string
	// FilenameOnly matches the query against names rather than contents.
	FilenameOnly bool
	// Extensions filters results by extension, without the dot.
	Extensions []string
	// Exhaust follows pagination to the end instead of returning the first page.
	Exhaust bool
}

// Store is a remote file tree addressed by "/"-rooted paths.
type Store interface {
	List(ctx context.Context, path string, recursive bool) ([]models.FileRecord, error)
	Search(ctx context.Context, query string, opts SearchOptions) ([]models.FileRecord, error)
	// Move fails with ErrConflict if dst exists and allowRename is false.
	Move(ctx context.Context, src, dst string, allowRename bool) (models.FileRecord, error)
	// CreateFolder fails with ErrAlreadyExists when the folder is present.
	CreateFolder(ctx context.Context, path string) (models.FileRecord, error)
	Upload(ctx context.Context, r io.Reader, dst string) (models.FileRecord, error)
	// SaveURL asks the backend to fetch url into dst and returns without
	// waiting for the transfer.
	SaveURL(ctx context.Context, url, dst string) (string, error)
}
