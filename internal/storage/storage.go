// Package storage provides request-scoped temporary file storage for
// uploaded source clips. Durable artifact publishing lives in the publish
// package; this one only ever touches the local disk.
package storage

import (
	"context"
	"io"
)

// Storage holds uploads while a request is being processed. Files saved
// here are owned by the request lifecycle and must be cleaned up on every
// exit path.
type Storage interface {
	// SaveTemp saves data to a temporary file and returns the file path.
	// The name parameter is used as a hint for the filename.
	SaveTemp(ctx context.Context, name string, data io.Reader) (path string, err error)

	// LoadTemp reads a temporary file and returns a reader.
	// The caller is responsible for closing the returned ReadCloser.
	LoadTemp(ctx context.Context, path string) (io.ReadCloser, error)

	// CleanupTemp removes the specified temporary files.
	// It continues cleanup even if some files fail to delete.
	CleanupTemp(ctx context.Context, paths []string) error
}
