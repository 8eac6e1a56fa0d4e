package storage

import (
	"context"
	"io"
)

// Store persists attachment blobs. The object name stored in a message's
// file_path is whatever Save returned.
type Store interface {
	Save(ctx context.Context, objectName string, r io.Reader, size int64, contentType string) (string, error)
	Open(ctx context.Context, objectName string) (io.ReadCloser, error)
}
