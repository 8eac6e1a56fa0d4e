package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Disk stores attachments under a local directory. Dev and test default.
type Disk struct {
	Dir string
}

func NewDisk(dir string) (*Disk, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Disk{Dir: dir}, nil
}

func (d *Disk) path(objectName string) (string, error) {
	clean := filepath.Clean("/" + objectName)
	if strings.Contains(clean, "..") {
		return "", fmt.Errorf("storage: bad object name %q", objectName)
	}
	return filepath.Join(d.Dir, clean), nil
}

func (d *Disk) Save(ctx context.Context, objectName string, r io.Reader, size int64, contentType string) (string, error) {
	_ = ctx
	_ = size
	_ = contentType

	p, err := d.path(objectName)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", err
	}
	f, err := os.Create(p)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(p)
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return objectName, nil
}

func (d *Disk) Open(ctx context.Context, objectName string) (io.ReadCloser, error) {
	_ = ctx
	p, err := d.path(objectName)
	if err != nil {
		return nil, err
	}
	return os.Open(p)
}
