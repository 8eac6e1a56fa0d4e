package storage

import (
	"context"
	"io"
	"strings"
	"testing"
)

func TestDiskSaveOpen(t *testing.T) {
	d, err := NewDisk(t.TempDir())
	if err != nil {
		t.Fatalf("new disk: %v", err)
	}

	key, err := d.Save(context.Background(), "500/abc_report.pdf", strings.NewReader("%PDF-1.4"), 8, "application/pdf")
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if key != "500/abc_report.pdf" {
		t.Fatalf("unexpected key: %q", key)
	}

	rc, err := d.Open(context.Background(), key)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rc.Close()
	b, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(b) != "%PDF-1.4" {
		t.Fatalf("content mismatch: %q", b)
	}
}

func TestDiskRejectsTraversal(t *testing.T) {
	d, err := NewDisk(t.TempDir())
	if err != nil {
		t.Fatalf("new disk: %v", err)
	}
	if _, err := d.Open(context.Background(), "../../etc/passwd"); err == nil {
		t.Fatalf("path traversal allowed")
	}
}
