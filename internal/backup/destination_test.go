package backup

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/yourusername/mc-server-manager/internal/config"
)

func TestLocalDestinationUploadDownloadDelete(t *testing.T) {
	baseDir := filepath.Join(t.TempDir(), "backups")
	ld := NewLocalDestination(baseDir)

	files, err := ld.List()
	if err != nil || len(files) != 0 {
		t.Fatalf("expected empty list for missing directory, got %v, %v", files, err)
	}

	content := []byte("backup-data")
	if err := ld.Upload("test.tar.gz", bytes.NewReader(content), int64(len(content))); err != nil {
		t.Fatalf("upload failed: %v", err)
	}
	if !ld.Exists("test.tar.gz") {
		t.Fatalf("expected backup file to exist")
	}
	if ld.Exists("test.tar.gz" + partialSuffix) {
		t.Fatalf("expected partial file to be renamed")
	}

	var buf bytes.Buffer
	if err := ld.Download("test.tar.gz", &buf); err != nil {
		t.Fatalf("download failed: %v", err)
	}
	if !bytes.Equal(buf.Bytes(), content) {
		t.Fatalf("downloaded content mismatch")
	}

	if err := os.WriteFile(filepath.Join(baseDir, "stale.tar.gz"+partialSuffix), []byte("x"), 0644); err != nil {
		t.Fatalf("failed to write partial file: %v", err)
	}
	files, err = ld.List()
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(files) != 1 || files[0].Filename != "test.tar.gz" || files[0].SizeBytes != int64(len(content)) {
		t.Fatalf("unexpected files: %+v", files)
	}

	if err := ld.Delete("test.tar.gz"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if ld.Exists("test.tar.gz") {
		t.Fatalf("expected backup file to be removed")
	}
	if err := ld.Delete("test.tar.gz"); err != nil {
		t.Fatalf("expected deleting a missing file to succeed: %v", err)
	}
}

func TestLocalDestinationSizeMismatch(t *testing.T) {
	ld := NewLocalDestination(t.TempDir())
	if err := ld.Upload("short.tar.gz", strings.NewReader("abc"), 10); err == nil {
		t.Fatalf("expected size mismatch to fail")
	}
	if ld.Exists("short.tar.gz") || ld.Exists("short.tar.gz"+partialSuffix) {
		t.Fatalf("expected failed upload to be cleaned up")
	}
}

func TestLocalDestinationRejectsPaths(t *testing.T) {
	ld := NewLocalDestination(t.TempDir())
	for _, name := range []string{"", "..", "../x.tar.gz", "a/b.tar.gz"} {
		if err := ld.Upload(name, strings.NewReader("x"), 1); !errors.Is(err, ErrInvalidFilename) {
			t.Fatalf("expected ErrInvalidFilename for %q, got %v", name, err)
		}
	}
}

func TestNewDestination(t *testing.T) {
	dest, err := NewDestination(config.BackupDestinationConfig{Path: t.TempDir()})
	if err != nil || dest.GetType() != "local" {
		t.Fatalf("expected local destination by default, got %v, %v", dest, err)
	}

	dest, err = NewDestination(config.BackupDestinationConfig{Type: "s3", S3Bucket: "worlds", S3Region: "eu-west-1", Path: "/mc/"})
	if err != nil {
		t.Fatalf("failed to create s3 destination: %v", err)
	}
	s3dest := dest.(*S3Destination)
	if s3dest.key("a.tar.gz") != "mc/a.tar.gz" {
		t.Fatalf("unexpected s3 key: %s", s3dest.key("a.tar.gz"))
	}

	if _, err := NewDestination(config.BackupDestinationConfig{Type: "invalid"}); err == nil {
		t.Fatalf("expected error for invalid destination type")
	}
}
