package backup

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/yourusername/mc-server-manager/internal/config"
)

// ErrInvalidFilename is returned for backup names that are not a single
// path element.
var ErrInvalidFilename = errors.New("invalid backup filename")

// Destination represents a backup storage destination
type Destination interface {
	// Upload stores sizeBytes read from reader as filename
	Upload(filename string, reader io.Reader, sizeBytes int64) error

	// Download writes the stored file to writer
	Download(filename string, writer io.Writer) error

	// Delete removes a file from the destination
	Delete(filename string) error

	// List returns all backup files at the destination
	List() ([]BackupFile, error)

	// GetType returns the destination type identifier
	GetType() string
}

// BackupFile represents a file in a backup destination
type BackupFile struct {
	Filename  string `json:"filename"`
	SizeBytes int64  `json:"size_bytes"`
	CreatedAt int64  `json:"created_at"` // Unix timestamp
}

// NewDestination creates a new backup destination based on config.
// SFTP destinations connect immediately and implement io.Closer.
func NewDestination(cfg config.BackupDestinationConfig) (Destination, error) {
	switch cfg.Type {
	case "", "local":
		return NewLocalDestination(cfg.Path), nil
	case "sftp":
		return NewSFTPDestination(cfg)
	case "s3":
		return NewS3Destination(cfg)
	default:
		return nil, fmt.Errorf("unsupported destination type: %s", cfg.Type)
	}
}

func closeDestination(dest Destination) {
	if closer, ok := dest.(io.Closer); ok {
		closer.Close()
	}
}

func validateFilename(filename string) error {
	if filename == "" || filename == "." || filename == ".." ||
		strings.ContainsAny(filename, `/\`) || strings.ContainsRune(filename, 0) {
		return fmt.Errorf("%w: %q", ErrInvalidFilename, filename)
	}
	return nil
}
