package backup

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
)

const partialSuffix = ".part"

// LocalDestination stores backups on the local filesystem
type LocalDestination struct {
	basePath string
}

// NewLocalDestination creates a new local destination
func NewLocalDestination(basePath string) *LocalDestination {
	return &LocalDestination{
		basePath: basePath,
	}
}

// Upload writes to a temporary name and renames it into place once the
// full size has been written.
func (ld *LocalDestination) Upload(filename string, reader io.Reader, sizeBytes int64) error {
	if err := validateFilename(filename); err != nil {
		return err
	}
	if err := os.MkdirAll(ld.basePath, 0755); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}

	destPath := filepath.Join(ld.basePath, filename)
	partPath := destPath + partialSuffix
	log.Printf("[LocalDest] Uploading %s to %s (%d bytes)", filename, destPath, sizeBytes)

	file, err := os.Create(partPath)
	if err != nil {
		return fmt.Errorf("failed to create backup file: %w", err)
	}

	written, err := io.Copy(file, reader)
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(partPath)
		return fmt.Errorf("failed to write backup file: %w", err)
	}
	if written != sizeBytes {
		os.Remove(partPath)
		return fmt.Errorf("size mismatch: expected %d bytes, wrote %d bytes", sizeBytes, written)
	}

	if err := os.Rename(partPath, destPath); err != nil {
		os.Remove(partPath)
		return fmt.Errorf("failed to finalize backup file: %w", err)
	}
	return nil
}

// Download reads a backup file from the local destination
func (ld *LocalDestination) Download(filename string, writer io.Writer) error {
	if err := validateFilename(filename); err != nil {
		return err
	}

	file, err := os.Open(filepath.Join(ld.basePath, filename))
	if err != nil {
		return fmt.Errorf("failed to open backup file: %w", err)
	}
	defer file.Close()

	if _, err := io.Copy(writer, file); err != nil {
		return fmt.Errorf("failed to read backup file: %w", err)
	}
	return nil
}

// Delete removes a backup file. A file that is already gone is not an
// error.
func (ld *LocalDestination) Delete(filename string) error {
	if err := validateFilename(filename); err != nil {
		return err
	}

	destPath := filepath.Join(ld.basePath, filename)
	if err := os.Remove(destPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete backup file: %w", err)
	}
	log.Printf("[LocalDest] Deleted %s", destPath)
	return nil
}

// List returns finished backup files, skipping directories and partial
// uploads.
func (ld *LocalDestination) List() ([]BackupFile, error) {
	entries, err := os.ReadDir(ld.basePath)
	if os.IsNotExist(err) {
		return []BackupFile{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read backup directory: %w", err)
	}

	files := []BackupFile{}
	for _, entry := range entries {
		if entry.IsDir() || strings.HasSuffix(entry.Name(), partialSuffix) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			log.Printf("[LocalDest] Warning: Failed to get info for %s: %v", entry.Name(), err)
			continue
		}

		files = append(files, BackupFile{
			Filename:  entry.Name(),
			SizeBytes: info.Size(),
			CreatedAt: info.ModTime().Unix(),
		})
	}

	return files, nil
}

// GetType returns the destination type
func (ld *LocalDestination) GetType() string {
	return "local"
}

// GetPath returns the base path
func (ld *LocalDestination) GetPath() string {
	return ld.basePath
}

// Exists checks if a backup file exists
func (ld *LocalDestination) Exists(filename string) bool {
	if validateFilename(filename) != nil {
		return false
	}
	_, err := os.Stat(filepath.Join(ld.basePath, filename))
	return err == nil
}
