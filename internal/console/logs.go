package console

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/yourusername/mc-server-manager/internal/server"
)

// ErrNoRunLog is returned when an install has no captured run output.
var ErrNoRunLog = errors.New("no run log found")

const tailBlockSize = 64 * 1024

// TailFile returns the last n lines of the file at path, sanitized. n <= 0
// returns every line.
func TailFile(path string, n int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	var data []byte
	if n <= 0 {
		data, err = io.ReadAll(f)
		if err != nil {
			return nil, err
		}
	} else {
		data, err = readTail(f, info.Size(), n)
		if err != nil {
			return nil, err
		}
	}

	text := strings.TrimRight(string(data), "\r\n")
	if text == "" {
		return []string{}, nil
	}
	raw := strings.Split(text, "\n")
	if n > 0 && len(raw) > n {
		raw = raw[len(raw)-n:]
	}

	lines := make([]string, 0, len(raw))
	for _, line := range raw {
		lines = append(lines, sanitizeConsoleLine(line))
	}
	return lines, nil
}

// readTail reads blocks backwards from size until more than n newlines are
// held or the start of the file is reached.
func readTail(f *os.File, size int64, n int) ([]byte, error) {
	var data []byte
	pos := size
	for pos > 0 {
		block := int64(tailBlockSize)
		if pos < block {
			block = pos
		}
		pos -= block

		buf := make([]byte, block)
		if _, err := f.ReadAt(buf, pos); err != nil && err != io.EOF {
			return nil, err
		}
		data = append(buf, data...)

		if bytes.Count(bytes.TrimRight(data, "\r\n"), []byte("\n")) >= n {
			break
		}
	}
	return data, nil
}

// LatestRunLog returns the most recently modified run log under an install
// directory.
func LatestRunLog(dir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, server.RunLogDir, "*.log"))
	if err != nil {
		return "", err
	}

	var latest string
	var latestMod time.Time
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		if latest == "" || info.ModTime().After(latestMod) || (info.ModTime().Equal(latestMod) && path > latest) {
			latest, latestMod = path, info.ModTime()
		}
	}
	if latest == "" {
		return "", fmt.Errorf("%s: %w", dir, ErrNoRunLog)
	}
	return latest, nil
}

// CleanupOldLogs deletes run logs of the install at dir last written before
// the retention period. keep, usually the current run's log, is never
// removed.
func CleanupOldLogs(dir string, retention time.Duration, keep string) (int, error) {
	if retention <= 0 {
		return 0, nil
	}

	matches, err := filepath.Glob(filepath.Join(dir, server.RunLogDir, "*.log"))
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-retention)
	keepAbs := ""
	if keep != "" {
		keepAbs, _ = filepath.Abs(keep)
	}

	deleted := 0
	for _, path := range matches {
		if abs, _ := filepath.Abs(path); abs == keepAbs {
			continue
		}
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil {
			log.Printf("[Console] Failed to delete log file %s: %v", path, err)
			continue
		}
		deleted++
	}

	if deleted > 0 {
		log.Printf("[Console] Cleaned up %d old run logs in %s", deleted, dir)
	}
	return deleted, nil
}
