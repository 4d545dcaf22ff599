package server

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
)

// JVMArgsFile is the heap arguments file read by Forge/NeoForge run scripts.
const JVMArgsFile = "user_jvm_args.txt"

// RewriteJVMArgs replaces any -Xmx/-Xms lines in the arguments file at path
// with the given heap sizes. All other lines are kept verbatim and in order,
// and the file keeps or lacks its final newline as before. A missing file is
// created.
func RewriteJVMArgs(path string, maxHeapGB, initHeapGB int) error {
	perm := fs.FileMode(0644)
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if info, statErr := os.Stat(path); statErr == nil {
			perm = info.Mode().Perm()
		}
	case errors.Is(err, fs.ErrNotExist):
		data = nil
	default:
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	if err := os.WriteFile(path, []byte(rewriteHeapLines(string(data), maxHeapGB, initHeapGB)), perm); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func rewriteHeapLines(content string, maxHeapGB, initHeapGB int) string {
	var kept []string
	if content != "" {
		lines := strings.Split(strings.TrimSuffix(content, "\n"), "\n")
		for _, line := range lines {
			if isHeapFlag(line) {
				continue
			}
			kept = append(kept, line)
		}
	}

	kept = append(kept,
		fmt.Sprintf("-Xmx%dG", maxHeapGB),
		fmt.Sprintf("-Xms%dG", initHeapGB),
	)
	out := strings.Join(kept, "\n")
	if content == "" || strings.HasSuffix(content, "\n") {
		out += "\n"
	}
	return out
}

func isHeapFlag(line string) bool {
	trimmed := strings.TrimSpace(line)
	return strings.HasPrefix(trimmed, "-Xmx") || strings.HasPrefix(trimmed, "-Xms")
}
