package server

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRewriteJVMArgsIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), JVMArgsFile)
	original := "# Xmx and Xms set the maximum and minimum RAM usage\n" +
		"-Xmx4G\n" +
		"-XX:+UseG1GC\n" +
		"  -Xms1G\n" +
		"-Dfile.encoding=UTF-8\n"
	if err := os.WriteFile(path, []byte(original), 0644); err != nil {
		t.Fatalf("failed to write args file: %v", err)
	}

	if err := RewriteJVMArgs(path, 8, 2); err != nil {
		t.Fatalf("failed to rewrite args: %v", err)
	}
	first, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read args: %v", err)
	}
	if err := RewriteJVMArgs(path, 8, 2); err != nil {
		t.Fatalf("failed to rewrite args twice: %v", err)
	}
	second, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read args: %v", err)
	}

	if string(first) != string(second) {
		t.Fatalf("rewrite not idempotent:\n%s\n---\n%s", first, second)
	}

	want := "# Xmx and Xms set the maximum and minimum RAM usage\n" +
		"-XX:+UseG1GC\n" +
		"-Dfile.encoding=UTF-8\n" +
		"-Xmx8G\n" +
		"-Xms2G\n"
	if string(second) != want {
		t.Fatalf("unexpected content:\n%s", second)
	}
	if strings.Count(string(second), "-Xmx") != 1 || strings.Count(string(second), "-Xms") != 1 {
		t.Fatalf("expected exactly one heap line each:\n%s", second)
	}
}

func TestRewriteJVMArgsCreatesMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), JVMArgsFile)
	if err := RewriteJVMArgs(path, 4, 4); err != nil {
		t.Fatalf("failed to rewrite args: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read args: %v", err)
	}
	if string(data) != "-Xmx4G\n-Xms4G\n" {
		t.Fatalf("unexpected content: %q", data)
	}
}

func TestRewriteHeapLinesWithoutTrailingNewline(t *testing.T) {
	got := rewriteHeapLines("-XX:+UseZGC\n-Xmx2G", 6, 3)
	if got != "-XX:+UseZGC\n-Xmx6G\n-Xms3G" {
		t.Fatalf("unexpected content: %q", got)
	}

	path := filepath.Join(t.TempDir(), JVMArgsFile)
	if err := os.WriteFile(path, []byte("-XX:+UseZGC"), 0644); err != nil {
		t.Fatalf("failed to write args file: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := RewriteJVMArgs(path, 6, 3); err != nil {
			t.Fatalf("failed to rewrite args: %v", err)
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read args: %v", err)
	}
	if string(data) != "-XX:+UseZGC\n-Xmx6G\n-Xms3G" {
		t.Fatalf("expected no trailing newline to be added, got %q", data)
	}
}
