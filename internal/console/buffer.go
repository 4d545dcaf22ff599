package console

import (
	"regexp"
	"strings"
	"sync"
)

// RingBuffer keeps the most recent console lines.
type RingBuffer struct {
	lines    []string
	maxLines int
	current  int
	full     bool
	mu       sync.RWMutex
}

// Match all ANSI/VT100 escape sequences including CSI, OSC, and other control sequences
var ansiEscapePattern = regexp.MustCompile(`\x1b(\[[0-9;?!]*[A-Za-z>hp]|\][^\x07]*\x07|\([B0]|[=>])`)

// NewRingBuffer creates a new ring buffer
func NewRingBuffer(maxLines int) *RingBuffer {
	if maxLines <= 0 {
		maxLines = 1
	}
	return &RingBuffer{
		lines:    make([]string, maxLines),
		maxLines: maxLines,
	}
}

// Add adds a line to the buffer
func (rb *RingBuffer) Add(line string) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.lines[rb.current] = line
	rb.current = (rb.current + 1) % rb.maxLines

	if rb.current == 0 {
		rb.full = true
	}
}

// GetLines returns all lines in order (oldest to newest)
func (rb *RingBuffer) GetLines() []string {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if !rb.full {
		result := make([]string, rb.current)
		copy(result, rb.lines[:rb.current])
		return result
	}

	result := make([]string, rb.maxLines)
	for i := 0; i < rb.maxLines; i++ {
		result[i] = rb.lines[(rb.current+i)%rb.maxLines]
	}
	return result
}

// GetLast returns the last N lines
func (rb *RingBuffer) GetLast(n int) []string {
	lines := rb.GetLines()
	if n <= 0 || len(lines) <= n {
		return lines
	}
	return lines[len(lines)-n:]
}

// Reset drops every buffered line.
func (rb *RingBuffer) Reset() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	for i := range rb.lines {
		rb.lines[i] = ""
	}
	rb.current = 0
	rb.full = false
}

// sanitizeConsoleLine strips escape sequences and control characters,
// keeping tabs.
func sanitizeConsoleLine(line string) string {
	if line == "" {
		return ""
	}
	stripped := ansiEscapePattern.ReplaceAllString(line, "")
	return strings.Map(func(r rune) rune {
		if r == '\t' {
			return r
		}
		if r < 32 || r == 127 {
			return -1
		}
		return r
	}, stripped)
}
