package console

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/yourusername/mc-server-manager/internal/websocket"
)

// maxReadPerPoll bounds how much of a fast-growing log one poll consumes.
// An unterminated line reaching this length is emitted as is.
const maxReadPerPoll = 1 << 20

// Broadcaster delivers messages to websocket rooms.
type Broadcaster interface {
	BroadcastToRoom(room string, message *websocket.Message)
}

// Room returns the hub room carrying an instance's console.
func Room(instance string) string {
	return "console:" + instance
}

// Tailer follows one run log file from its start, feeding complete lines to
// a ring buffer and a hub room. Reads are triggered by fsnotify write events
// on the log directory, with the interval as a fallback.
type Tailer struct {
	instance string
	path     string
	room     string
	buffer   *RingBuffer
	hub      Broadcaster
	interval time.Duration

	offset  int64
	partial string

	cancel context.CancelFunc
	done   chan struct{}
}

func newTailer(instance, path string, buffer *RingBuffer, hub Broadcaster, interval time.Duration) *Tailer {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &Tailer{
		instance: instance,
		path:     path,
		room:     Room(instance),
		buffer:   buffer,
		hub:      hub,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Path returns the followed file.
func (t *Tailer) Path() string { return t.path }

func (t *Tailer) start() {
	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	go t.run(ctx)
}

// stop ends the tailer after a final read and waits for it.
func (t *Tailer) stop() {
	t.cancel()
	<-t.done
}

func (t *Tailer) run(ctx context.Context) {
	defer close(t.done)

	watcher, wake := t.watch()
	if watcher != nil {
		defer watcher.Close()
	}

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		if err := t.poll(); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Printf("[Console] Failed to read %s for %s: %v", t.path, t.instance, err)
		}
		select {
		case <-ctx.Done():
			for {
				n, err := t.readChunk()
				if err != nil || n < maxReadPerPoll {
					break
				}
			}
			t.flushPartial()
			return
		case <-wake:
		case <-ticker.C:
		}
	}
}

// watch subscribes to changes of the log file. A nil watcher leaves the
// tailer on the ticker alone.
func (t *Tailer) watch() (*fsnotify.Watcher, <-chan struct{}) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("[Console] File notifications unavailable for %s, polling: %v", t.instance, err)
		return nil, nil
	}
	// the file may not exist yet, so watch its directory
	if err := watcher.Add(filepath.Dir(t.path)); err != nil {
		log.Printf("[Console] Failed to watch %s, polling: %v", filepath.Dir(t.path), err)
		watcher.Close()
		return nil, nil
	}

	wake := make(chan struct{}, 1)
	target := filepath.Clean(t.path)
	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target || event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				select {
				case wake <- struct{}{}:
				default:
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("[Console] Watch error for %s: %v", t.instance, err)
			}
		}
	}()
	return watcher, wake
}

func (t *Tailer) poll() error {
	_, err := t.readChunk()
	return err
}

// readChunk reads newly appended bytes and emits each complete line.
func (t *Tailer) readChunk() (int64, error) {
	f, err := os.Open(t.path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	if info.Size() < t.offset {
		// truncated or replaced
		t.offset = 0
		t.partial = ""
	}
	if info.Size() == t.offset {
		return 0, nil
	}

	if _, err := f.Seek(t.offset, io.SeekStart); err != nil {
		return 0, err
	}
	data, err := io.ReadAll(io.LimitReader(f, maxReadPerPoll))
	if err != nil {
		return 0, err
	}
	t.offset += int64(len(data))

	text := t.partial + string(data)
	lines := strings.Split(text, "\n")
	t.partial = lines[len(lines)-1]
	for _, line := range lines[:len(lines)-1] {
		t.emit(line)
	}
	if len(t.partial) >= maxReadPerPoll {
		t.flushPartial()
	}
	return int64(len(data)), nil
}

func (t *Tailer) flushPartial() {
	if t.partial != "" {
		t.emit(t.partial)
		t.partial = ""
	}
}

func (t *Tailer) emit(raw string) {
	line := sanitizeConsoleLine(raw)
	if line == "" {
		return
	}
	t.buffer.Add(line)
	if t.hub != nil {
		t.hub.BroadcastToRoom(t.room, &websocket.Message{
			Type: "console_output",
			Payload: map[string]interface{}{
				"line":     line,
				"instance": t.instance,
			},
			Timestamp: time.Now(),
		})
	}
}
