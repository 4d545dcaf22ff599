package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/yourusername/mc-server-manager/internal/console"
	"github.com/yourusername/mc-server-manager/internal/models"
	"github.com/yourusername/mc-server-manager/internal/server"
	ws "github.com/yourusername/mc-server-manager/internal/websocket"
)

func writeRunLog(t *testing.T, dir, name, content string) string {
	t.Helper()
	logDir := filepath.Join(dir, server.RunLogDir)
	if err := os.MkdirAll(logDir, 0755); err != nil {
		t.Fatalf("failed to create log dir: %v", err)
	}
	path := filepath.Join(logDir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write run log: %v", err)
	}
	return path
}

func TestGetLogsFromLatestRunLog(t *testing.T) {
	reg := newTestRegistry(t, nil, "alpha")
	inst, _ := reg.Get("alpha")
	path := writeRunLog(t, inst.Path(), "2024-01-01_00-00-00.log",
		"[INFO] Starting\n\x1b[31m[ERROR] Failed to bind port\x1b[0m\n[INFO] Done\n")

	h := NewConsoleHandler(reg, nil, console.NewManager(nil, 100, 0), nil, false)
	router := gin.New()
	router.GET("/servers/:name/logs", h.GetLogs)

	w := doRequest(t, router, http.MethodGet, "/servers/alpha/logs?lines=2", nil)
	var logs models.LogsResponse
	decode(t, w, &logs)
	if logs.LogPath != path || logs.Source != "file" {
		t.Fatalf("unexpected source %+v", logs)
	}
	if len(logs.Lines) != 2 || logs.Lines[0].Text != "[ERROR] Failed to bind port" || logs.Lines[1].Text != "[INFO] Done" {
		t.Fatalf("unexpected lines %+v", logs.Lines)
	}

	w = doRequest(t, router, http.MethodGet, "/servers/alpha/logs?filter=errors", nil)
	decode(t, w, &logs)
	if len(logs.Lines) != 1 || len(logs.Lines[0].Highlight) != 2 {
		t.Fatalf("expected one highlighted error line, got %+v", logs.Lines)
	}

	if w := doRequest(t, router, http.MethodGet, "/servers/alpha/logs?filter=regex&pattern=(", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid regex, got %d", w.Code)
	}
	if w := doRequest(t, router, http.MethodGet, "/servers/alpha/logs?lines=zero", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid lines, got %d", w.Code)
	}
}

func TestGetLogsWithoutRunLog(t *testing.T) {
	reg := newTestRegistry(t, nil, "alpha")
	h := NewConsoleHandler(reg, nil, console.NewManager(nil, 100, 0), nil, false)
	router := gin.New()
	router.GET("/servers/:name/logs", h.GetLogs)

	if w := doRequest(t, router, http.MethodGet, "/servers/alpha/logs", nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestGetLogsFromLiveBuffer(t *testing.T) {
	reg := newTestRegistry(t, nil, "alpha")
	inst, _ := reg.Get("alpha")
	path := writeRunLog(t, inst.Path(), "live.log", "one\ntwo\nthree\n")

	consoles := console.NewManager(nil, 100, 10*time.Millisecond)
	consoles.Follow("alpha", path)
	defer consoles.StopAll()

	deadline := time.Now().Add(5 * time.Second)
	for len(consoles.History("alpha", 0)) < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for tailer")
		}
		time.Sleep(10 * time.Millisecond)
	}

	h := NewConsoleHandler(reg, nil, consoles, nil, false)
	router := gin.New()
	router.GET("/servers/:name/logs", h.GetLogs)

	w := doRequest(t, router, http.MethodGet, "/servers/alpha/logs?lines=2", nil)
	var logs models.LogsResponse
	decode(t, w, &logs)
	if logs.Source != "live" || len(logs.Lines) != 2 || logs.Lines[0].Text != "two" {
		t.Fatalf("unexpected live logs %+v", logs)
	}
}

func readMessage(t *testing.T, conn *websocket.Conn) ws.Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg ws.Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("failed to read message: %v", err)
	}
	return msg
}

func TestConsoleWebSocket(t *testing.T) {
	reg := newTestRegistry(t, nil, "alpha")
	hub := ws.NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	h := NewConsoleHandler(reg, hub, console.NewManager(hub, 100, 0), nil, false)
	router := gin.New()
	router.GET("/ws/servers/:name/console", h.HandleConsoleWebSocket)
	srv := httptest.NewServer(router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/servers/alpha/console"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	defer conn.Close()

	if msg := readMessage(t, conn); msg.Type != "console_history" {
		t.Fatalf("expected console_history first, got %s", msg.Type)
	}
	info := readMessage(t, conn)
	payload, _ := info.Payload.(map[string]interface{})
	if info.Type != "session_info" || payload["can_execute"] != true || payload["owned"] != false {
		t.Fatalf("unexpected session info %+v", info)
	}

	err = conn.WriteJSON(map[string]interface{}{
		"type":    "command",
		"payload": map[string]interface{}{"command": "list"},
	})
	if err != nil {
		t.Fatalf("failed to send command: %v", err)
	}

	result := readMessage(t, conn)
	payload, _ = result.Payload.(map[string]interface{})
	if result.Type != "command_result" || payload["success"] != false {
		t.Fatalf("expected failed command result for unowned server, got %+v", result)
	}
	if errText, _ := payload["error"].(string); !strings.Contains(errText, "not owned") {
		t.Fatalf("unexpected error %v", payload["error"])
	}
}

func TestConsoleWebSocketRejectsForeignOrigin(t *testing.T) {
	reg := newTestRegistry(t, nil, "alpha")
	hub := ws.NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	h := NewConsoleHandler(reg, hub, console.NewManager(hub, 100, 0), []string{"https://panel.local"}, false)
	router := gin.New()
	router.GET("/ws/servers/:name/console", h.HandleConsoleWebSocket)
	srv := httptest.NewServer(router)
	defer srv.Close()

	header := http.Header{}
	header.Set("Origin", "https://evil.example")
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/servers/alpha/console"
	if _, _, err := websocket.DefaultDialer.Dial(url, header); err == nil {
		t.Fatalf("expected foreign origin to be rejected")
	}
}
