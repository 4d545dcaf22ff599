package handlers

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/yourusername/mc-server-manager/internal/api/middleware"
	"github.com/yourusername/mc-server-manager/internal/auth"
	"github.com/yourusername/mc-server-manager/internal/console"
	"github.com/yourusername/mc-server-manager/internal/models"
	"github.com/yourusername/mc-server-manager/internal/server"
	ws "github.com/yourusername/mc-server-manager/internal/websocket"
)

const (
	defaultLogLines = 200
	maxLogLines     = 5000
	// filtered reads scan this many trailing lines of a run log
	filterScanLines = 20000
	wsHistoryLines  = 200
)

// ConsoleHandler serves run logs and the live console stream.
type ConsoleHandler struct {
	instances      Lookup
	hub            *ws.Hub
	consoles       *console.Manager
	allowedOrigins []string
	authEnabled    bool
}

// NewConsoleHandler creates a new console handler
func NewConsoleHandler(instances Lookup, hub *ws.Hub, consoles *console.Manager, allowedOrigins []string, authEnabled bool) *ConsoleHandler {
	return &ConsoleHandler{
		instances:      instances,
		hub:            hub,
		consoles:       consoles,
		allowedOrigins: allowedOrigins,
		authEnabled:    authEnabled,
	}
}

// GetLogs returns the last lines of the instance's console, read from the
// live buffer while the run log is tailed and from disk otherwise.
// GET /servers/:name/logs?lines=&filter=&pattern=&case_sensitive=
func (h *ConsoleHandler) GetLogs(c *gin.Context) {
	inst, ok := lookupInstance(c, h.instances)
	if !ok {
		return
	}

	lines, err := parseLimit(c, "lines", defaultLogLines, maxLogLines)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	caseSensitive, _ := strconv.ParseBool(c.Query("case_sensitive"))
	filter, err := console.NewOutputFilter(c.Query("filter"), c.Query("pattern"), caseSensitive)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	filtering := filter.FilterType != console.FilterNone

	resp := models.LogsResponse{Name: inst.Name()}
	var raw []string

	if path, live := h.consoles.Following(inst.Name()); live {
		resp.Source = "live"
		resp.LogPath = path
		raw = h.consoles.History(inst.Name(), 0)
	} else {
		path := inst.LogPath()
		if path == "" {
			path, err = console.LatestRunLog(inst.Path())
			if err != nil {
				if errors.Is(err, console.ErrNoRunLog) {
					c.JSON(http.StatusNotFound, gin.H{"error": "No run log found", "name": inst.Name()})
					return
				}
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
		}

		scan := lines
		if filtering {
			scan = filterScanLines
		}
		raw, err = console.TailFile(path, scan)
		if err != nil {
			log.Printf("[Console] Failed to read %s: %v", path, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read run log"})
			return
		}
		resp.Source = "file"
		resp.LogPath = path
	}

	resp.Lines = filterLines(raw, filter, lines)
	c.JSON(http.StatusOK, resp)
}

// filterLines keeps the last limit lines accepted by filter.
func filterLines(raw []string, filter *console.OutputFilter, limit int) []models.LogLine {
	out := make([]models.LogLine, 0, limit)
	for i := len(raw) - 1; i >= 0 && len(out) < limit; i-- {
		result := filter.Filter(raw[i])
		if !result.Include {
			continue
		}
		out = append(out, models.LogLine{Text: raw[i], Highlight: result.Highlight})
	}
	for a, b := 0, len(out)-1; a < b; a, b = a+1, b-1 {
		out[a], out[b] = out[b], out[a]
	}
	return out
}

// HandleConsoleWebSocket streams console output of one instance. Clients
// holding the control scope may send {"type":"command","payload":{"command":"..."}}.
// GET /ws/servers/:name/console
func (h *ConsoleHandler) HandleConsoleWebSocket(c *gin.Context) {
	inst, ok := lookupInstance(c, h.instances)
	if !ok {
		return
	}

	canExecute := !h.authEnabled
	if claims, ok := middleware.ClaimsFrom(c); ok {
		canExecute = claims.HasScope(auth.ScopeControl)
	}

	upgrader := buildUpgrader(h.allowedOrigins)
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// the upgrader has already written an error response
		log.Printf("[Console] Failed to upgrade WebSocket: %v (origin=%s, server=%s)", err, c.Request.Header.Get("Origin"), inst.Name())
		return
	}

	room := console.Room(inst.Name())
	client := ws.NewClient(h.hub, conn, room, middleware.Subject(c), h.clientHandler(inst, canExecute))

	client.SendMessage("console_history", map[string]interface{}{
		"instance": inst.Name(),
		"lines":    h.consoles.History(inst.Name(), wsHistoryLines),
	})
	client.SendMessage("session_info", map[string]interface{}{
		"instance":       inst.Name(),
		"state":          inst.State().String(),
		"owned":          inst.Owned(),
		"can_execute":    canExecute,
		"active_viewers": h.hub.GetRoomSize(room) + 1,
	})

	if !h.hub.Join(client) {
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()
}

func (h *ConsoleHandler) clientHandler(inst *server.Instance, canExecute bool) ws.MessageHandler {
	return func(client *ws.Client, msg *ws.Message) {
		if msg.Type != "command" {
			return
		}
		if !canExecute {
			client.SendMessage("error", map[string]interface{}{"error": "Insufficient scope", "required": auth.ScopeControl})
			return
		}

		payload, _ := msg.Payload.(map[string]interface{})
		command, _ := payload["command"].(string)
		command = strings.TrimSpace(command)
		if command == "" || strings.ContainsAny(command, "\r\n") {
			client.SendMessage("error", map[string]interface{}{"error": "command must be a single non-empty line"})
			return
		}

		result := map[string]interface{}{"command": command, "success": true}
		if err := inst.SendCommand(command); err != nil {
			result["success"] = false
			result["error"] = err.Error()
		} else {
			log.Printf("[Console] %s sent %q to %s", client.Subject, command, inst.Name())
		}
		client.SendMessage("command_result", result)
	}
}

func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return middleware.IsOriginAllowed(r.Header.Get("Origin"), allowedOrigins)
		},
	}
}
