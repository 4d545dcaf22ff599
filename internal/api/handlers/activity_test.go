package handlers

import (
	"errors"
	"net/http"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/mc-server-manager/internal/logging"
	"github.com/yourusername/mc-server-manager/internal/scheduler"
)

func TestActivityEndpoints(t *testing.T) {
	db := openTestDB(t)
	activity, err := logging.NewActivityLogger(db.DB, filepath.Join(t.TempDir(), "activity"))
	if err != nil {
		t.Fatalf("failed to create activity logger: %v", err)
	}
	defer activity.Close()

	activity.LogScheduleRun("alpha", "save", "save-all", nil)
	activity.LogScheduleRun("alpha", "save", "save-all", errors.New("not owned"))
	activity.LogStatusChange("beta", "running", "stopped", nil)

	reg := newTestRegistry(t, nil, "alpha", "beta")
	h := NewActivityHandler(reg, activity)
	router := gin.New()
	router.GET("/servers/:name/activity", h.GetServerActivity)
	router.GET("/activity", h.ListActivity)
	router.GET("/activity/stats", h.GetActivityStats)

	var resp struct {
		Activities []logging.Activity `json:"activities"`
		Count      int                `json:"count"`
	}
	decode(t, doRequest(t, router, http.MethodGet, "/servers/alpha/activity", nil), &resp)
	if resp.Count != 2 || resp.Activities[0].Success || resp.Activities[0].ErrorMessage != "not owned" {
		t.Fatalf("unexpected alpha activity %+v", resp)
	}

	decode(t, doRequest(t, router, http.MethodGet, "/activity?type=instance.status_change", nil), &resp)
	if resp.Count != 1 || resp.Activities[0].Instance != "beta" {
		t.Fatalf("unexpected filtered activity %+v", resp)
	}

	var stats struct {
		Stats map[string]int `json:"stats"`
	}
	decode(t, doRequest(t, router, http.MethodGet, "/activity/stats?instance=alpha", nil), &stats)
	if stats.Stats[logging.ActivityScheduleRun] != 2 {
		t.Fatalf("unexpected stats %+v", stats.Stats)
	}

	if w := doRequest(t, router, http.MethodGet, "/activity?since=soon", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid since, got %d", w.Code)
	}
	if w := doRequest(t, router, http.MethodGet, "/servers/ghost/activity", nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown server, got %d", w.Code)
	}
}

func TestActivityUnavailable(t *testing.T) {
	reg := newTestRegistry(t, nil, "alpha")
	router := gin.New()
	router.GET("/activity", NewActivityHandler(reg, nil).ListActivity)

	if w := doRequest(t, router, http.MethodGet, "/activity", nil); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

type fakeJobs []scheduler.Job

func (f fakeJobs) Jobs() []scheduler.Job { return f }

func TestSystemEndpoints(t *testing.T) {
	reg := newTestRegistry(t, nil, "alpha", "beta")
	h := NewSystemHandler(reg, testBudget, nil, fakeJobs{{Name: "liveness", Spec: "@every 15s"}})
	router := gin.New()
	router.GET("/memory", h.GetMemory)
	router.GET("/memory/history", h.GetMemoryHistory)
	router.GET("/schedules", h.ListSchedules)
	router.GET("/health", h.Health)

	var usage struct {
		TotalGB     int `json:"total_gb"`
		AvailableGB int `json:"available_gb"`
		Running     int `json:"running"`
	}
	decode(t, doRequest(t, router, http.MethodGet, "/memory", nil), &usage)
	if usage.TotalGB != 16 || usage.AvailableGB != 14 || usage.Running != 0 {
		t.Fatalf("unexpected usage %+v", usage)
	}

	if w := doRequest(t, router, http.MethodGet, "/memory/history", nil); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without a collector, got %d", w.Code)
	}

	var schedules struct {
		Schedules []scheduler.Job `json:"schedules"`
	}
	decode(t, doRequest(t, router, http.MethodGet, "/schedules", nil), &schedules)
	if len(schedules.Schedules) != 1 || schedules.Schedules[0].Name != "liveness" {
		t.Fatalf("unexpected schedules %+v", schedules)
	}

	var health struct {
		Status  string `json:"status"`
		Servers int    `json:"servers"`
	}
	decode(t, doRequest(t, router, http.MethodGet, "/health", nil), &health)
	if health.Status != "ok" || health.Servers != 2 {
		t.Fatalf("unexpected health %+v", health)
	}
}
