package metrics

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/yourusername/mc-server-manager/internal/admission"
	"github.com/yourusername/mc-server-manager/internal/database"
	"github.com/yourusername/mc-server-manager/internal/server"
)

const cleanupEvery = 6 * time.Hour

// Instances supplies the working set to measure.
type Instances interface {
	All() []*server.Instance
}

// Snapshot is one stored sample of the memory budget.
type Snapshot struct {
	Timestamp time.Time `json:"timestamp"`
	admission.Usage
}

// Collector periodically records how much of the host memory budget is
// committed to running servers.
type Collector struct {
	db            *database.DB
	instances     Instances
	budget        admission.Budget
	interval      time.Duration
	retentionDays int
	now           func() time.Time

	stopCh      chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
	mu          sync.Mutex
	lastCleanup time.Time
}

// NewCollector creates a collector. interval <= 0 defaults to a minute.
func NewCollector(db *database.DB, instances Instances, budget admission.Budget, interval time.Duration, retentionDays int) *Collector {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Collector{
		db:            db,
		instances:     instances,
		budget:        budget,
		interval:      interval,
		retentionDays: retentionDays,
		now:           time.Now,
		stopCh:        make(chan struct{}),
	}
}

// Start samples once immediately and then every interval.
func (c *Collector) Start() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.collect()

		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				return
			}
		}
	}()
}

// Stop ends collection and waits for the loop to exit.
func (c *Collector) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

func (c *Collector) collect() {
	if _, err := c.Collect(); err != nil {
		log.Printf("[Metrics] Failed to record memory snapshot: %v", err)
	}
	c.cleanupOldSnapshots()
}

// Collect measures current usage and stores it.
func (c *Collector) Collect() (admission.Usage, error) {
	usage := admission.Measure(c.instances.All(), c.budget)
	if c.db == nil {
		return usage, nil
	}

	_, err := c.db.Exec(`
		INSERT INTO memory_snapshots (timestamp, total_gb, reserve_gb, committed_gb, available_gb, running)
		VALUES (?, ?, ?, ?, ?, ?)
	`, c.now(), usage.TotalGB, usage.ReserveGB, usage.CommittedGB, usage.AvailableGB, usage.Running)
	if err != nil {
		return usage, fmt.Errorf("failed to insert snapshot: %w", err)
	}
	return usage, nil
}

// Snapshots returns stored samples taken at or after since, oldest first.
func (c *Collector) Snapshots(since time.Time, limit int) ([]Snapshot, error) {
	if c.db == nil {
		return nil, fmt.Errorf("database not available")
	}
	if limit <= 0 {
		limit = 1000
	}

	rows, err := c.db.Query(`
		SELECT timestamp, total_gb, reserve_gb, committed_gb, available_gb, running
		FROM (
			SELECT * FROM memory_snapshots
			WHERE timestamp >= ?
			ORDER BY timestamp DESC, id DESC
			LIMIT ?
		)
		ORDER BY timestamp ASC
	`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	snapshots := []Snapshot{}
	for rows.Next() {
		var s Snapshot
		if err := rows.Scan(&s.Timestamp, &s.TotalGB, &s.ReserveGB, &s.CommittedGB, &s.AvailableGB, &s.Running); err != nil {
			return nil, err
		}
		snapshots = append(snapshots, s)
	}
	return snapshots, rows.Err()
}

func (c *Collector) cleanupOldSnapshots() {
	if c.db == nil || c.retentionDays <= 0 {
		return
	}

	now := c.now()
	c.mu.Lock()
	if !c.lastCleanup.IsZero() && now.Sub(c.lastCleanup) < cleanupEvery {
		c.mu.Unlock()
		return
	}
	c.lastCleanup = now
	c.mu.Unlock()

	cutoff := now.Add(-time.Duration(c.retentionDays) * 24 * time.Hour)
	if _, err := c.db.Exec("DELETE FROM memory_snapshots WHERE timestamp < ?", cutoff); err != nil {
		log.Printf("[Metrics] Failed to clean up snapshots: %v", err)
	}
}
