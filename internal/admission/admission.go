package admission

import (
	"errors"
	"fmt"
)

// ErrInsufficientMemory is returned when a requested heap does not fit the
// remaining host budget.
var ErrInsufficientMemory = errors.New("insufficient memory")

// Instance is the view of a server admission control needs.
type Instance interface {
	IsRunning() bool
	MaxHeapGB() int
}

// Budget is the host memory split between the system and game servers.
type Budget struct {
	TotalGB   int `json:"total_gb"`
	ReserveGB int `json:"reserve_gb"`
}

// Usage summarizes how the budget is currently committed.
type Usage struct {
	Budget
	CommittedGB int `json:"committed_gb"`
	AvailableGB int `json:"available_gb"`
	Running     int `json:"running"`
}

// AvailableHeapGB returns total - reserve - sum of max heap of running
// instances, floored at zero.
func AvailableHeapGB[T Instance](instances []T, totalGB, reserveGB int) int {
	return Measure(instances, Budget{TotalGB: totalGB, ReserveGB: reserveGB}).AvailableGB
}

// Measure computes the current usage of budget.
func Measure[T Instance](instances []T, budget Budget) Usage {
	usage := Usage{Budget: budget}
	for _, inst := range instances {
		if !inst.IsRunning() {
			continue
		}
		usage.Running++
		if heap := inst.MaxHeapGB(); heap > 0 {
			usage.CommittedGB += heap
		}
	}
	usage.AvailableGB = budget.TotalGB - budget.ReserveGB - usage.CommittedGB
	if usage.AvailableGB < 0 {
		usage.AvailableGB = 0
	}
	return usage
}

// Check reports whether a server asking for requestedMaxGB may start now.
// Callers run it immediately before Start, since other servers may have
// started or stopped since the last time the budget was shown.
func Check[T Instance](requestedMaxGB int, instances []T, budget Budget) error {
	available := Measure(instances, budget).AvailableGB
	if requestedMaxGB > available {
		return fmt.Errorf("%w: requested %dG, available %dG", ErrInsufficientMemory, requestedMaxGB, available)
	}
	return nil
}
