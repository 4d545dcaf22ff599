package admission

import (
	"fmt"

	"github.com/shirou/gopsutil/v4/mem"
)

// virtualMemory is swapped in tests.
var virtualMemory = mem.VirtualMemory

// HostMemoryGB returns the host's total memory in whole GB.
func HostMemoryGB() (int, error) {
	vm, err := virtualMemory()
	if err != nil {
		return 0, fmt.Errorf("failed to read host memory: %w", err)
	}
	return int(vm.Total >> 30), nil
}

// ResolveBudget uses configuredTotalGB when positive, otherwise the
// detected host memory.
func ResolveBudget(configuredTotalGB, reserveGB int) (Budget, error) {
	if configuredTotalGB > 0 {
		return Budget{TotalGB: configuredTotalGB, ReserveGB: reserveGB}, nil
	}
	total, err := HostMemoryGB()
	if err != nil {
		return Budget{ReserveGB: reserveGB}, err
	}
	return Budget{TotalGB: total, ReserveGB: reserveGB}, nil
}
