// Package resource reports the CPU and RAM available to an execution run,
// net of caller-specified reservations. Detection is advisory: platform
// failures degrade to conservative defaults and are never fatal.
package resource

import (
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/speedframe/speed/pkg/logger"
)

const (
	// fallbackCores is used when core detection fails.
	fallbackCores = 1
	// fallbackRAMBytes is used when memory detection fails (1 GiB).
	fallbackRAMBytes = int64(1 << 30)
)

// Budget is the resource envelope an execution run may use. AvailableCores
// caps worker-pool parallelism; AvailableRAMBytes caps the effective chunk
// size so in-flight chunks fit in memory.
type Budget struct {
	AvailableCores    int
	AvailableRAMBytes int64
}

// Prober reports the system's resource budget. Abstracting it keeps
// platform-specific introspection in one place and lets tests substitute
// fixed figures.
type Prober interface {
	Probe(reserveCores int, reserveRAMBytes int64) Budget
}

// SystemProber probes the host through gopsutil.
type SystemProber struct{}

// Probe returns total system cores and RAM minus the reservations, floored
// at 1 core and 0 bytes. Reservations larger than the system are clamped
// with a warning rather than failing the run.
func (SystemProber) Probe(reserveCores int, reserveRAMBytes int64) Budget {
	if reserveCores < 0 {
		reserveCores = 0
	}
	if reserveRAMBytes < 0 {
		reserveRAMBytes = 0
	}

	totalCores, err := cpu.Counts(true)
	if err != nil || totalCores <= 0 {
		logger.Warn("cpu detection failed, using fallback", zap.Error(err))
		totalCores = fallbackCores + reserveCores
	}

	totalRAM := fallbackRAMBytes + reserveRAMBytes
	if vm, err := mem.VirtualMemory(); err != nil {
		logger.Warn("memory detection failed, using fallback", zap.Error(err))
	} else {
		totalRAM = int64(vm.Total) //nolint:gosec // G115: totals fit in int64
	}

	budget := Budget{
		AvailableCores:    totalCores - reserveCores,
		AvailableRAMBytes: totalRAM - reserveRAMBytes,
	}
	if budget.AvailableCores < 1 {
		logger.Warn("core reservation exceeds system, clamping to 1 core",
			zap.Int("total_cores", totalCores),
			zap.Int("reserve_cores", reserveCores))
		budget.AvailableCores = 1
	}
	if budget.AvailableRAMBytes < 0 {
		logger.Warn("RAM reservation exceeds system, clamping to 0 bytes",
			zap.Int64("total_ram_bytes", totalRAM),
			zap.Int64("reserve_ram_bytes", reserveRAMBytes))
		budget.AvailableRAMBytes = 0
	}
	return budget
}

// FixedProber returns a constant budget; used by tests and by callers that
// want to pin parallelism.
type FixedProber struct {
	Budget Budget
}

// Probe returns the fixed budget minus reservations, with the same clamping
// as SystemProber.
func (f FixedProber) Probe(reserveCores int, reserveRAMBytes int64) Budget {
	b := Budget{
		AvailableCores:    f.Budget.AvailableCores - reserveCores,
		AvailableRAMBytes: f.Budget.AvailableRAMBytes - reserveRAMBytes,
	}
	if b.AvailableCores < 1 {
		b.AvailableCores = 1
	}
	if b.AvailableRAMBytes < 0 {
		b.AvailableRAMBytes = 0
	}
	return b
}
