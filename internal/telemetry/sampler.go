package telemetry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/bits"
	"sync"

	"hwcast/internal/models"
)

// ErrSample wraps a failed OS counter query. The caller skips the tick and
// tries again on the next one.
var ErrSample = errors.New("telemetry: sample failed")

type ifaceTotals struct {
	recv, sent uint64
}

// SystemSampler owns the host counter state. Refresh mutates it, Snapshot
// derives a HardwareSnapshot from it.
type SystemSampler struct {
	source CounterSource

	refreshMu sync.Mutex // serializes Refresh so network deltas pair up

	mu       sync.Mutex
	cpuBusy  float64 // sum of per-core busy percentages
	cores    int
	memTotal uint64
	memUsed  uint64
	netTotal map[string]ifaceTotals
	netDelta uint64 // bytes received+sent across interfaces since previous refresh
}

// NewSystemSampler performs the first refresh so Snapshot is always derived
// from real counters.
func NewSystemSampler(ctx context.Context, source CounterSource) (*SystemSampler, error) {
	s := &SystemSampler{
		source:   source,
		netTotal: make(map[string]ifaceTotals),
	}
	if err := s.Refresh(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Refresh queries the OS and replaces the whole counter set at once.
// The queries run outside the lock; only the swap is guarded.
func (s *SystemSampler) Refresh(ctx context.Context) error {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	perCore, err := s.source.CPUPercents(ctx)
	if err != nil {
		return fmt.Errorf("%w: cpu: %w", ErrSample, err)
	}
	memTotal, memUsed, err := s.source.Memory(ctx)
	if err != nil {
		return fmt.Errorf("%w: memory: %w", ErrSample, err)
	}
	ifaces, err := s.source.Interfaces(ctx)
	if err != nil {
		return fmt.Errorf("%w: network: %w", ErrSample, err)
	}

	var busy float64
	for _, pct := range perCore {
		busy += clampFloat(pct, 0, 100)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	totals := make(map[string]ifaceTotals, len(ifaces))
	var delta uint64
	for _, iface := range ifaces {
		cur := ifaceTotals{recv: iface.BytesRecv, sent: iface.BytesSent}
		if prev, ok := s.netTotal[iface.Name]; ok {
			delta += counterDelta(prev.recv, cur.recv) + counterDelta(prev.sent, cur.sent)
		}
		totals[iface.Name] = cur
	}

	s.cpuBusy = busy
	s.cores = len(perCore)
	s.memTotal = memTotal
	s.memUsed = memUsed
	s.netTotal = totals
	s.netDelta = delta
	return nil
}

// Snapshot derives percentages and network volume from the current counters
// without doing any I/O. Percentages truncate rather than round.
func (s *SystemSampler) Snapshot() models.HardwareSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	var cpuPct uint8
	if s.cores > 0 {
		cpuPct = uint8(clampFloat(math.Floor(s.cpuBusy/float64(s.cores)), 0, 100))
	}

	var memPct uint8
	if s.memTotal > 0 {
		used := s.memUsed
		if used > s.memTotal {
			used = s.memTotal
		}
		hi, lo := bits.Mul64(used, 100)
		pct, _ := bits.Div64(hi, lo, s.memTotal)
		memPct = uint8(pct)
	}

	return models.HardwareSnapshot{
		CPUPercent: cpuPct,
		MemPercent: memPct,
		NetKiB:     models.KiBFromBytes(s.netDelta),
	}
}

// counterDelta treats a counter that went backwards (interface reset or
// wraparound) as having moved zero bytes.
func counterDelta(prev, cur uint64) uint64 {
	if cur < prev {
		return 0
	}
	return cur - prev
}

func clampFloat(val, min, max float64) float64 {
	if math.IsNaN(val) {
		return min
	}
	if val < min {
		return min
	}
	if val > max {
		return max
	}
	return val
}
