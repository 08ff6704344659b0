package telemetry

import (
	"context"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/net"
)

// InterfaceCounters holds cumulative byte counters for one network interface.
type InterfaceCounters struct {
	Name      string
	BytesRecv uint64
	BytesSent uint64
}

// CounterSource performs the OS queries behind a refresh.
type CounterSource interface {
	// CPUPercents returns per-core busy percentages since the previous call.
	CPUPercents(ctx context.Context) ([]float64, error)
	// Memory returns total and used physical memory in bytes.
	Memory(ctx context.Context) (total, used uint64, err error)
	// Interfaces returns cumulative counters for every network interface.
	Interfaces(ctx context.Context) ([]InterfaceCounters, error)
}

// HostSource reads counters from the local host through gopsutil.
type HostSource struct{}

// NewHostSource returns the gopsutil-backed CounterSource.
func NewHostSource() *HostSource {
	return &HostSource{}
}

func (HostSource) CPUPercents(ctx context.Context) ([]float64, error) {
	return cpu.PercentWithContext(ctx, 0, true)
}

func (HostSource) Memory(ctx context.Context) (uint64, uint64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, 0, err
	}
	return vm.Total, vm.Used, nil
}

func (HostSource) Interfaces(ctx context.Context) ([]InterfaceCounters, error) {
	stats, err := net.IOCountersWithContext(ctx, true)
	if err != nil {
		return nil, err
	}
	out := make([]InterfaceCounters, 0, len(stats))
	for _, s := range stats {
		out = append(out, InterfaceCounters{Name: s.Name, BytesRecv: s.BytesRecv, BytesSent: s.BytesSent})
	}
	return out, nil
}
