package telemetry

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"hwcast/internal/broadcast"
	"hwcast/internal/metrics"
	"hwcast/internal/models"
	"hwcast/internal/utils"
)

// scriptedSampler fails the refreshes listed in failOn (1-based) and otherwise
// reports cpu equal to the refresh count.
type scriptedSampler struct {
	mu      sync.Mutex
	count   int
	failOn  map[int]bool
	current models.HardwareSnapshot
}

func (s *scriptedSampler) Refresh(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count++
	if s.failOn[s.count] {
		return ErrSample
	}
	s.current = models.HardwareSnapshot{CPUPercent: uint8(s.count)}
	return nil
}

func (s *scriptedSampler) Snapshot() models.HardwareSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func TestTickPublishesSnapshot(t *testing.T) {
	feed := broadcast.New[models.HardwareSnapshot]()
	sampler := &scriptedSampler{}
	loop := NewSamplingLoop(sampler, feed, time.Hour, nil, nil)

	if err := loop.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if feed.Sequence() != 1 {
		t.Fatalf("sequence = %d, want 1", feed.Sequence())
	}

	sub := feed.Subscribe()
	defer sub.Close()
	snap, seq, err := sub.Receive(context.Background())
	if err != nil || seq != 1 || snap.CPUPercent != 1 {
		t.Fatalf("Receive = (%+v, %d, %v)", snap, seq, err)
	}
}

func TestTickFailureSkipsPublish(t *testing.T) {
	feed := broadcast.New[models.HardwareSnapshot]()
	reg := prometheus.NewRegistry()
	loop := NewSamplingLoop(&scriptedSampler{failOn: map[int]bool{1: true}}, feed, time.Hour, nil, metrics.New(reg))

	if err := loop.Tick(context.Background()); !errors.Is(err, ErrSample) {
		t.Fatalf("Tick error = %v, want ErrSample", err)
	}
	if feed.Sequence() != 0 {
		t.Fatalf("failed tick published: sequence %d", feed.Sequence())
	}
	if err := loop.Tick(context.Background()); err != nil {
		t.Fatalf("second Tick: %v", err)
	}
	if feed.Sequence() != 1 {
		t.Fatalf("sequence = %d, want 1", feed.Sequence())
	}
}

func TestRunSkipsFailedTicksAndClosesFeedOnStop(t *testing.T) {
	var buf bytes.Buffer
	logger := utils.NewWriterLogger(&buf, "debug")
	feed := broadcast.New[models.HardwareSnapshot]()
	sampler := &scriptedSampler{failOn: map[int]bool{2: true}}
	loop := NewSamplingLoop(sampler, feed, 5*time.Millisecond, logger, nil)

	sub := feed.Subscribe()
	defer sub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	var last uint64
	for last < 3 {
		_, seq, err := sub.Receive(context.Background())
		if err != nil {
			t.Fatalf("Receive: %v", err)
		}
		if seq <= last {
			t.Fatalf("sequence went from %d to %d", last, seq)
		}
		last = seq
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}

	if _, _, err := sub.Receive(context.Background()); !errors.Is(err, broadcast.ErrClosed) {
		t.Fatalf("Receive after stop = %v, want ErrClosed", err)
	}
	if !strings.Contains(buf.String(), "skipping tick") {
		t.Fatalf("failed tick was not logged: %s", buf.String())
	}
}

func TestRunExitsWhenFeedClosedExternally(t *testing.T) {
	feed := broadcast.New[models.HardwareSnapshot]()
	feed.Close()
	loop := NewSamplingLoop(&scriptedSampler{}, feed, time.Millisecond, nil, nil)

	done := make(chan error, 1)
	go func() { done <- loop.Run(context.Background()) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run kept ticking into a closed feed")
	}
}

func TestNewSamplingLoopDefaultsInterval(t *testing.T) {
	loop := NewSamplingLoop(&scriptedSampler{}, broadcast.New[models.HardwareSnapshot](), 0, nil, nil)
	if loop.Interval() != DefaultInterval {
		t.Fatalf("interval = %s, want %s", loop.Interval(), DefaultInterval)
	}
}
