// Package telemetry samples host CPU, memory and network counters and
// publishes one HardwareSnapshot per interval.
//
// SystemSampler is the only owner of counter state. SamplingLoop is its only
// caller; everything downstream reads snapshots from the broadcast feed.
package telemetry
