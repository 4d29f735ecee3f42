// Package metrics counts the items and bytes moved by bulk operations and
// produces the report printed when they finish.
package metrics

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
)

// Metrics collects counters for one bulk operation.
// It uses atomic operations for thread-safe counter updates.
type Metrics struct {
	operation string
	startTime time.Time

	items   atomic.Int64 // Items completed
	bytes   atomic.Int64 // Bytes transferred by completed items
	errors  atomic.Int64 // Items that failed
	skipped atomic.Int64 // Items filtered out or already present
}

// NewMetrics starts collecting for the named operation.
func NewMetrics(operation string) *Metrics {
	return &Metrics{
		operation: operation,
		startTime: time.Now(),
	}
}

// RecordItem counts one completed item of n bytes.
func (m *Metrics) RecordItem(n int64) {
	m.items.Add(1)
	m.bytes.Add(n)
}

// RecordError counts one failed item.
func (m *Metrics) RecordError() {
	m.errors.Add(1)
}

// RecordSkipped counts one skipped item.
func (m *Metrics) RecordSkipped() {
	m.skipped.Add(1)
}

// Items returns the number of completed items so far.
func (m *Metrics) Items() int64 {
	return m.items.Load()
}

// Report is the summary of a finished bulk operation.
type Report struct {
	Operation  string        `json:"operation"`
	StartTime  time.Time     `json:"startTime"`
	EndTime    time.Time     `json:"endTime"`
	Items      int64         `json:"items"`
	Bytes      int64         `json:"bytes"`
	Errors     int64         `json:"errors"`
	Skipped    int64         `json:"skipped"`
	Duration   time.Duration `json:"duration"`
	Throughput float64       `json:"throughput"` // Items per second
}

// GenerateReport snapshots the counters.
func (m *Metrics) GenerateReport() Report {
	endTime := time.Now()
	duration := endTime.Sub(m.startTime)
	items := m.items.Load()

	var throughput float64
	if duration > 0 {
		throughput = float64(items) / duration.Seconds()
	}

	return Report{
		Operation:  m.operation,
		StartTime:  m.startTime,
		EndTime:    endTime,
		Items:      items,
		Bytes:      m.bytes.Load(),
		Errors:     m.errors.Load(),
		Skipped:    m.skipped.Load(),
		Duration:   duration,
		Throughput: throughput,
	}
}

// LogProgress logs the running counters every interval until ctx is done.
func (m *Metrics) LogProgress(ctx context.Context, interval time.Duration, log *logrus.Entry) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			log.Infof("Progress: %s %d items (%d bytes), %d errors",
				m.operation, m.items.Load(), m.bytes.Load(), m.errors.Load())
		case <-ctx.Done():
			return
		}
	}
}

// MarshalJSON formats Duration as a string.
func (r Report) MarshalJSON() ([]byte, error) {
	type Alias Report
	return json.Marshal(&struct {
		Alias
		Duration string `json:"duration"`
	}{
		Alias:    Alias(r),
		Duration: r.Duration.String(),
	})
}

func (r Report) String() string {
	return fmt.Sprintf(
		"%s completed in %s\n"+
			"Items: %d (%d bytes)\n"+
			"Errors: %d\n"+
			"Skipped: %d\n"+
			"Throughput: %.2f items/sec",
		r.Operation,
		r.Duration.Round(time.Millisecond),
		r.Items,
		r.Bytes,
		r.Errors,
		r.Skipped,
		r.Throughput,
	)
}
