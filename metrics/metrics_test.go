package metrics

import (
	"strings"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"
)

func TestMetricsHappyPath(t *testing.T) {
	m := NewMetrics("copy")

	m.RecordItem(10)
	m.RecordItem(32)
	m.RecordError()
	m.RecordSkipped()

	time.Sleep(50 * time.Millisecond)

	report := m.GenerateReport()

	if report.Items != 2 {
		t.Errorf("expected 2 items, got %d", report.Items)
	}
	if report.Bytes != 42 {
		t.Errorf("expected 42 bytes, got %d", report.Bytes)
	}
	if report.Errors != 1 {
		t.Errorf("expected 1 error, got %d", report.Errors)
	}
	if report.Skipped != 1 {
		t.Errorf("expected 1 skipped, got %d", report.Skipped)
	}
	if report.Duration < 50*time.Millisecond {
		t.Errorf("expected duration >= 50ms, got %v", report.Duration)
	}
	if report.Throughput <= 0 {
		t.Errorf("expected positive throughput, got %f", report.Throughput)
	}

	str := report.String()
	if !strings.HasPrefix(str, "copy completed in") {
		t.Errorf("unexpected report string %q", str)
	}
}

func TestMetricsConcurrentUpdates(t *testing.T) {
	m := NewMetrics("upload")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.RecordItem(1)
		}()
	}
	wg.Wait()

	if got := m.Items(); got != 50 {
		t.Errorf("expected 50 items, got %d", got)
	}
}

func TestReportJSON(t *testing.T) {
	r := Report{Operation: "download", Items: 3, Duration: 1500 * time.Millisecond}

	data, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if decoded["duration"] != "1.5s" {
		t.Errorf("expected duration 1.5s, got %v", decoded["duration"])
	}
	if decoded["operation"] != "download" {
		t.Errorf("expected operation download, got %v", decoded["operation"])
	}
}
