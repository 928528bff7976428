package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestRecorderCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg)

	r.Transition("scan", "ENTRY")
	r.Transition("scan", "ENTRY")
	r.Transition("manual", "CONFLICT")
	r.ToggleDuration("scan", time.Now())
	r.StorageError("toggle")
	r.OrphansClosed(3)
	r.OrphansClosed(0)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	got := map[string]float64{}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				got[mf.GetName()] += m.GetCounter().GetValue()
			case m.GetHistogram() != nil:
				got[mf.GetName()] += float64(m.GetHistogram().GetSampleCount())
			}
		}
	}
	want := map[string]float64{
		"gym_attendance_transitions_total":       3,
		"gym_attendance_toggle_duration_seconds": 1,
		"gym_attendance_storage_errors_total":    1,
		"gym_attendance_orphans_closed_total":    3,
	}
	for name, v := range want {
		if got[name] != v {
			t.Fatalf("%s = %v, want %v", name, got[name], v)
		}
	}
}

func TestNilRecorderIsNoop(t *testing.T) {
	var r *Recorder
	r.Transition("scan", "EXIT")
	r.ToggleDuration("scan", time.Now())
	r.StorageError("x")
	r.OrphansClosed(1)
}
