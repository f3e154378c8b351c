package addrspace

import (
	"testing"
	"time"

	"github.com/nexroute/opcua-server/ua"
)

type stubDiagnosticsSource struct {
	summary   DiagnosticsSummary
	intervals []float64
}

func (s stubDiagnosticsSource) Snapshot() DiagnosticsSummary { return s.summary }
func (s stubDiagnosticsSource) SamplingIntervals() []float64 { return s.intervals }

func TestBindDiagnosticsExposesCurrentSessionCount(t *testing.T) {
	s := newTestSpace()
	source := stubDiagnosticsSource{summary: DiagnosticsSummary{CurrentSessionCount: 3}}
	BindDiagnostics(s, source)

	results := s.Read([]ReadValueId{{NodeId: DiagCurrentSessionCount, AttributeId: AttributeValue}}, 0, TimestampsSource)
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Status != ua.Good {
		t.Fatalf("expected Good, got %v", results[0].Status)
	}
	if results[0].Value.UInt32 != 3 {
		t.Fatalf("CurrentSessionCount = %d, want 3", results[0].Value.UInt32)
	}
}

func TestBindDiagnosticsSamplingIntervalArrayReflectsSource(t *testing.T) {
	s := newTestSpace()
	source := stubDiagnosticsSource{intervals: []float64{100, 250, 1000}}
	BindDiagnostics(s, source)

	results := s.Read([]ReadValueId{{NodeId: SamplingIntervalDiagnosticsArray, AttributeId: AttributeValue}}, 0, TimestampsSource)
	val := results[0].Value
	if !val.IsArray || len(val.Array) != 3 {
		t.Fatalf("expected array of 3 elements, got %+v", val)
	}
	if val.Array[1].Double != 250 {
		t.Fatalf("Array[1] = %v, want 250", val.Array[1].Double)
	}
}

func TestBindDiagnosticsReflectsUpdatedSnapshotOnEachRead(t *testing.T) {
	s := newTestSpace()
	source := &stubDiagnosticsSource{summary: DiagnosticsSummary{CurrentSubscriptionCount: 1}}
	BindDiagnostics(s, source)

	first := s.Read([]ReadValueId{{NodeId: DiagCurrentSubscriptionCount, AttributeId: AttributeValue}}, 0, TimestampsSource)
	if first[0].Value.UInt32 != 1 {
		t.Fatalf("first read = %d, want 1", first[0].Value.UInt32)
	}

	source.summary.CurrentSubscriptionCount = 5
	second := s.Read([]ReadValueId{{NodeId: DiagCurrentSubscriptionCount, AttributeId: AttributeValue}}, 0, TimestampsSource)
	if second[0].Value.UInt32 != 5 {
		t.Fatalf("second read = %d, want 5 after source changed", second[0].Value.UInt32)
	}
	_ = time.Now()
}
