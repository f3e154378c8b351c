package subscription

import (
	"testing"

	"github.com/nexroute/opcua-server/ua"
)

func dv(x float64, status ua.StatusCode) ua.DataValue {
	return ua.DataValue{Value: ua.NewDouble(x), Status: status}
}

func TestMonitoredItemQueueOverflowDiscardOldest(t *testing.T) {
	m := NewMonitoredItem(1, ua.NewNumericNodeId(1, 1), KindDataChange)
	m.QueueSize = 2
	m.DiscardOldest = true

	m.Sample(dv(1, ua.Good))
	m.Sample(dv(2, ua.Good))
	m.Sample(dv(3, ua.Good))

	got := m.Drain()
	if len(got) != 2 {
		t.Fatalf("queue length = %d, want 2", len(got))
	}
	if got[0].Value.Double != 2 || got[1].Value.Double != 3 {
		t.Fatalf("queue contents = %+v, want [2 3]", got)
	}
	if got[1].Status&overflowBit == 0 {
		t.Fatalf("expected overflow bit on newest retained sample")
	}
}

func TestMonitoredItemQueueOverflowDiscardNewestReplacesTail(t *testing.T) {
	m := NewMonitoredItem(1, ua.NewNumericNodeId(1, 1), KindDataChange)
	m.QueueSize = 2
	m.DiscardOldest = false

	m.Sample(dv(1, ua.Good))
	m.Sample(dv(2, ua.Good))
	m.Sample(dv(3, ua.Good))

	got := m.Drain()
	if len(got) != 2 {
		t.Fatalf("queue length = %d, want 2", len(got))
	}
	if got[0].Value.Double != 1 || got[1].Value.Double != 3 {
		t.Fatalf("queue contents = %+v, want [1 3]", got)
	}
	if got[1].Status&overflowBit == 0 {
		t.Fatalf("expected overflow bit on replaced tail sample")
	}
}

func TestMonitoredItemDeadbandAbsoluteSuppressesSmallChange(t *testing.T) {
	m := NewMonitoredItem(1, ua.NewNumericNodeId(1, 1), KindDataChange)
	m.Trigger = TriggerStatusValue
	m.Deadband = DeadbandAbsolute
	m.DeadbandValue = 5

	m.Sample(dv(100, ua.Good))
	reported := m.Sample(dv(102, ua.Good))
	if reported {
		t.Fatalf("expected small change to be suppressed by deadband")
	}
	if !m.HasPending() {
		t.Fatalf("expected first sample to remain queued")
	}
}

func TestMonitoredItemDeadbandPercentUsesEURange(t *testing.T) {
	m := NewMonitoredItem(1, ua.NewNumericNodeId(1, 1), KindDataChange)
	m.Trigger = TriggerStatusValue
	m.Deadband = DeadbandPercent
	m.DeadbandValue = 10 // 10% of a 0-100 range = 10 units
	m.EURangeLow = 0
	m.EURangeHigh = 100

	m.Sample(dv(50, ua.Good))
	if reported := m.Sample(dv(55, ua.Good)); reported {
		t.Fatalf("5%% delta should be suppressed under a 10%% deadband")
	}
	if reported := m.Sample(dv(65, ua.Good)); !reported {
		t.Fatalf("15%% delta should pass a 10%% deadband")
	}
}

func TestMonitoredItemDeadbandBaselineOnlyAdvancesOnReport(t *testing.T) {
	m := NewMonitoredItem(1, ua.NewNumericNodeId(1, 1), KindDataChange)
	m.Trigger = TriggerStatusValue
	m.Deadband = DeadbandAbsolute
	m.DeadbandValue = 0.5

	samples := []float64{100, 100.3, 100.6, 100.9, 101.2}
	wantReported := []bool{true, false, true, false, true}
	for i, x := range samples {
		if reported := m.Sample(dv(x, ua.Good)); reported != wantReported[i] {
			t.Fatalf("sample %d (%v): reported = %v, want %v", i, x, reported, wantReported[i])
		}
	}
	if m.lastValue.Value.Double != 101.2 {
		t.Fatalf("baseline after drift = %v, want 101.2", m.lastValue.Value.Double)
	}
}

func TestMonitoredItemStatusChangeAlwaysReportsDespiteDeadband(t *testing.T) {
	m := NewMonitoredItem(1, ua.NewNumericNodeId(1, 1), KindDataChange)
	m.Trigger = TriggerStatusValue
	m.Deadband = DeadbandAbsolute
	m.DeadbandValue = 1000

	m.Sample(dv(1, ua.Good))
	if reported := m.Sample(dv(1, ua.BadNoCommunication)); !reported {
		t.Fatalf("status change must report regardless of deadband")
	}
}

func TestMonitoredItemTriggerStatusOnlyIgnoresValueChange(t *testing.T) {
	m := NewMonitoredItem(1, ua.NewNumericNodeId(1, 1), KindDataChange)
	m.Trigger = TriggerStatus

	m.Sample(dv(1, ua.Good))
	if reported := m.Sample(dv(999, ua.Good)); reported {
		t.Fatalf("Status-only trigger must ignore value-only changes")
	}
}

func TestMonitoredItemSamplingModeDoesNotQueue(t *testing.T) {
	m := NewMonitoredItem(1, ua.NewNumericNodeId(1, 1), KindDataChange)
	m.Mode = ModeSampling

	m.Sample(dv(1, ua.Good))
	if m.HasPending() {
		t.Fatalf("a Sampling-mode item must not queue on its own")
	}
}

func TestMonitoredItemFlushTriggeredQueuesRegardlessOfMode(t *testing.T) {
	m := NewMonitoredItem(1, ua.NewNumericNodeId(1, 1), KindDataChange)
	m.Mode = ModeSampling
	m.Sample(dv(42, ua.Good))

	m.FlushTriggered()
	if !m.HasPending() {
		t.Fatalf("FlushTriggered must queue the last known value")
	}
	got := m.Drain()
	if got[0].Value.Double != 42 {
		t.Fatalf("flushed value = %v, want 42", got[0].Value.Double)
	}
}

func TestMonitoredItemDisabledModeNeverQueues(t *testing.T) {
	m := NewMonitoredItem(1, ua.NewNumericNodeId(1, 1), KindDataChange)
	m.Mode = ModeDisabled

	m.Sample(dv(1, ua.Good))
	m.Sample(dv(2, ua.Good))
	if m.HasPending() {
		t.Fatalf("a Disabled item must never queue samples")
	}
}
