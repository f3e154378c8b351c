package historian

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/nexroute/opcua-server/ua"
)

func newTestAdapter() *Adapter {
	return &Adapter{logger: zerolog.Nop(), rings: make(map[string]*ring)}
}

func recordFor(t *testing.T, key string, value float64, ts time.Time) *kgo.Record {
	t.Helper()
	data, err := json.Marshal(Record{NodeKey: key, Value: value, SourceTimestamp: ts})
	if err != nil {
		t.Fatalf("marshal record: %v", err)
	}
	return &kgo.Record{Value: data}
}

func TestHistoryReadReturnsSamplesWithinWindow(t *testing.T) {
	a := newTestAdapter()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	nodeId := ua.NewNumericNodeId(2, 1)
	key := fmt.Sprint(nodeId.Key())

	a.processRecord(recordFor(t, key, 1.0, base))
	a.processRecord(recordFor(t, key, 2.0, base.Add(time.Minute)))
	a.processRecord(recordFor(t, key, 3.0, base.Add(2*time.Minute)))
	got, err := a.HistoryRead(nodeId, base.Add(30*time.Second), base.Add(90*time.Second))
	if err != nil {
		t.Fatalf("HistoryRead returned error: %v", err)
	}
	if len(got) != 1 || got[0].Value.Double != 2.0 {
		t.Fatalf("HistoryRead = %+v, want single sample with value 2.0", got)
	}
}

func TestHistoryReadUnknownNodeReturnsEmpty(t *testing.T) {
	a := newTestAdapter()
	got, err := a.HistoryRead(ua.NewNumericNodeId(2, 99), time.Time{}, time.Now())
	if err != nil {
		t.Fatalf("HistoryRead returned error: %v", err)
	}
	if got != nil {
		t.Fatalf("HistoryRead for unknown node = %v, want nil", got)
	}
}

func TestProcessRecordFailureIncrementsFailedCount(t *testing.T) {
	a := newTestAdapter()
	a.processRecord(&kgo.Record{Value: []byte("not json")})

	consumed, failed := a.Stats()
	if consumed != 0 || failed != 1 {
		t.Fatalf("Stats() = (%d, %d), want (0, 1)", consumed, failed)
	}
}

func TestRingEvictsOldestBeyondCapacity(t *testing.T) {
	r := &ring{}
	base := time.Now()
	for i := 0; i < maxSamplesPerNode+10; i++ {
		r.append(ua.DataValue{Value: ua.NewDouble(float64(i))}, base.Add(time.Duration(i)*time.Second))
	}
	all := r.between(base.Add(-time.Hour), base.Add(48*time.Hour))
	if len(all) != maxSamplesPerNode {
		t.Fatalf("len(all) = %d, want %d", len(all), maxSamplesPerNode)
	}
	if all[0].Value.Double != 10 {
		t.Fatalf("oldest surviving sample = %v, want value 10 (first 10 evicted)", all[0].Value.Double)
	}
}
