// Package subscription implements the Subscription Engine, MonitoredItem
// Engine and Publish-Request Matcher (C6/C7/C8: spec.md §4.6-4.8).
//
// Grounded on the teacher's per-connection ring-buffered outbox
// (ws/internal/shared/connection.go: send chan []byte) generalized from
// a byte-message channel to the MonitoredItem value queue, and on its
// SequenceGenerator (ws/internal/single/messaging/message.go) reused
// verbatim in spirit for notification sequence numbers.
package subscription

import (
	"time"

	"github.com/nexroute/opcua-server/ua"
)

// MonitoringMode mirrors the OPC UA MonitoringMode enumeration.
type MonitoringMode int32

const (
	ModeDisabled MonitoringMode = iota
	ModeSampling
	ModeReporting
)

// DataChangeTrigger selects when a sampled value counts as a change
// (spec.md §4.7).
type DataChangeTrigger int32

const (
	TriggerStatus DataChangeTrigger = iota
	TriggerStatusValue
	TriggerStatusValueTimestamp
)

// DeadbandType selects the deadband comparison (spec.md §4.7).
type DeadbandType int32

const (
	DeadbandNone DeadbandType = iota
	DeadbandAbsolute
	DeadbandPercent
)

// overflowBit is the InfoBits.Overflow flag OR'd into a DataValue's
// status when the ring queue drops a sample (spec.md §4.7).
const overflowBit ua.StatusCode = 0x00000400

// ItemKind distinguishes DataChange items (sampled variables) from Event
// items (EventSource listeners); both share the ring-queue/overflow
// machinery but differ in what gets pushed (spec.md §4.7).
type ItemKind int32

const (
	KindDataChange ItemKind = iota
	KindEvent
)

// MonitoredItem is one entry of CreateMonitoredItems/ModifyMonitoredItems
// (spec.md §4.7).
type MonitoredItem struct {
	Id             uint32
	ClientHandle   uint32
	NodeId         ua.NodeId
	AttributeId    uint32
	Kind           ItemKind
	Mode           MonitoringMode
	SamplingInterval time.Duration
	QueueSize      uint32
	DiscardOldest  bool
	Trigger        DataChangeTrigger
	Deadband       DeadbandType
	DeadbandValue  float64
	EURangeLow     float64
	EURangeHigh    float64

	// TriggeringTargets is initialised empty and not read by the
	// subscription; triggering links are kept in Subscription.triggering.
	TriggeringTargets map[uint32]struct{}

	lastValue ua.DataValue
	hasLast   bool
	queue     []ua.DataValue
}

// NewMonitoredItem constructs an item with its queue pre-sized (minimum
// 1, per spec: a QueueSize of 0 is revised up to 1).
func NewMonitoredItem(id uint32, nodeId ua.NodeId, kind ItemKind) *MonitoredItem {
	return &MonitoredItem{
		Id:                id,
		NodeId:            nodeId,
		Kind:              kind,
		Mode:              ModeReporting,
		QueueSize:         1,
		Trigger:           TriggerStatusValue,
		TriggeringTargets: make(map[uint32]struct{}),
	}
}

// shouldReport applies the configured trigger to decide whether a new
// sample counts as a reportable change (spec.md §4.7).
func (m *MonitoredItem) shouldReport(v ua.DataValue) bool {
	if !m.hasLast {
		return true
	}
	statusChanged := m.lastValue.Status != v.Status
	switch m.Trigger {
	case TriggerStatus:
		return statusChanged
	case TriggerStatusValue:
		return statusChanged || m.valueChanged(v)
	case TriggerStatusValueTimestamp:
		return statusChanged || m.valueChanged(v) || m.lastValue.SourceTimestamp != v.SourceTimestamp
	default:
		return true
	}
}

func (m *MonitoredItem) valueChanged(v ua.DataValue) bool {
	if m.deadbandSuppresses(v) {
		return false
	}
	return true
}

// deadbandSuppresses reports whether the delta between lastValue and v
// falls below the configured deadband (spec.md §4.7: "Deadband ...
// suppresses value changes whose absolute delta is below the
// threshold; status changes always pass"). Only numeric scalar values
// participate; non-numeric types never get suppressed.
func (m *MonitoredItem) deadbandSuppresses(v ua.DataValue) bool {
	if m.Deadband == DeadbandNone {
		return false
	}
	prev, ok1 := numericValue(m.lastValue.Value)
	cur, ok2 := numericValue(v.Value)
	if !ok1 || !ok2 {
		return false
	}
	delta := cur - prev
	if delta < 0 {
		delta = -delta
	}
	switch m.Deadband {
	case DeadbandAbsolute:
		return delta < m.DeadbandValue
	case DeadbandPercent:
		span := m.EURangeHigh - m.EURangeLow
		if span <= 0 {
			return false
		}
		return (delta/span)*100 < m.DeadbandValue
	default:
		return false
	}
}

func numericValue(v ua.Variant) (float64, bool) {
	switch v.Type {
	case ua.TypeDouble:
		return v.Double, true
	case ua.TypeFloat:
		return float64(v.Float), true
	case ua.TypeInt32:
		return float64(v.Int32), true
	case ua.TypeUInt32:
		return float64(v.UInt32), true
	case ua.TypeInt16:
		return float64(v.Int16), true
	case ua.TypeUInt16:
		return float64(v.UInt16), true
	case ua.TypeInt64:
		return float64(v.Int64), true
	case ua.TypeUInt64:
		return float64(v.UInt64), true
	case ua.TypeByte:
		return float64(v.Byte), true
	case ua.TypeSByte:
		return float64(v.SByte), true
	default:
		return 0, false
	}
}

// Sample feeds one new value through the change-detection and
// ring-queue machinery (spec.md §4.7). Returns true only if a Reporting
// item detected a change and queued the sample; triggering targets are
// flushed separately by FlushTriggered.
//
// lastValue only advances when a sample is actually reported: it is
// the deadband baseline, not the most recent sample. Updating it on
// every sample would compare each value only against its immediate
// predecessor, letting a slow drift of sub-deadband steps accumulate
// past the threshold while never being reported.
func (m *MonitoredItem) Sample(v ua.DataValue) bool {
	report := m.shouldReport(v)
	if report {
		m.lastValue = v
		m.hasLast = true
	}
	if !report || m.Mode == ModeDisabled {
		return false
	}
	if m.Mode == ModeReporting {
		m.push(v)
		return true
	}
	return false
}

// FlushTriggered unconditionally pushes the item's current value,
// regardless of its own Mode, because a linked triggering item just
// reported (spec.md §4.7: "item T in Sampling mode does not report on
// its own, but when ... R reports, all linked T items flush").
func (m *MonitoredItem) FlushTriggered() {
	if m.hasLast {
		m.push(m.lastValue)
	}
}

// push inserts v into the ring queue, applying the configured overflow
// policy when full (spec.md §4.7).
func (m *MonitoredItem) push(v ua.DataValue) {
	size := int(m.QueueSize)
	if size < 1 {
		size = 1
	}
	if len(m.queue) < size {
		m.queue = append(m.queue, v)
		return
	}
	if m.DiscardOldest {
		m.queue = m.queue[1:]
		m.queue = append(m.queue, v)
		m.queue[len(m.queue)-1].Status |= overflowBit
	} else {
		m.queue[len(m.queue)-1] = v
		m.queue[len(m.queue)-1].Status |= overflowBit
	}
}

// Drain empties and returns the queued values, for assembly into a
// NotificationMessage.
func (m *MonitoredItem) Drain() []ua.DataValue {
	if len(m.queue) == 0 {
		return nil
	}
	out := m.queue
	m.queue = nil
	return out
}

// HasPending reports whether the item has queued values awaiting
// publish.
func (m *MonitoredItem) HasPending() bool { return len(m.queue) > 0 }
