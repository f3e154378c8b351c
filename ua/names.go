package ua

import "time"

// QualifiedName is a namespace-scoped, case-sensitive name (spec.md §3).
type QualifiedName struct {
	NamespaceIndex uint16
	Name           string
}

// LocalizedText is a (locale, text) pair used for display attributes.
type LocalizedText struct {
	Locale string
	Text   string
}

// epoch1601 is the OPC UA DateTime epoch: 1601-01-01 UTC.
var epoch1601 = time.Date(1601, 1, 1, 0, 0, 0, 0, time.UTC)

// noValueTicks is the DateTime sentinel meaning "no value" (spec.md §4.1).
const noValueTicks int64 = int64(^uint64(0) >> 1) // math.MaxInt64 without importing math

// DateTimeToTicks converts a time.Time to the 100-ns-tick count since the
// 1601 epoch. A zero time.Time encodes to 0, which decodes back to a null
// date.
func DateTimeToTicks(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Sub(epoch1601).Nanoseconds() / 100
}

// TicksToDateTime converts the wire tick count back to a time.Time. Tick 0
// decodes to the zero time.Time (null date); math.MaxInt64 decodes to the
// zero time.Time as well, since both are "no value" sentinels the caller
// distinguishes via TicksIsNoValue before calling this.
func TicksToDateTime(ticks int64) time.Time {
	if ticks == 0 || ticks == noValueTicks {
		return time.Time{}
	}
	return epoch1601.Add(time.Duration(ticks) * 100)
}

// TicksIsNoValue reports whether ticks is the wire "no value" sentinel.
func TicksIsNoValue(ticks int64) bool { return ticks == noValueTicks }
