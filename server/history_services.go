package server

import (
	"bytes"
	"context"
	"time"

	"github.com/nexroute/opcua-server/ua"
)

// historyReadItem carries only a per-node start/end time range
// (spec.md §4.4's modeled subset): the Part 11 ReadRawModifiedDetails
// ExtensionObject union (raw/processed/at-time/modified/annotation
// reads) is reduced to the one variant this server's HistoryReader
// interface (and historian.Adapter) actually implements.
type historyReadItem struct {
	NodeId ua.NodeId
	Start  time.Time
	End    time.Time
}

func (s *Server) handleHistoryRead(body []byte, now time.Time) []byte {
	d := ua.NewDecoder(bytes.NewReader(body))
	d.GetNodeId()
	hdr := d.GetRequestHeader()
	n := d.GetInt32()
	items := make([]historyReadItem, 0, n)
	for i := int32(0); i < n; i++ {
		items = append(items, historyReadItem{
			NodeId: d.GetNodeId(),
			Start:  ua.TicksToDateTime(d.GetDateTime()),
			End:    ua.TicksToDateTime(d.GetDateTime()),
		})
	}

	s.sessions.Touch(hdr.AuthenticationToken)

	buf := &bytes.Buffer{}
	e := ua.NewEncoder(buf)
	e.PutNodeId(ua.NewNumericNodeId(0, historyReadResponseTypeId))
	e.PutResponseHeader(ua.NewResponseHeader(hdr, ua.Good, ua.DateTimeToTicks(now)))
	e.PutInt32(int32(len(items)))
	for _, item := range items {
		values, status := s.historyRead(item)
		e.PutStatusCode(status)
		putDataValueArray(e, values)
	}
	putEmptyDiagnosticInfoArray(e)
	return buf.Bytes()
}

// historyRead wraps the historian lookup (A8, optional) in the same
// breaker as Call: a wedged Kafka-backed reader must degrade to
// Bad_HistoryOperationUnsupported rather than stall every other client
// waiting on the dispatch loop.
func (s *Server) historyRead(item historyReadItem) ([]ua.DataValue, ua.StatusCode) {
	if s.history == nil {
		return nil, ua.BadHistoryOperationUnsupported
	}
	result, err := s.historyBreaker.Call(context.Background(), func(context.Context) ([]ua.DataValue, error) {
		return s.history.HistoryRead(item.NodeId, item.Start, item.End)
	})
	if err != nil {
		return nil, ua.BadHistoryOperationUnsupported
	}
	return result, ua.Good
}

// handleHistoryUpdate: this server never accepts client-originated
// history edits (spec.md Non-goals exclude a historical storage
// back-end; the historian adapter is a read-only consumer of an
// external log, A8), so every entry is rejected uniformly.
func (s *Server) handleHistoryUpdate(body []byte, now time.Time) []byte {
	d := ua.NewDecoder(bytes.NewReader(body))
	d.GetNodeId()
	hdr := d.GetRequestHeader()
	n := d.GetInt32()

	buf := &bytes.Buffer{}
	e := ua.NewEncoder(buf)
	e.PutNodeId(ua.NewNumericNodeId(0, historyUpdateResponseTypeId))
	e.PutResponseHeader(ua.NewResponseHeader(hdr, ua.Good, ua.DateTimeToTicks(now)))
	e.PutInt32(n)
	for i := int32(0); i < n; i++ {
		e.PutStatusCode(ua.BadHistoryOperationUnsupported)
		putStatusCodeArray(e, nil)
		putEmptyDiagnosticInfoArray(e)
	}
	return buf.Bytes()
}
