package server

import (
	"bytes"
	"context"
	"time"

	"github.com/nexroute/opcua-server/addrspace"
	"github.com/nexroute/opcua-server/ua"
)

func decodeMethodCalls(d *ua.Decoder) []addrspace.MethodCall {
	n := d.GetInt32()
	if n <= 0 {
		return nil
	}
	out := make([]addrspace.MethodCall, n)
	for i := range out {
		out[i] = addrspace.MethodCall{
			ObjectId:  d.GetNodeId(),
			MethodId:  d.GetNodeId(),
			InputArgs: getVariantArray(d),
		}
	}
	return out
}

// handleCall runs each method invocation through a shared circuit
// breaker (A7): a user-supplied functor (or one of the well-known
// methods wired in wellknown_methods.go) can wedge or panic, and must
// not be able to stall the dispatch loop every other client is also
// waiting on. Each method call in the batch goes through the breaker
// as its own unit of work, so every sub-call counts separately toward
// the breaker's failure ratio.
func (s *Server) handleCall(body []byte, now time.Time) []byte {
	d := ua.NewDecoder(bytes.NewReader(body))
	d.GetNodeId()
	hdr := d.GetRequestHeader()
	calls := decodeMethodCalls(d)

	s.sessions.Touch(hdr.AuthenticationToken)
	sess, _ := s.sessions.Lookup(hdr.AuthenticationToken)
	var sessionId ua.NodeId
	if sess != nil {
		sessionId = sess.SessionId
	}
	ctx := addrspace.CallContext{SessionId: sessionId}

	results := make([]addrspace.CallResult, len(calls))
	for i, c := range calls {
		call := c
		out, err := s.callBreaker.Call(context.Background(), func(context.Context) ([]ua.Variant, error) {
			res := s.space.Call(ctx, []addrspace.MethodCall{call})
			if res[0].Status != ua.Good {
				return res[0].OutputArgs, &callError{status: res[0].Status, argResults: res[0].InputArgResults}
			}
			return res[0].OutputArgs, nil
		})
		if err != nil {
			if ce, ok := err.(*callError); ok {
				results[i] = addrspace.CallResult{Status: ce.status, InputArgResults: ce.argResults}
				continue
			}
			// breaker.ErrOutOfService or a recovered panic: no modeled
			// Bad_OutOfService status code exists in this server's
			// StatusCode set, so a tripped breaker degrades to the
			// general-purpose Bad_InternalError instead.
			results[i] = addrspace.CallResult{Status: ua.BadInternalError}
			if s.diag != nil {
				s.diag.RequestRejected()
			}
			continue
		}
		results[i] = addrspace.CallResult{Status: ua.Good, OutputArgs: out}
	}

	buf := &bytes.Buffer{}
	e := ua.NewEncoder(buf)
	e.PutNodeId(ua.NewNumericNodeId(0, callResponseTypeId))
	e.PutResponseHeader(ua.NewResponseHeader(hdr, ua.Good, ua.DateTimeToTicks(now)))
	e.PutInt32(int32(len(results)))
	for _, r := range results {
		e.PutStatusCode(r.Status)
		putStatusCodeArray(e, r.InputArgResults)
		putEmptyDiagnosticInfoArray(e)
		putVariantArray(e, r.OutputArgs)
	}
	return buf.Bytes()
}

// callError carries an ordinary service-level failure (bad args, unknown
// method) back out through Breaker.Call's error return. It still counts
// toward the breaker's failure ratio like any other error; there is no
// separate "expected failure" channel in this server's breaker wrapper,
// so a client that calls methods with consistently bad arguments will
// eventually trip the breaker for every caller, same as a wedged
// dependency would.
type callError struct {
	status     ua.StatusCode
	argResults []ua.StatusCode
}

func (e *callError) Error() string { return "call: " + e.status.String() }
