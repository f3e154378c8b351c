// Package server implements the single-logical-thread service dispatcher
// (spec.md §5): it owns the session table, the subscription engine and
// the address space, and turns decoded service request bodies into
// response bodies by driving those packages exactly the way
// securechannel drives its own OPN/CLO codec (spec.md §4.1, §6).
//
// Grounded on the teacher's single-process hub model
// (internal/single/core): one entry point per inbound frame, blocking
// collaborators (method functors, the historian) wrapped in a circuit
// breaker rather than run unprotected on the dispatch path.
package server

import (
	"bytes"

	"github.com/nexroute/opcua-server/ua"
)

// serviceFaultTypeId is the ServiceFault encoding id (Part 6 Appendix A),
// returned whenever a request can't be routed to a known service or its
// header can't even be decoded.
const serviceFaultTypeId = 397

// peekTypeId reads just the leading NodeId of a service request body,
// used to route Dispatch without committing to a specific decoder.
func peekTypeId(body []byte) ua.NodeId {
	d := ua.NewDecoder(bytes.NewReader(body))
	return d.GetNodeId()
}

// decodeHeaderOnly recovers a RequestHeader from a body whose service
// type wasn't recognised or whose own decode failed partway through, so
// the ServiceFault response can still echo the right RequestHandle.
func decodeHeaderOnly(body []byte) ua.RequestHeader {
	d := ua.NewDecoder(bytes.NewReader(body))
	d.GetNodeId()
	return d.GetRequestHeader()
}

func encodeServiceFault(reqHdr ua.RequestHeader, now int64, status ua.StatusCode) []byte {
	buf := &bytes.Buffer{}
	e := ua.NewEncoder(buf)
	e.PutNodeId(ua.NewNumericNodeId(0, serviceFaultTypeId))
	e.PutResponseHeader(ua.NewResponseHeader(reqHdr, status, now))
	return buf.Bytes()
}

func putNodeIdArray(e *ua.Encoder, ids []ua.NodeId) {
	e.PutInt32(int32(len(ids)))
	for _, id := range ids {
		e.PutNodeId(id)
	}
}

func getNodeIdArray(d *ua.Decoder) []ua.NodeId {
	n := d.GetInt32()
	if n <= 0 {
		return nil
	}
	out := make([]ua.NodeId, n)
	for i := range out {
		out[i] = d.GetNodeId()
	}
	return out
}

func putStatusCodeArray(e *ua.Encoder, codes []ua.StatusCode) {
	e.PutInt32(int32(len(codes)))
	for _, c := range codes {
		e.PutStatusCode(c)
	}
}

func getStatusCodeArray(d *ua.Decoder) []ua.StatusCode {
	n := d.GetInt32()
	if n <= 0 {
		return nil
	}
	out := make([]ua.StatusCode, n)
	for i := range out {
		out[i] = d.GetStatusCode()
	}
	return out
}

func putUint32Array(e *ua.Encoder, vals []uint32) {
	e.PutInt32(int32(len(vals)))
	for _, v := range vals {
		e.PutUint32(v)
	}
}

func getUint32Array(d *ua.Decoder) []uint32 {
	n := d.GetInt32()
	if n <= 0 {
		return nil
	}
	out := make([]uint32, n)
	for i := range out {
		out[i] = d.GetUint32()
	}
	return out
}

func putDataValueArray(e *ua.Encoder, vals []ua.DataValue) {
	e.PutInt32(int32(len(vals)))
	for _, v := range vals {
		e.PutDataValue(v)
	}
}

func putVariantArray(e *ua.Encoder, vals []ua.Variant) {
	e.PutInt32(int32(len(vals)))
	for _, v := range vals {
		e.PutVariant(v)
	}
}

func getVariantArray(d *ua.Decoder) []ua.Variant {
	n := d.GetInt32()
	if n <= 0 {
		return nil
	}
	out := make([]ua.Variant, n)
	for i := range out {
		out[i] = d.GetVariant()
	}
	return out
}

// emptyDiagnosticInfoArray writes the length-prefixed empty array this
// server always returns for per-operation DiagnosticInfo: it never
// populates per-operation diagnostics (ua.ResponseHeader's own comment
// notes the same for ServiceDiagnostics).
func putEmptyDiagnosticInfoArray(e *ua.Encoder) {
	e.PutInt32(0)
}
