package server

import (
	"bytes"
	"time"

	"github.com/nexroute/opcua-server/addrspace"
	"github.com/nexroute/opcua-server/ua"
)

func decodeReadValueIds(d *ua.Decoder) []addrspace.ReadValueId {
	n := d.GetInt32()
	if n <= 0 {
		return nil
	}
	out := make([]addrspace.ReadValueId, n)
	for i := range out {
		out[i] = addrspace.ReadValueId{NodeId: d.GetNodeId(), AttributeId: addrspace.AttributeId(d.GetUint32())}
	}
	return out
}

func (s *Server) handleRead(body []byte, now time.Time) []byte {
	d := ua.NewDecoder(bytes.NewReader(body))
	d.GetNodeId()
	hdr := d.GetRequestHeader()
	maxAge := d.GetFloat64()
	tt := addrspace.TimestampsToReturn(d.GetInt32())
	reads := decodeReadValueIds(d)

	s.sessions.Touch(hdr.AuthenticationToken)
	results := s.space.Read(reads, time.Duration(maxAge)*time.Millisecond, tt)

	buf := &bytes.Buffer{}
	e := ua.NewEncoder(buf)
	e.PutNodeId(ua.NewNumericNodeId(0, readResponseTypeId))
	e.PutResponseHeader(ua.NewResponseHeader(hdr, ua.Good, ua.DateTimeToTicks(now)))
	putDataValueArray(e, results)
	putEmptyDiagnosticInfoArray(e)
	return buf.Bytes()
}

func decodeWriteValues(d *ua.Decoder) []addrspace.WriteValue {
	n := d.GetInt32()
	if n <= 0 {
		return nil
	}
	out := make([]addrspace.WriteValue, n)
	for i := range out {
		out[i] = addrspace.WriteValue{
			NodeId:      d.GetNodeId(),
			AttributeId: addrspace.AttributeId(d.GetUint32()),
			Value:       d.GetDataValue(),
		}
	}
	return out
}

func (s *Server) handleWrite(body []byte, now time.Time) []byte {
	d := ua.NewDecoder(bytes.NewReader(body))
	d.GetNodeId()
	hdr := d.GetRequestHeader()
	writes := decodeWriteValues(d)

	s.sessions.Touch(hdr.AuthenticationToken)
	results := s.space.Write(writes)

	buf := &bytes.Buffer{}
	e := ua.NewEncoder(buf)
	e.PutNodeId(ua.NewNumericNodeId(0, writeResponseTypeId))
	e.PutResponseHeader(ua.NewResponseHeader(hdr, ua.Good, ua.DateTimeToTicks(now)))
	putStatusCodeArray(e, results)
	putEmptyDiagnosticInfoArray(e)
	return buf.Bytes()
}
