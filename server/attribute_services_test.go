package server

import (
	"bytes"
	"testing"

	"github.com/nexroute/opcua-server/addrspace"
	"github.com/nexroute/opcua-server/ua"
)

func TestReadWriteRoundTrip(t *testing.T) {
	s := newTestServer(t)
	authToken := createTestSession(t, s, 1)

	wbuf := &bytes.Buffer{}
	we := ua.NewEncoder(wbuf)
	we.PutNodeId(ua.NewNumericNodeId(0, writeRequestTypeId))
	we.PutRequestHeader(ua.RequestHeader{AuthenticationToken: authToken, RequestHandle: 10})
	we.PutInt32(1)
	we.PutNodeId(testWritableNodeId)
	we.PutUint32(uint32(addrspace.AttributeValue))
	we.PutDataValue(ua.DataValue{Value: ua.NewInt32(42), Status: ua.Good})

	wresp := s.Dispatch(1, ua.NodeId{}, wbuf.Bytes())
	wd := ua.NewDecoder(bytes.NewReader(wresp))
	wd.GetNodeId()
	whdr := wd.GetResponseHeader()
	if whdr.ServiceResult != ua.Good {
		t.Fatalf("Write failed: %v", whdr.ServiceResult)
	}
	statuses := getStatusCodeArray(wd)
	if len(statuses) != 1 || statuses[0] != ua.Good {
		t.Fatalf("expected 1 Good write result, got %+v", statuses)
	}

	rbuf := &bytes.Buffer{}
	re := ua.NewEncoder(rbuf)
	re.PutNodeId(ua.NewNumericNodeId(0, readRequestTypeId))
	re.PutRequestHeader(ua.RequestHeader{AuthenticationToken: authToken, RequestHandle: 11})
	re.PutFloat64(0)
	re.PutInt32(int32(addrspace.TimestampsSource))
	re.PutInt32(1)
	re.PutNodeId(testWritableNodeId)
	re.PutUint32(uint32(addrspace.AttributeValue))

	rresp := s.Dispatch(1, ua.NodeId{}, rbuf.Bytes())
	rd := ua.NewDecoder(bytes.NewReader(rresp))
	rd.GetNodeId()
	rhdr := rd.GetResponseHeader()
	if rhdr.ServiceResult != ua.Good {
		t.Fatalf("Read failed: %v", rhdr.ServiceResult)
	}
	n := rd.GetInt32()
	if n != 1 {
		t.Fatalf("expected 1 read result, got %d", n)
	}
	dv := rd.GetDataValue()
	if dv.Status != ua.Good || dv.Value.Int32 != 42 {
		t.Fatalf("expected written value 42 back, got %+v", dv)
	}
}
