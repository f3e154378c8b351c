package server

import (
	"bytes"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/nexroute/opcua-server/addrspace"
	"github.com/nexroute/opcua-server/session"
	"github.com/nexroute/opcua-server/subscription"
	"github.com/nexroute/opcua-server/ua"
)

// testWritableNodeId is a Variable node added to every test address
// space so Read/Write/MonitoredItem tests have something real to touch.
var testWritableNodeId = ua.NewNumericNodeId(1, 100)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	space := addrspace.New()
	addrspace.BuildWellKnownNodes(space, time.Now())
	space.AddNode(&addrspace.Node{
		NodeId:      testWritableNodeId,
		Class:       addrspace.NodeClassVariable,
		Writable:    true,
		Value:       ua.DataValue{Value: ua.NewInt32(0), Status: ua.Good},
	})

	sessions := session.NewTable(session.Config{})
	engine := subscription.NewEngine(8)

	s := NewServer(Config{
		Sessions: sessions,
		Engine:   engine,
		Space:    space,
		Logger:   zerolog.Nop(),
	})
	return s
}

// createTestSession drives a CreateSession/ActivateSession round trip
// through Dispatch and returns the resulting auth token, ready for use
// as every later request's RequestHeader.AuthenticationToken.
func createTestSession(t *testing.T, s *Server, channelId uint32) ua.NodeId {
	t.Helper()

	buf := &bytes.Buffer{}
	e := ua.NewEncoder(buf)
	e.PutNodeId(ua.NewNumericNodeId(0, createSessionRequestTypeId))
	e.PutRequestHeader(ua.RequestHeader{RequestHandle: 1})
	clientDesc := "test-client"
	e.PutString(&clientDesc)
	sessionName := "test-session"
	e.PutString(&sessionName)
	e.PutFloat64(60000)
	e.PutUint32(0)

	resp := s.Dispatch(channelId, ua.NodeId{}, buf.Bytes())
	d := ua.NewDecoder(bytes.NewReader(resp))
	d.GetNodeId()
	hdr := d.GetResponseHeader()
	if hdr.ServiceResult != ua.Good {
		t.Fatalf("CreateSession failed: %v", hdr.ServiceResult)
	}
	d.GetNodeId() // SessionId
	authToken := d.GetNodeId()
	d.GetFloat64() // RevisedSessionTimeout

	actBuf := &bytes.Buffer{}
	ae := ua.NewEncoder(actBuf)
	ae.PutNodeId(ua.NewNumericNodeId(0, activateSessionRequestTypeId))
	ae.PutRequestHeader(ua.RequestHeader{AuthenticationToken: authToken, RequestHandle: 2})
	tokenType := "anonymous"
	ae.PutString(&tokenType)
	keyMaterial := ""
	ae.PutString(&keyMaterial)

	actResp := s.Dispatch(channelId, ua.NodeId{}, actBuf.Bytes())
	ad := ua.NewDecoder(bytes.NewReader(actResp))
	ad.GetNodeId()
	actHdr := ad.GetResponseHeader()
	if actHdr.ServiceResult != ua.Good {
		t.Fatalf("ActivateSession failed: %v", actHdr.ServiceResult)
	}
	return authToken
}

func TestCreateActivateCloseSessionRoundTrip(t *testing.T) {
	s := newTestServer(t)
	authToken := createTestSession(t, s, 1)

	buf := &bytes.Buffer{}
	e := ua.NewEncoder(buf)
	e.PutNodeId(ua.NewNumericNodeId(0, closeSessionRequestTypeId))
	e.PutRequestHeader(ua.RequestHeader{AuthenticationToken: authToken, RequestHandle: 3})
	e.PutBool(true)

	resp := s.Dispatch(1, ua.NodeId{}, buf.Bytes())
	d := ua.NewDecoder(bytes.NewReader(resp))
	d.GetNodeId()
	hdr := d.GetResponseHeader()
	if hdr.ServiceResult != ua.Good {
		t.Fatalf("CloseSession failed: %v", hdr.ServiceResult)
	}

	if _, ok := s.sessions.Lookup(authToken); ok {
		t.Fatal("expected session to be gone after CloseSession")
	}
}

func TestDispatchUnknownTypeIdReturnsServiceFault(t *testing.T) {
	s := newTestServer(t)

	buf := &bytes.Buffer{}
	e := ua.NewEncoder(buf)
	e.PutNodeId(ua.NewNumericNodeId(0, 999999))
	e.PutRequestHeader(ua.RequestHeader{RequestHandle: 1})

	resp := s.Dispatch(1, ua.NodeId{}, buf.Bytes())
	d := ua.NewDecoder(bytes.NewReader(resp))
	typeId := d.GetNodeId()
	if typeId.Numeric != serviceFaultTypeId {
		t.Fatalf("expected ServiceFault typeId %d, got %d", serviceFaultTypeId, typeId.Numeric)
	}
	hdr := d.GetResponseHeader()
	if hdr.ServiceResult != ua.BadNotImplemented {
		t.Fatalf("expected BadNotImplemented, got %v", hdr.ServiceResult)
	}
}
