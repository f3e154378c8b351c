package server

import (
	"bytes"
	"testing"
	"time"

	"github.com/nexroute/opcua-server/addrspace"
	"github.com/nexroute/opcua-server/subscription"
	"github.com/nexroute/opcua-server/ua"
)

func createTestSubscription(t *testing.T, s *Server, authToken ua.NodeId, channelId uint32) uint32 {
	t.Helper()
	buf := &bytes.Buffer{}
	e := ua.NewEncoder(buf)
	e.PutNodeId(ua.NewNumericNodeId(0, createSubscriptionRequestTypeId))
	e.PutRequestHeader(ua.RequestHeader{AuthenticationToken: authToken, RequestHandle: 20})
	e.PutFloat64(100) // PublishingInterval
	e.PutUint32(10)   // LifetimeCount
	e.PutUint32(3)    // MaxKeepAliveCount
	e.PutUint32(1000) // MaxNotifications
	e.PutByte(0)      // Priority
	e.PutBool(true)   // PublishingEnabled

	resp := s.Dispatch(channelId, ua.NodeId{}, buf.Bytes())
	d := ua.NewDecoder(bytes.NewReader(resp))
	d.GetNodeId()
	hdr := d.GetResponseHeader()
	if hdr.ServiceResult != ua.Good {
		t.Fatalf("CreateSubscription failed: %v", hdr.ServiceResult)
	}
	return d.GetUint32()
}

func createTestMonitoredItem(t *testing.T, s *Server, authToken ua.NodeId, channelId uint32, subId uint32) uint32 {
	t.Helper()
	buf := &bytes.Buffer{}
	e := ua.NewEncoder(buf)
	e.PutNodeId(ua.NewNumericNodeId(0, createMonitoredItemsRequestTypeId))
	e.PutRequestHeader(ua.RequestHeader{AuthenticationToken: authToken, RequestHandle: 21})
	e.PutUint32(subId)
	e.PutInt32(int32(addrspace.TimestampsSource))
	e.PutInt32(1)
	e.PutNodeId(testWritableNodeId)
	e.PutUint32(uint32(addrspace.AttributeValue))
	e.PutInt32(int32(subscription.ModeReporting))
	e.PutUint32(1) // ClientHandle
	e.PutFloat64(50)
	e.PutUint32(4) // QueueSize
	e.PutBool(false)
	e.PutInt32(int32(subscription.TriggerStatusValue))
	e.PutInt32(int32(subscription.DeadbandNone))
	e.PutFloat64(0)

	resp := s.Dispatch(channelId, ua.NodeId{}, buf.Bytes())
	d := ua.NewDecoder(bytes.NewReader(resp))
	d.GetNodeId()
	hdr := d.GetResponseHeader()
	if hdr.ServiceResult != ua.Good {
		t.Fatalf("CreateMonitoredItems failed: %v", hdr.ServiceResult)
	}
	n := d.GetInt32()
	if n != 1 {
		t.Fatalf("expected 1 monitored item result, got %d", n)
	}
	status := d.GetStatusCode()
	if status != ua.Good {
		t.Fatalf("expected Good monitored item creation, got %v", status)
	}
	itemId := d.GetUint32()
	d.GetFloat64() // RevisedSamplingInterval
	d.GetUint32()  // RevisedQueueSize
	return itemId
}

func TestCreateSubscriptionAndMonitoredItemRoundTrip(t *testing.T) {
	s := newTestServer(t)
	authToken := createTestSession(t, s, 1)
	subId := createTestSubscription(t, s, authToken, 1)
	if subId == 0 {
		t.Fatal("expected a nonzero subscription id")
	}
	itemId := createTestMonitoredItem(t, s, authToken, 1, subId)
	if itemId == 0 {
		t.Fatal("expected a nonzero monitored item id")
	}

	sub, ok := s.engine.Get(subId)
	if !ok {
		t.Fatal("expected subscription to be registered with the engine")
	}
	if sub.ItemCount() != 1 {
		t.Fatalf("expected 1 item on the subscription, got %d", sub.ItemCount())
	}
}

// TestPublishDeliversInitialValueImmediately exercises the case where
// the Publish request arrives after the subscription already has a
// queued notification from CreateMonitoredItems' initial sample: the
// Matcher should match it inline rather than park it.
func TestPublishDeliversInitialValueImmediately(t *testing.T) {
	s := newTestServer(t)
	authToken := createTestSession(t, s, 1)
	subId := createTestSubscription(t, s, authToken, 1)
	createTestMonitoredItem(t, s, authToken, 1, subId)

	buf := &bytes.Buffer{}
	e := ua.NewEncoder(buf)
	e.PutNodeId(ua.NewNumericNodeId(0, publishRequestTypeId))
	e.PutRequestHeader(ua.RequestHeader{AuthenticationToken: authToken, RequestHandle: 30})
	e.PutInt32(0) // no acks

	resp := s.Dispatch(1, ua.NodeId{}, buf.Bytes())
	if resp == nil {
		t.Fatal("expected an immediate Publish response since a notification was already pending")
	}

	d := ua.NewDecoder(bytes.NewReader(resp))
	d.GetNodeId()
	d.GetDateTime()
	handle := d.GetUint32()
	if handle != 30 {
		t.Fatalf("expected RequestHandle 30 echoed back, got %d", handle)
	}
	result := d.GetStatusCode()
	if result != ua.Good {
		t.Fatalf("expected Good ServiceResult, got %v", result)
	}
	d.GetDiagnosticInfo()
	d.GetInt32() // empty string table
	d.GetExtensionObject()

	gotSubId := d.GetUint32()
	if gotSubId != subId {
		t.Fatalf("expected subscription id %d, got %d", subId, gotSubId)
	}
	getUint32Array(d) // AvailableSequenceNumbers
	d.GetBool()        // MoreNotifications
	d.GetUint32()      // SequenceNumber
	d.GetDateTime()    // PublishTime
	changeCount := d.GetInt32()
	if changeCount != 1 {
		t.Fatalf("expected 1 data change in the notification, got %d", changeCount)
	}
}

// TestTickSamplesAddressSpaceAfterWrite verifies the MonitoredItem
// sampling loop at the top of Tick picks up a Write against the
// watched node on the next tick and queues a new notification.
func TestTickSamplesAddressSpaceAfterWrite(t *testing.T) {
	s := newTestServer(t)
	authToken := createTestSession(t, s, 1)
	subId := createTestSubscription(t, s, authToken, 1)
	itemId := createTestMonitoredItem(t, s, authToken, 1, subId)

	sub, _ := s.engine.Get(subId)
	item, ok := sub.Item(itemId)
	if !ok {
		t.Fatal("expected the created item to be found by id")
	}
	item.Drain() // clear the initial-sample notification

	statuses := s.space.Write([]addrspace.WriteValue{
		{NodeId: testWritableNodeId, AttributeId: addrspace.AttributeValue, Value: ua.DataValue{Value: ua.NewInt32(99), Status: ua.Good}},
	})
	if statuses[0] != ua.Good {
		t.Fatalf("expected Good write result, got %v", statuses[0])
	}

	s.Tick(nil, time.Now())

	if !item.HasPending() {
		t.Fatal("expected Tick's sampling pass to queue a new notification after the write")
	}
}
