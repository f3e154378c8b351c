package server

import (
	"bytes"
	"time"

	"github.com/nexroute/opcua-server/subscription"
	"github.com/nexroute/opcua-server/ua"
)

type publishRequest struct {
	Header ua.RequestHeader
	Acks   []subscription.Ack
}

func decodePublishRequest(body []byte) publishRequest {
	d := ua.NewDecoder(bytes.NewReader(body))
	d.GetNodeId()
	hdr := d.GetRequestHeader()
	n := d.GetInt32()
	var acks []subscription.Ack
	for i := int32(0); i < n; i++ {
		acks = append(acks, subscription.Ack{SubscriptionId: d.GetUint32(), SequenceNumber: d.GetUint32()})
	}
	return publishRequest{Header: hdr, Acks: acks}
}

// encodePublishResponse renders a matched Publish answer, whether
// returned inline from Dispatch or pushed later through transport.Pusher
// once a subscription ticks with something to report (spec.md §4.8).
func encodePublishResponse(resp *subscription.PublishResponse, now int64) []byte {
	buf := &bytes.Buffer{}
	e := ua.NewEncoder(buf)
	e.PutNodeId(ua.NewNumericNodeId(0, publishResponseTypeId))
	hdr := ua.ResponseHeader{Timestamp: now, RequestHandle: resp.RequestId, ServiceResult: resp.Status}
	e.PutDateTime(hdr.Timestamp)
	e.PutUint32(hdr.RequestHandle)
	e.PutStatusCode(hdr.ServiceResult)
	e.PutDiagnosticInfo(hdr.ServiceDiagnostic)
	e.PutInt32(0) // empty string table
	e.PutExtensionObject(nil)

	e.PutUint32(resp.SubscriptionId)
	putUint32Array(e, nil) // AvailableSequenceNumbers: not tracked separately from the retransmission queue
	e.PutBool(false)       // MoreNotifications

	if resp.Notification != nil {
		e.PutUint32(resp.Notification.SequenceNumber)
		e.PutDateTime(ua.DateTimeToTicks(resp.Notification.PublishTime))
		e.PutInt32(int32(len(resp.Notification.DataChanges)))
		for _, dc := range resp.Notification.DataChanges {
			e.PutUint32(dc.ClientHandle)
			e.PutDataValue(dc.Value)
		}
	} else {
		e.PutUint32(0)
		e.PutDateTime(now)
		e.PutInt32(0)
	}

	putStatusCodeArray(e, resp.AckResults)
	putEmptyDiagnosticInfoArray(e)
	return buf.Bytes()
}

// handlePublish parks the request with the session's Matcher (spec.md
// §4.8): a credit against future notifications, not a query. Returning
// nil tells transport.Connection's handleSecure no reply is owed yet;
// RequestHandle doubles as the wire-level RequestId for the later
// deferred push (see DESIGN.md's convention note: this server requires
// RequestHandle == RequestId for any request that might get parked).
func (s *Server) handlePublish(channelId uint32, body []byte, now time.Time) []byte {
	req := decodePublishRequest(body)
	sess, ok := s.sessions.Lookup(req.Header.AuthenticationToken)
	if !ok {
		return encodeServiceFault(req.Header, ua.DateTimeToTicks(now), ua.BadSessionIdInvalid)
	}
	s.sessions.Touch(req.Header.AuthenticationToken)

	if s.guard != nil && !s.guard.AllowPublish() {
		if s.diag != nil {
			s.diag.RequestRejected()
		}
		resp := &subscription.PublishResponse{RequestId: req.Header.RequestHandle, Status: ua.BadTooManyPublishRequests}
		return encodePublishResponse(resp, ua.DateTimeToTicks(now))
	}

	m := s.engine.Matcher(sess.SessionId)
	pubReq := subscription.PublishRequest{RequestId: req.Header.RequestHandle, Acks: req.Acks}
	resp, evicted := m.Submit(pubReq, now)
	if evicted != nil && s.pusher != nil {
		s.pusher.Push(channelId, evicted.RequestId, encodePublishResponse(evicted, ua.DateTimeToTicks(now)))
	}
	if resp != nil {
		return encodePublishResponse(resp, ua.DateTimeToTicks(now))
	}
	return nil
}

type republishRequest struct {
	Header         ua.RequestHeader
	SubscriptionId uint32
	SequenceNumber uint32
}

func decodeRepublishRequest(body []byte) republishRequest {
	d := ua.NewDecoder(bytes.NewReader(body))
	d.GetNodeId()
	return republishRequest{
		Header:         d.GetRequestHeader(),
		SubscriptionId: d.GetUint32(),
		SequenceNumber: d.GetUint32(),
	}
}

func encodeRepublishResponse(reqHdr ua.RequestHeader, now int64, status ua.StatusCode, msg *subscription.NotificationMessage) []byte {
	buf := &bytes.Buffer{}
	e := ua.NewEncoder(buf)
	e.PutNodeId(ua.NewNumericNodeId(0, republishResponseTypeId))
	e.PutResponseHeader(ua.NewResponseHeader(reqHdr, status, now))
	if msg == nil {
		e.PutUint32(0)
		e.PutDateTime(now)
		e.PutInt32(0)
		return buf.Bytes()
	}
	e.PutUint32(msg.SequenceNumber)
	e.PutDateTime(ua.DateTimeToTicks(msg.PublishTime))
	e.PutInt32(int32(len(msg.DataChanges)))
	for _, dc := range msg.DataChanges {
		e.PutUint32(dc.ClientHandle)
		e.PutDataValue(dc.Value)
	}
	return buf.Bytes()
}

func (s *Server) handleRepublish(body []byte, now time.Time) []byte {
	req := decodeRepublishRequest(body)
	sub, ok := s.engine.Get(req.SubscriptionId)
	if !ok {
		return encodeRepublishResponse(req.Header, ua.DateTimeToTicks(now), ua.BadSubscriptionIdInvalid, nil)
	}
	msg, status := sub.Republish(req.SequenceNumber)
	return encodeRepublishResponse(req.Header, ua.DateTimeToTicks(now), status, msg)
}
