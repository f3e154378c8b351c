package server

import (
	"bytes"
	"time"

	"github.com/nexroute/opcua-server/internal/identity"
	"github.com/nexroute/opcua-server/session"
	"github.com/nexroute/opcua-server/ua"
)

// createSessionRequest carries only the fields this server's Session
// Manager actually consumes; ServerUri/EndpointUrl/certificates/nonces
// are a crypto/discovery concern this server doesn't implement
// (spec.md §1's out-of-scope collaborators), so they're dropped rather
// than carried as dead weight on the wire.
type createSessionRequest struct {
	Header              ua.RequestHeader
	ClientDescription   *string
	SessionName         *string
	RequestedTimeout    float64
	MaxResponseMsgSize  uint32
}

func decodeCreateSessionRequest(body []byte) createSessionRequest {
	d := ua.NewDecoder(bytes.NewReader(body))
	d.GetNodeId()
	return createSessionRequest{
		Header:             d.GetRequestHeader(),
		ClientDescription:  d.GetString(),
		SessionName:        d.GetString(),
		RequestedTimeout:   d.GetFloat64(),
		MaxResponseMsgSize: d.GetUint32(),
	}
}

func encodeCreateSessionResponse(reqHdr ua.RequestHeader, now int64, status ua.StatusCode, sess *session.Session) []byte {
	buf := &bytes.Buffer{}
	e := ua.NewEncoder(buf)
	e.PutNodeId(ua.NewNumericNodeId(0, createSessionResponseTypeId))
	e.PutResponseHeader(ua.NewResponseHeader(reqHdr, status, now))
	if sess == nil {
		e.PutNodeId(ua.NullNodeId)
		e.PutNodeId(ua.NullNodeId)
		e.PutFloat64(0)
		return buf.Bytes()
	}
	e.PutNodeId(sess.SessionId)
	e.PutNodeId(sess.AuthToken)
	e.PutFloat64(float64(sess.Timeout / time.Millisecond))
	return buf.Bytes()
}

func (s *Server) handleCreateSession(channelId uint32, body []byte, now time.Time) []byte {
	req := decodeCreateSessionRequest(body)

	if s.guard != nil {
		if ok, reason := s.guard.ShouldAcceptSession(); !ok {
			s.logger.Warn().Str("reason", reason).Msg("server: CreateSession rejected by admission guard")
			if s.diag != nil {
				s.diag.RequestRejected()
			}
			return encodeCreateSessionResponse(req.Header, ua.DateTimeToTicks(now), ua.BadTooManySessions, nil)
		}
	}

	clientDesc := ""
	if req.ClientDescription != nil {
		clientDesc = *req.ClientDescription
	}
	timeout := time.Duration(req.RequestedTimeout) * time.Millisecond

	sess, err := s.sessions.CreateSession(clientDesc, timeout)
	if err != nil {
		return encodeCreateSessionResponse(req.Header, ua.DateTimeToTicks(now), statusOf(err), nil)
	}
	if s.diag != nil {
		s.diag.SessionCreated()
	}
	s.publishEvent("session_created", map[string]any{"session_id": sess.SessionId.String(), "client": clientDesc})
	return encodeCreateSessionResponse(req.Header, ua.DateTimeToTicks(now), ua.Good, sess)
}

// activateSessionRequest's UserIdentityToken is modeled as a
// (tokenType, keyMaterial) pair carried directly on the wire rather than
// the full ExtensionObject-encoded token union Part 4 specifies: this
// server recognizes exactly two shapes ("anonymous" and "issued", the
// JWT case A5 validates), so the simpler pair covers both without an
// extra indirection layer.
type activateSessionRequest struct {
	Header      ua.RequestHeader
	TokenType   *string
	KeyMaterial *string
}

func decodeActivateSessionRequest(body []byte) activateSessionRequest {
	d := ua.NewDecoder(bytes.NewReader(body))
	d.GetNodeId()
	return activateSessionRequest{
		Header:      d.GetRequestHeader(),
		TokenType:   d.GetString(),
		KeyMaterial: d.GetString(),
	}
}

func encodeActivateSessionResponse(reqHdr ua.RequestHeader, now int64, status ua.StatusCode) []byte {
	buf := &bytes.Buffer{}
	e := ua.NewEncoder(buf)
	e.PutNodeId(ua.NewNumericNodeId(0, activateSessionResponseTypeId))
	e.PutResponseHeader(ua.NewResponseHeader(reqHdr, status, now))
	putStatusCodeArray(e, nil) // per-result-array, always empty: no per-token diagnostics
	return buf.Bytes()
}

// handleActivateSession rebinds authToken onto channelId and, when an
// identity validator is configured and the token looks like an issued
// JWT, verifies it before accepting the new identity (spec.md §4.5,
// A5). A validation failure is reported as Bad_UserAccessDenied rather
// than aborting the channel, since the client can still retry
// ActivateSession with different credentials.
func (s *Server) handleActivateSession(channelId uint32, body []byte, now time.Time) []byte {
	req := decodeActivateSessionRequest(body)

	tokenType := ""
	if req.TokenType != nil {
		tokenType = *req.TokenType
	}
	keyMaterial := ""
	if req.KeyMaterial != nil {
		keyMaterial = *req.KeyMaterial
	}

	if tokenType == "issued" && s.identity != nil {
		claims, err := s.identity.Verify(keyMaterial)
		if err != nil {
			if s.diag != nil {
				s.diag.SessionSecurityRejected()
			}
			return encodeActivateSessionResponse(req.Header, ua.DateTimeToTicks(now), ua.BadUserAccessDenied)
		}
		keyMaterial = claimsSubject(claims)
	}

	sess, err := s.sessions.ActivateSession(req.Header.AuthenticationToken, channelId,
		session.UserIdentity{TokenType: tokenType, KeyMaterial: keyMaterial}, false)
	if err != nil {
		if s.diag != nil {
			s.diag.SessionSecurityRejected()
		}
		return encodeActivateSessionResponse(req.Header, ua.DateTimeToTicks(now), statusOf(err))
	}
	_ = sess
	return encodeActivateSessionResponse(req.Header, ua.DateTimeToTicks(now), ua.Good)
}

func claimsSubject(c *identity.Claims) string {
	if c == nil {
		return ""
	}
	return c.Subject
}

type closeSessionRequest struct {
	Header               ua.RequestHeader
	DeleteSubscriptions bool
}

func decodeCloseSessionRequest(body []byte) closeSessionRequest {
	d := ua.NewDecoder(bytes.NewReader(body))
	d.GetNodeId()
	return closeSessionRequest{Header: d.GetRequestHeader(), DeleteSubscriptions: d.GetBool()}
}

func encodeCloseSessionResponse(reqHdr ua.RequestHeader, now int64, status ua.StatusCode) []byte {
	buf := &bytes.Buffer{}
	e := ua.NewEncoder(buf)
	e.PutNodeId(ua.NewNumericNodeId(0, closeSessionResponseTypeId))
	e.PutResponseHeader(ua.NewResponseHeader(reqHdr, status, now))
	return buf.Bytes()
}

func (s *Server) handleCloseSession(body []byte, now time.Time) []byte {
	req := decodeCloseSessionRequest(body)
	authToken := req.Header.AuthenticationToken

	if sess, ok := s.sessions.Lookup(authToken); ok {
		if m := s.engine.Matcher(sess.SessionId); m != nil {
			for _, resp := range m.CancelAll(ua.BadSessionClosed) {
				if sent, ok := s.sessions.SessionById(sess.SessionId); ok && s.pusher != nil {
					s.pusher.Push(sent.ChannelId, resp.RequestId, encodePublishResponse(&resp, ua.DateTimeToTicks(now)))
				}
			}
		}
	}

	err := s.sessions.CloseSession(authToken, req.DeleteSubscriptions, session.CloseBySessionClose, s.engine)
	if err != nil {
		return encodeCloseSessionResponse(req.Header, ua.DateTimeToTicks(now), statusOf(err))
	}
	if s.diag != nil {
		s.diag.SessionClosed()
	}
	return encodeCloseSessionResponse(req.Header, ua.DateTimeToTicks(now), ua.Good)
}

// handleCancel implements a simplified Cancel (spec.md §208: "Cancel" is
// listed in the minimum service surface without further detail beyond
// the general cancellation semantics of §198). Rather than tracking
// every individual outstanding RequestHandle across services to cancel
// selectively, this server only ever has long-lived outstanding
// requests in one place — parked Publish requests — so Cancel here
// completes all of the calling session's parked Publish requests with
// Bad_RequestCancelledByRequest and reports how many it cancelled.
type cancelRequest struct {
	Header          ua.RequestHeader
	RequestHandle uint32
}

func decodeCancelRequest(body []byte) cancelRequest {
	d := ua.NewDecoder(bytes.NewReader(body))
	d.GetNodeId()
	return cancelRequest{Header: d.GetRequestHeader(), RequestHandle: d.GetUint32()}
}

func encodeCancelResponse(reqHdr ua.RequestHeader, now int64, status ua.StatusCode, count uint32) []byte {
	buf := &bytes.Buffer{}
	e := ua.NewEncoder(buf)
	e.PutNodeId(ua.NewNumericNodeId(0, cancelResponseTypeId))
	e.PutResponseHeader(ua.NewResponseHeader(reqHdr, status, now))
	e.PutUint32(count)
	return buf.Bytes()
}

func (s *Server) handleCancel(body []byte, now time.Time) []byte {
	req := decodeCancelRequest(body)
	sess, ok := s.sessions.Lookup(req.Header.AuthenticationToken)
	if !ok {
		return encodeCancelResponse(req.Header, ua.DateTimeToTicks(now), ua.BadSessionIdInvalid, 0)
	}
	m := s.engine.Matcher(sess.SessionId)
	if m == nil {
		return encodeCancelResponse(req.Header, ua.DateTimeToTicks(now), ua.Good, 0)
	}
	responses := m.CancelAll(ua.BadRequestCancelledByRequest)
	for _, resp := range responses {
		if s.pusher != nil {
			s.pusher.Push(sess.ChannelId, resp.RequestId, encodePublishResponse(&resp, ua.DateTimeToTicks(now)))
		}
	}
	return encodeCancelResponse(req.Header, ua.DateTimeToTicks(now), ua.Good, uint32(len(responses)))
}

// statusOf unwraps a session.Error into its StatusCode, defaulting to
// Bad_InternalError for any other error.
func statusOf(err error) ua.StatusCode {
	if se, ok := err.(*session.Error); ok {
		return se.Code
	}
	return ua.BadInternalError
}
