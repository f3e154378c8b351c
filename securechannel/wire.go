package securechannel

import (
	"bytes"
	"encoding/binary"
	"time"

	"github.com/nexroute/opcua-server/ua"
)

// HelloMessage is the decoded body of a HEL chunk (no security header, no
// sequence header, no TypeId tag: HEL/ACK/ERR sit outside the secure
// channel entirely, spec.md §4.2).
type HelloMessage struct {
	ProtocolVersion   uint32
	ReceiveBufferSize uint32
	SendBufferSize    uint32
	MaxMessageSize    uint32
	MaxChunkCount     uint32
	EndpointURL       string
}

func DecodeHello(body []byte) HelloMessage {
	d := ua.NewDecoder(bytes.NewReader(body))
	m := HelloMessage{
		ProtocolVersion:   d.GetUint32(),
		ReceiveBufferSize: d.GetUint32(),
		SendBufferSize:    d.GetUint32(),
		MaxMessageSize:    d.GetUint32(),
		MaxChunkCount:     d.GetUint32(),
	}
	if s := d.GetString(); s != nil {
		m.EndpointURL = *s
	}
	return m
}

// AcknowledgeMessage is the ACK chunk body the server sends back, built
// from the Limits securechannel.Channel.HandleHello revised.
type AcknowledgeMessage struct {
	ProtocolVersion   uint32
	ReceiveBufferSize uint32
	SendBufferSize    uint32
	MaxMessageSize    uint32
	MaxChunkCount     uint32
}

func EncodeAcknowledge(m AcknowledgeMessage) []byte {
	buf := &bytes.Buffer{}
	e := ua.NewEncoder(buf)
	e.PutUint32(m.ProtocolVersion)
	e.PutUint32(m.ReceiveBufferSize)
	e.PutUint32(m.SendBufferSize)
	e.PutUint32(m.MaxMessageSize)
	e.PutUint32(m.MaxChunkCount)
	return buf.Bytes()
}

// ErrorMessage is the ERR chunk body sent when the transport must reject
// a connection before a channel exists (spec.md §4.2).
type ErrorMessage struct {
	Code   ua.StatusCode
	Reason string
}

func EncodeError(m ErrorMessage) []byte {
	buf := &bytes.Buffer{}
	e := ua.NewEncoder(buf)
	e.PutStatusCode(m.Code)
	reason := m.Reason
	e.PutString(&reason)
	return buf.Bytes()
}

// AsymmetricSecurityHeader precedes the sequence header on every OPN
// chunk, identifying the security policy and (for Sign/SignAndEncrypt)
// the certificates in play. This server's only shipped SecurityPolicy is
// NonePolicy, so SenderCertificate/ReceiverCertificateThumbprint are
// always empty, but the fields still round-trip for a future policy.
type AsymmetricSecurityHeader struct {
	PolicyUri                     string
	SenderCertificate             []byte
	ReceiverCertificateThumbprint []byte
}

func DecodeAsymmetricSecurityHeader(body []byte) (AsymmetricSecurityHeader, []byte) {
	r := bytes.NewReader(body)
	d := ua.NewDecoder(r)
	h := AsymmetricSecurityHeader{}
	if s := d.GetString(); s != nil {
		h.PolicyUri = *s
	}
	h.SenderCertificate = d.GetByteStringRaw()
	h.ReceiverCertificateThumbprint = d.GetByteStringRaw()
	consumed := len(body) - r.Len()
	return h, body[consumed:]
}

func EncodeAsymmetricSecurityHeader(h AsymmetricSecurityHeader) []byte {
	buf := &bytes.Buffer{}
	e := ua.NewEncoder(buf)
	uri := h.PolicyUri
	e.PutString(&uri)
	e.PutByteStringRaw(h.SenderCertificate)
	e.PutByteStringRaw(h.ReceiverCertificateThumbprint)
	return buf.Bytes()
}

// SymmetricSecurityHeader precedes the sequence header on every MSG and
// CLO chunk once a channel is Open: just the token id the sender is
// using, so the receiver knows which of current/previous key material
// to verify/decrypt with (spec.md §4.3).
type SymmetricSecurityHeader struct {
	TokenId uint32
}

func DecodeSymmetricSecurityHeader(body []byte) (SymmetricSecurityHeader, []byte, error) {
	if len(body) < 4 {
		return SymmetricSecurityHeader{}, nil, &Error{Code: ua.BadTcpMessageTooLarge, Reason: "short symmetric security header"}
	}
	return SymmetricSecurityHeader{TokenId: binary.LittleEndian.Uint32(body[0:4])}, body[4:], nil
}

func EncodeSymmetricSecurityHeader(h SymmetricSecurityHeader) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, h.TokenId)
	return buf
}

// openSecureChannelRequestTypeId/openSecureChannelResponseTypeId are the
// OPC UA Binary encoding ids for OpenSecureChannelRequest/Response
// (Part 6 Appendix A); closeSecureChannel's pair follows directly after.
const (
	openSecureChannelRequestTypeId  = 446
	openSecureChannelResponseTypeId = 449
	closeSecureChannelRequestTypeId  = 452
	closeSecureChannelResponseTypeId = 455
)

// DecodeOpenRequest parses an OpenSecureChannelRequest body (the bytes
// after the asymmetric security header and sequence header: TypeId then
// fields).
func DecodeOpenRequest(body []byte) (ua.RequestHeader, OpenRequest, error) {
	d := ua.NewDecoder(bytes.NewReader(body))
	typeId := d.GetNodeId()
	hdr := d.GetRequestHeader()
	_ = d.GetUint32() // ClientProtocolVersion: this server does not branch on it
	req := OpenRequest{
		RequestType:  OpenRequestType(d.GetInt32()),
		SecurityMode: SecurityMode(d.GetInt32()),
	}
	req.ClientNonce = d.GetByteStringRaw()
	req.RequestedLifetime = time.Duration(d.GetUint32()) * time.Millisecond
	if d.Err() != nil {
		return hdr, req, d.Err()
	}
	if typeId.Numeric != openSecureChannelRequestTypeId {
		return hdr, req, &Error{Code: ua.BadSecurityChecksFailed, Reason: "unexpected OPN body type id"}
	}
	return hdr, req, nil
}

// EncodeOpenResponse serializes an OpenSecureChannelResponse body,
// TypeId included. The caller prefixes it with the request's
// AsymmetricSecurityHeader and a sequence header and secures it with
// SecureAsymmetric before chunking.
func EncodeOpenResponse(reqHdr ua.RequestHeader, resp *OpenResponse, result ua.StatusCode, now time.Time) []byte {
	buf := &bytes.Buffer{}
	e := ua.NewEncoder(buf)
	e.PutNodeId(ua.NewNumericNodeId(0, openSecureChannelResponseTypeId))
	e.PutResponseHeader(ua.NewResponseHeader(reqHdr, result, ua.DateTimeToTicks(now)))
	e.PutUint32(0) // ServerProtocolVersion
	e.PutUint32(resp.ChannelId)
	e.PutUint32(resp.TokenId)
	e.PutDateTime(ua.DateTimeToTicks(resp.CreatedAt))
	e.PutUint32(uint32(resp.RevisedLifetime / time.Millisecond))
	e.PutByteStringRaw(resp.ServerNonce)
	return buf.Bytes()
}

// DecodeCloseRequest parses a CloseSecureChannelRequest body: TypeId then
// just a RequestHeader, nothing else.
func DecodeCloseRequest(body []byte) (ua.RequestHeader, error) {
	d := ua.NewDecoder(bytes.NewReader(body))
	typeId := d.GetNodeId()
	hdr := d.GetRequestHeader()
	if d.Err() != nil {
		return hdr, d.Err()
	}
	if typeId.Numeric != closeSecureChannelRequestTypeId {
		return hdr, &Error{Code: ua.BadSecurityChecksFailed, Reason: "unexpected CLO body type id"}
	}
	return hdr, nil
}

func EncodeCloseResponse(reqHdr ua.RequestHeader, now time.Time) []byte {
	buf := &bytes.Buffer{}
	e := ua.NewEncoder(buf)
	e.PutNodeId(ua.NewNumericNodeId(0, closeSecureChannelResponseTypeId))
	e.PutResponseHeader(ua.NewResponseHeader(reqHdr, ua.Good, ua.DateTimeToTicks(now)))
	return buf.Bytes()
}
