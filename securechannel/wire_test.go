package securechannel

import (
	"testing"
	"time"

	"github.com/nexroute/opcua-server/ua"
)

func TestEncodeAcknowledgeLength(t *testing.T) {
	body := EncodeAcknowledge(AcknowledgeMessage{
		ProtocolVersion: 0, ReceiveBufferSize: 8192, SendBufferSize: 8192,
		MaxMessageSize: 1 << 20, MaxChunkCount: 64,
	})
	if len(body) != 20 {
		t.Fatalf("ack body length = %d, want 20", len(body))
	}
}

func TestDecodeHelloRoundTrip(t *testing.T) {
	buf := &fakeBuffer{}
	e := ua.NewEncoder(buf)
	e.PutUint32(0)
	e.PutUint32(8192)
	e.PutUint32(8192)
	e.PutUint32(1 << 20)
	e.PutUint32(64)
	url := "opc.tcp://localhost:4840"
	e.PutString(&url)

	got := DecodeHello(buf.data)
	if got.ReceiveBufferSize != 8192 || got.EndpointURL != url {
		t.Fatalf("DecodeHello = %+v, want ReceiveBufferSize=8192 EndpointURL=%q", got, url)
	}
}

func TestAsymmetricSecurityHeaderRoundTrip(t *testing.T) {
	h := AsymmetricSecurityHeader{PolicyUri: NonePolicy{}.URI()}
	buf := EncodeAsymmetricSecurityHeader(h)
	got, rest := DecodeAsymmetricSecurityHeader(append(buf, []byte("trailer")...))
	if got.PolicyUri != h.PolicyUri {
		t.Fatalf("PolicyUri = %q, want %q", got.PolicyUri, h.PolicyUri)
	}
	if string(rest) != "trailer" {
		t.Fatalf("rest = %q, want %q", rest, "trailer")
	}
}

func TestSymmetricSecurityHeaderRoundTrip(t *testing.T) {
	buf := EncodeSymmetricSecurityHeader(SymmetricSecurityHeader{TokenId: 7})
	got, rest, err := DecodeSymmetricSecurityHeader(append(buf, []byte("body")...))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.TokenId != 7 || string(rest) != "body" {
		t.Fatalf("got=%+v rest=%q", got, rest)
	}
}

func TestOpenRequestRoundTrip(t *testing.T) {
	buf := &fakeBuffer{}
	e := ua.NewEncoder(buf)
	e.PutNodeId(ua.NewNumericNodeId(0, openSecureChannelRequestTypeId))
	reqHdr := ua.RequestHeader{RequestHandle: 3}
	e.PutRequestHeader(reqHdr)
	e.PutUint32(0) // ClientProtocolVersion
	e.PutInt32(int32(OpenIssue))
	e.PutInt32(int32(ModeNone))
	e.PutByteStringRaw([]byte("nonce"))
	e.PutUint32(3600000)

	gotHdr, gotReq, err := DecodeOpenRequest(buf.data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotHdr.RequestHandle != 3 {
		t.Fatalf("RequestHandle = %d, want 3", gotHdr.RequestHandle)
	}
	if gotReq.RequestType != OpenIssue || gotReq.SecurityMode != ModeNone {
		t.Fatalf("got=%+v", gotReq)
	}
	if string(gotReq.ClientNonce) != "nonce" {
		t.Fatalf("ClientNonce = %q, want %q", gotReq.ClientNonce, "nonce")
	}
	if gotReq.RequestedLifetime != 3600*time.Second {
		t.Fatalf("RequestedLifetime = %v, want 1h", gotReq.RequestedLifetime)
	}
}

func TestEncodeOpenResponseCarriesChannelAndToken(t *testing.T) {
	reqHdr := ua.RequestHeader{RequestHandle: 9}
	resp := &OpenResponse{ChannelId: 5, TokenId: 1, CreatedAt: time.Now(), RevisedLifetime: time.Hour, ServerNonce: nil}
	body := EncodeOpenResponse(reqHdr, resp, ua.Good, time.Now())
	if len(body) == 0 {
		t.Fatalf("expected non-empty body")
	}
}

func TestCloseRequestRoundTrip(t *testing.T) {
	buf := &fakeBuffer{}
	e := ua.NewEncoder(buf)
	e.PutNodeId(ua.NewNumericNodeId(0, closeSecureChannelRequestTypeId))
	e.PutRequestHeader(ua.RequestHeader{RequestHandle: 11})

	got, err := DecodeCloseRequest(buf.data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.RequestHandle != 11 {
		t.Fatalf("RequestHandle = %d, want 11", got.RequestHandle)
	}
}

// fakeBuffer is a minimal io.Writer the tests use to build wire bytes
// without reaching for bytes.Buffer in every test function.
type fakeBuffer struct{ data []byte }

func (b *fakeBuffer) Write(p []byte) (int, error) {
	b.data = append(b.data, p...)
	return len(p), nil
}
