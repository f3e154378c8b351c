package transport

import (
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/nexroute/opcua-server/chunk"
	"github.com/nexroute/opcua-server/securechannel"
	"github.com/nexroute/opcua-server/ua"
)

type echoDispatcher struct{ calls int }

func (d *echoDispatcher) Dispatch(channelId uint32, _ ua.NodeId, body []byte) []byte {
	d.calls++
	return body
}

func newTestConnection(t *testing.T, disp Dispatcher) (*Connection, net.Conn) {
	t.Helper()
	serverSide, clientSide := net.Pipe()
	manager := securechannel.NewManager(securechannel.NonePolicy{})
	c := NewConnection(serverSide, manager, NewHub(), disp, zerolog.Nop())
	return c, clientSide
}

func writeChunk(t *testing.T, conn net.Conn, msgType chunk.MessageType, channelId uint32, body []byte) {
	t.Helper()
	h := chunk.Header{Type: msgType, Kind: chunk.ChunkFinal, ChannelId: channelId}
	hdrSize := chunk.HeaderSize
	if msgType.RequiresChannelId() {
		hdrSize = chunk.SecureHeaderSize
	}
	h.Length = int32(hdrSize + len(body))
	buf := append(chunk.WriteHeader(h), body...)
	if _, err := conn.Write(buf); err != nil {
		t.Fatalf("write chunk: %v", err)
	}
}

func readChunk(t *testing.T, conn net.Conn) (chunk.Header, []byte) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	base := make([]byte, chunk.HeaderSize)
	if _, err := readFull(conn, base); err != nil {
		t.Fatalf("read base header: %v", err)
	}
	msgType := chunk.MessageType(base[0:3])
	length := int32(binary.LittleEndian.Uint32(base[4:8]))
	full := base
	if msgType.RequiresChannelId() {
		extra := make([]byte, 4)
		if _, err := readFull(conn, extra); err != nil {
			t.Fatalf("read channelId: %v", err)
		}
		full = append(full, extra...)
	}
	h, err := chunk.ParseHeader(full)
	if err != nil {
		t.Fatalf("parse header: %v", err)
	}
	payload := make([]byte, int(length)-len(full))
	if len(payload) > 0 {
		if _, err := readFull(conn, payload); err != nil {
			t.Fatalf("read payload: %v", err)
		}
	}
	return h, payload
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func TestHelloAckHandshake(t *testing.T) {
	c, client := newTestConnection(t, &echoDispatcher{})
	go c.Serve()
	defer client.Close()

	helloBody := helloMessageBody(t)
	writeChunk(t, client, chunk.MessageHello, 0, helloBody)

	h, payload := readChunk(t, client)
	if h.Type != chunk.MessageAck {
		t.Fatalf("got message type %q, want ACK", h.Type)
	}
	if len(payload) != 20 {
		t.Fatalf("ack payload length = %d, want 20", len(payload))
	}
}

// helloMessageBody hand-builds a minimal HEL body, mirroring what a real
// client's encoder would produce.
func helloMessageBody(t *testing.T) []byte {
	t.Helper()
	buf := make([]byte, 0, 32)
	put := func(v uint32) {
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, v)
		buf = append(buf, b...)
	}
	put(0)          // protocol version
	put(8192)       // receive buffer
	put(8192)       // send buffer
	put(1 << 20)    // max message size
	put(64)         // max chunk count
	put(0xFFFFFFFF) // empty endpoint URL (length -1)
	return buf
}
