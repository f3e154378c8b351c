// Package chunk implements the OPC UA TCP chunk framing layer (C2):
// splitting outgoing messages into size-limited chunks and reassembling
// incoming chunks into messages, enforcing the negotiated flow-control
// limits (spec.md §4.2).
//
// Grounded on the teacher's buffered read-loop shape
// (ws/internal/shared/pump_read.go), generalized from WebSocket frame
// assembly to OPC UA chunk assembly.
package chunk

import (
	"encoding/binary"
	"fmt"
)

// MessageType is the 3-ASCII-byte tag at the start of every chunk header.
type MessageType string

const (
	MessageHello  MessageType = "HEL"
	MessageAck    MessageType = "ACK"
	MessageError  MessageType = "ERR"
	MessageOpen   MessageType = "OPN"
	MessageClose  MessageType = "CLO"
	MessageSecure MessageType = "MSG"
)

// ChunkKind is the isFinal byte: Continuation, Final, or Abort.
type ChunkKind byte

const (
	ChunkContinuation ChunkKind = 'C'
	ChunkFinal        ChunkKind = 'F'
	ChunkAbort        ChunkKind = 'A'
)

// HeaderSize is the fixed 8-byte transport header (3-byte type + 1-byte
// isFinal + i32 length); secure-channel message types add 4 more bytes
// for channelId (spec.md §4.2).
const HeaderSize = 8
const SecureHeaderSize = HeaderSize + 4

// Header is the parsed 8 (or 12) byte chunk prefix.
type Header struct {
	Type      MessageType
	Kind      ChunkKind
	Length    int32
	ChannelId uint32 // only meaningful when Type requires it
}

// RequiresChannelId reports whether this message type carries a
// channelId after the base header (spec.md §4.2: "For secure-channel
// messages, 4-byte channelId follows").
func (t MessageType) RequiresChannelId() bool {
	switch t {
	case MessageOpen, MessageClose, MessageSecure:
		return true
	default:
		return false
	}
}

// ErrTooLarge is returned when a chunk or assembled message exceeds a
// negotiated limit (spec.md §4.2: maps to Bad_TcpMessageTooLarge).
type ErrTooLarge struct{ Reason string }

func (e *ErrTooLarge) Error() string { return "chunk: " + e.Reason }

// ParseHeader reads the fixed header from the front of a raw chunk. The
// caller must supply at least HeaderSize bytes; ParseHeader reads the
// additional 4-byte channelId itself when the message type requires it,
// so buf must be at least SecureHeaderSize long for OPN/CLO/MSG chunks.
func ParseHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, fmt.Errorf("chunk: short header: %d bytes", len(buf))
	}
	h := Header{
		Type: MessageType(buf[0:3]),
		Kind: ChunkKind(buf[3]),
	}
	h.Length = int32(binary.LittleEndian.Uint32(buf[4:8]))

	if h.Type.RequiresChannelId() {
		if len(buf) < SecureHeaderSize {
			return Header{}, fmt.Errorf("chunk: short secure header: %d bytes", len(buf))
		}
		h.ChannelId = binary.LittleEndian.Uint32(buf[8:12])
	}
	return h, nil
}

// WriteHeader serializes h into the front of a buffer sized for this
// header (HeaderSize or SecureHeaderSize, per h.Type).
func WriteHeader(h Header) []byte {
	size := HeaderSize
	if h.Type.RequiresChannelId() {
		size = SecureHeaderSize
	}
	buf := make([]byte, size)
	copy(buf[0:3], h.Type)
	buf[3] = byte(h.Kind)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(h.Length))
	if h.Type.RequiresChannelId() {
		binary.LittleEndian.PutUint32(buf[8:12], h.ChannelId)
	}
	return buf
}

// Limits holds the four negotiated flow-control values (spec.md §4.2).
// Zero means unlimited for MaxChunkCount and MaxMessageSize; zero for the
// buffer sizes means "no limit configured" and is treated as unlimited
// too, since the HEL/ACK negotiation (securechannel package) always fills
// these in before any chunk traffic is accepted.
type Limits struct {
	ReceiveBufferSize uint32
	SendBufferSize    uint32
	MaxMessageSize    uint32
	MaxChunkCount     uint32
}

// CheckIncomingChunkSize enforces ReceiveBufferSize against a single
// chunk's total length.
func (l Limits) CheckIncomingChunkSize(length int32) error {
	if l.ReceiveBufferSize != 0 && uint32(length) > l.ReceiveBufferSize {
		return &ErrTooLarge{Reason: fmt.Sprintf("chunk length %d exceeds receiveBufferSize %d", length, l.ReceiveBufferSize)}
	}
	return nil
}

// CheckOutgoingChunkSize enforces SendBufferSize against a single chunk
// being written.
func (l Limits) CheckOutgoingChunkSize(length int) error {
	if l.SendBufferSize != 0 && uint32(length) > l.SendBufferSize {
		return &ErrTooLarge{Reason: fmt.Sprintf("chunk length %d exceeds sendBufferSize %d", length, l.SendBufferSize)}
	}
	return nil
}
