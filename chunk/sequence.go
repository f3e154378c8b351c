package chunk

import (
	"encoding/binary"
	"fmt"
)

// SequenceHeaderSize is the fixed 8-byte SequenceNumber+RequestId pair that
// follows the chunk header (and, once a channel is secured, the security
// header) on every OPN/CLO/MSG chunk (spec.md §4.2). HEL/ACK/ERR chunks
// carry no sequence header.
const SequenceHeaderSize = 8

// SequenceHeader correlates a chunk to its channel-wide sequence number
// (securechannel.Channel.ValidateMessage) and to the request it belongs to
// (Assembler.Feed's reassembly key, and Channel.TrackRequest for Cancel).
type SequenceHeader struct {
	SequenceNumber uint32
	RequestId      uint32
}

// ParseSequenceHeader reads a SequenceHeader from the front of buf, which
// must hold the plaintext chunk payload (after any SecurityPolicy.Verify*
// step) for a message type that RequiresChannelId.
func ParseSequenceHeader(buf []byte) (SequenceHeader, []byte, error) {
	if len(buf) < SequenceHeaderSize {
		return SequenceHeader{}, nil, fmt.Errorf("chunk: short sequence header: %d bytes", len(buf))
	}
	h := SequenceHeader{
		SequenceNumber: binary.LittleEndian.Uint32(buf[0:4]),
		RequestId:      binary.LittleEndian.Uint32(buf[4:8]),
	}
	return h, buf[SequenceHeaderSize:], nil
}

// WriteSequenceHeader serializes h followed by body into a single buffer,
// ready for SecurityPolicy.SecureAsymmetric (or the symmetric equivalent)
// and then chunk.Fragment.
func WriteSequenceHeader(h SequenceHeader, body []byte) []byte {
	buf := make([]byte, SequenceHeaderSize+len(body))
	binary.LittleEndian.PutUint32(buf[0:4], h.SequenceNumber)
	binary.LittleEndian.PutUint32(buf[4:8], h.RequestId)
	copy(buf[SequenceHeaderSize:], body)
	return buf
}
