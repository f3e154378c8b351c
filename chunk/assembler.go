package chunk

import (
	"fmt"
)

// pending tracks the chunks collected so far for one in-flight message.
// OPC UA chunks for a single request/response must arrive contiguous and
// in order on the wire (spec.md §4.3); the Assembler does not reorder,
// it only concatenates as chunks arrive and aborts on a size violation.
type pending struct {
	msgType MessageType
	bodies  [][]byte
	total   int
}

// Assembler reassembles a stream of chunks sharing a request-id into
// complete messages, enforcing the negotiated Limits. One Assembler
// serves one secure channel; the server keeps one in-flight pending
// message per request-id, since the wire allows interleaving chunks from
// different requests on the same channel (spec.md §4.3).
type Assembler struct {
	limits  Limits
	pending map[uint32]*pending // keyed by request-id
}

func NewAssembler(limits Limits) *Assembler {
	return &Assembler{limits: limits, pending: make(map[uint32]*pending)}
}

// Message is a fully reassembled chunk sequence: header of the final
// chunk plus the concatenated body bytes (the header and sequence header
// of each chunk are stripped by the caller before calling Feed — this
// layer only deals with the chunk's payload bytes and its {type, kind,
// length} framing).
type Message struct {
	Type MessageType
	Body []byte
}

// Feed consumes one chunk's payload (the bytes following the chunk
// header) for the given requestId. It returns a completed Message when
// kind is Final, nil otherwise. An Abort chunk discards all buffered
// chunks for requestId and returns the error carried in payload
// (spec.md §4.2: "An 'A' chunk discards all buffered chunks for the same
// request-id and surfaces the encoded error").
func (a *Assembler) Feed(requestId uint32, h Header, payload []byte) (*Message, error) {
	if err := a.limits.CheckIncomingChunkSize(h.Length); err != nil {
		delete(a.pending, requestId)
		return nil, err
	}

	switch h.Kind {
	case ChunkAbort:
		delete(a.pending, requestId)
		return nil, fmt.Errorf("chunk: request %d aborted by peer: %s", requestId, string(payload))

	case ChunkContinuation, ChunkFinal:
		p, ok := a.pending[requestId]
		if !ok {
			p = &pending{msgType: h.Type}
			a.pending[requestId] = p
		}
		if p.msgType != h.Type {
			delete(a.pending, requestId)
			return nil, fmt.Errorf("chunk: request %d changed message type mid-stream", requestId)
		}

		p.bodies = append(p.bodies, payload)
		p.total += len(payload)

		if a.limits.MaxChunkCount != 0 && uint32(len(p.bodies)) > a.limits.MaxChunkCount {
			delete(a.pending, requestId)
			return nil, &ErrTooLarge{Reason: fmt.Sprintf("request %d exceeded maxChunkCount %d", requestId, a.limits.MaxChunkCount)}
		}
		if a.limits.MaxMessageSize != 0 && uint32(p.total) > a.limits.MaxMessageSize {
			delete(a.pending, requestId)
			return nil, &ErrTooLarge{Reason: fmt.Sprintf("request %d exceeded maxMessageSize %d", requestId, a.limits.MaxMessageSize)}
		}

		if h.Kind == ChunkContinuation {
			return nil, nil
		}

		delete(a.pending, requestId)
		body := make([]byte, 0, p.total)
		for _, b := range p.bodies {
			body = append(body, b...)
		}
		return &Message{Type: p.msgType, Body: body}, nil

	default:
		return nil, fmt.Errorf("chunk: unknown chunk kind %q", h.Kind)
	}
}

// Discard drops any buffered chunks for requestId without error, used
// when a request is cancelled independently of chunk framing.
func (a *Assembler) Discard(requestId uint32) {
	delete(a.pending, requestId)
}

// Fragment splits body into a sequence of chunks no larger than
// limits.SendBufferSize (minus header overhead), marking the last one
// Final. Used by the writer side when a response body doesn't fit in one
// chunk.
func Fragment(msgType MessageType, body []byte, limits Limits, channelId uint32) ([][]byte, error) {
	headerSize := HeaderSize
	if msgType.RequiresChannelId() {
		headerSize = SecureHeaderSize
	}

	maxPayload := len(body)
	if limits.SendBufferSize != 0 {
		maxPayload = int(limits.SendBufferSize) - headerSize
		if maxPayload <= 0 {
			return nil, fmt.Errorf("chunk: sendBufferSize %d too small for header", limits.SendBufferSize)
		}
	}

	var chunks [][]byte
	offset := 0
	for {
		end := offset + maxPayload
		final := false
		if end >= len(body) {
			end = len(body)
			final = true
		}
		kind := ChunkContinuation
		if final {
			kind = ChunkFinal
		}
		h := Header{Type: msgType, Kind: kind, Length: int32(headerSize + (end - offset)), ChannelId: channelId}
		chunkBuf := append(WriteHeader(h), body[offset:end]...)
		if limits.MaxMessageSize != 0 && uint32(len(body)) > limits.MaxMessageSize {
			return nil, &ErrTooLarge{Reason: fmt.Sprintf("message of %d bytes exceeds maxMessageSize %d", len(body), limits.MaxMessageSize)}
		}
		chunks = append(chunks, chunkBuf)
		offset = end
		if final {
			break
		}
	}
	if limits.MaxChunkCount != 0 && uint32(len(chunks)) > limits.MaxChunkCount {
		return nil, &ErrTooLarge{Reason: fmt.Sprintf("message required %d chunks, exceeds maxChunkCount %d", len(chunks), limits.MaxChunkCount)}
	}
	return chunks, nil
}
