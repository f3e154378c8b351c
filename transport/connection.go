// Package transport is the OPC UA TCP transport (C1): it owns the raw
// net.Conn, the read/write loops, and wiring chunk.Assembler/chunk.Fragment
// together with securechannel.Channel so the rest of the server only ever
// sees fully reassembled service request bodies and hands back fully
// encoded service response bodies (spec.md §4.2, §4.3).
//
// Grounded on the teacher's per-connection lifecycle
// (src/connection.go: net.Conn field, buffered send channel,
// sync.Once-guarded close, atomic counters for a slow-client/backpressure
// signal), generalized from a WebSocket frame pump to OPC UA chunk framing.
package transport

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/nexroute/opcua-server/chunk"
	"github.com/nexroute/opcua-server/securechannel"
	"github.com/nexroute/opcua-server/ua"
)

// Dispatcher is the server package's service-level entry point: it
// receives one fully reassembled MSG body (TypeId NodeId followed by the
// service request's fields, spec.md §4.1) and returns the fully encoded
// response body (TypeId followed by the response's fields) ready to be
// wrapped back into chunks. A nil return means no response is owed yet.
type Dispatcher interface {
	Dispatch(channelId uint32, sessionAuthHint ua.NodeId, body []byte) []byte
}

// ChannelLifecycle is an optional interface a Dispatcher can also implement
// to hear about secure channels opening and closing, independent of any
// service request flowing over them. A Connection checks for this via a
// type assertion rather than folding it into Dispatcher, since a Dispatcher
// used only in tests (echoDispatcher) has no need to track channel counts.
type ChannelLifecycle interface {
	ChannelOpened(channelId uint32)
	ChannelClosed(channelId uint32)
}

// sendQueueDepth bounds the outbox channel depth; once a slow client
// lets it fill, queueWrite drops further chunks (counted in
// droppedWrites) rather than blocking or growing memory without bound,
// mirroring the teacher's non-blocking
// Submit-with-drop posture (worker_pool.go) but applied to one
// connection's outbound queue instead of the whole server's task queue.
const sendQueueDepth = 256

// Connection is one TCP connection carrying exactly one secure channel
// over its lifetime (spec.md §4.3: a channel can later be rebound to a
// different Connection after a reconnect, via Manager.Lookup, but this
// type does not implement that rebind itself — only single-connection
// framing).
type Connection struct {
	conn    net.Conn
	reader  *bufio.Reader
	logger  zerolog.Logger
	manager *securechannel.Manager
	hub     *Hub

	dispatcher Dispatcher

	channel   *securechannel.Channel
	assembler *chunk.Assembler

	send chan []byte

	closeOnce sync.Once
	closed    chan struct{}

	droppedWrites int64 // atomic
}

// NewConnection wraps an accepted net.Conn. The channel is created lazily
// once HEL arrives (HandleHello), mirroring the wire order: a freshly
// accepted socket has no channel until the client speaks first. hub may
// be nil, in which case deferred pushes (late Publish completions) have
// nowhere to go and are simply never sent.
func NewConnection(conn net.Conn, manager *securechannel.Manager, hub *Hub, dispatcher Dispatcher, logger zerolog.Logger) *Connection {
	return &Connection{
		conn:       conn,
		reader:     bufio.NewReaderSize(conn, 64*1024),
		manager:    manager,
		hub:        hub,
		dispatcher: dispatcher,
		logger:     logger.With().Str("remote", conn.RemoteAddr().String()).Logger(),
		send:       make(chan []byte, sendQueueDepth),
		closed:     make(chan struct{}),
	}
}

// Serve runs the connection's read loop on the calling goroutine and the
// write loop on a spawned one, blocking until the connection closes for
// any reason.
func (c *Connection) Serve() {
	go c.writeLoop()
	defer c.Close()

	for {
		if err := c.readOne(); err != nil {
			if err != io.EOF {
				c.logger.Debug().Err(err).Msg("transport: connection read loop exiting")
			}
			return
		}
	}
}

// Close tears the connection and its channel down idempotently, safe to
// call from the read loop, the write loop, or a server-wide shutdown.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		close(c.send)
		c.conn.Close()
		if c.channel != nil {
			if c.hub != nil {
				c.hub.unregister(c.channel.ID())
			}
			c.manager.Remove(c.channel.ID())
			if lc, ok := c.dispatcher.(ChannelLifecycle); ok {
				lc.ChannelClosed(c.channel.ID())
			}
		}
	})
}

// queueWrite enqueues bytes for the write loop, dropping (and counting)
// rather than blocking the read loop when the peer isn't draining its
// socket (spec.md §4.2's flow control assumes a cooperative peer; this is
// the backstop for one that stops cooperating).
func (c *Connection) queueWrite(buf []byte) {
	select {
	case c.send <- buf:
	default:
		atomic.AddInt64(&c.droppedWrites, 1)
		c.logger.Warn().Msg("transport: outbound queue full, dropping chunk")
	}
}

func (c *Connection) writeLoop() {
	for buf := range c.send {
		if _, err := c.conn.Write(buf); err != nil {
			c.logger.Debug().Err(err).Msg("transport: write failed")
			c.Close()
			return
		}
	}
}

// readOne reads exactly one chunk off the wire and processes it.
func (c *Connection) readOne() error {
	base := make([]byte, chunk.HeaderSize)
	if _, err := io.ReadFull(c.reader, base); err != nil {
		return err
	}
	msgType := chunk.MessageType(base[0:3])
	length := int32(binary.LittleEndian.Uint32(base[4:8]))
	if length < chunk.HeaderSize {
		return fmt.Errorf("transport: chunk length %d shorter than header", length)
	}

	var full []byte
	var h chunk.Header
	if msgType.RequiresChannelId() {
		extra := make([]byte, 4)
		if _, err := io.ReadFull(c.reader, extra); err != nil {
			return err
		}
		full = append(append([]byte{}, base...), extra...)
		var err error
		h, err = chunk.ParseHeader(full)
		if err != nil {
			return err
		}
	} else {
		full = base
		var err error
		h, err = chunk.ParseHeader(full)
		if err != nil {
			return err
		}
	}

	payload := make([]byte, int(length)-len(full))
	if len(payload) > 0 {
		if _, err := io.ReadFull(c.reader, payload); err != nil {
			return err
		}
	}

	switch msgType {
	case chunk.MessageHello:
		return c.handleHello(payload)
	case chunk.MessageOpen:
		return c.handleOpen(h, payload)
	case chunk.MessageClose:
		return c.handleClose(h, payload)
	case chunk.MessageSecure:
		return c.handleSecure(h, payload)
	default:
		return fmt.Errorf("transport: unexpected incoming message type %q", msgType)
	}
}

func (c *Connection) handleHello(payload []byte) error {
	if c.channel != nil {
		return fmt.Errorf("transport: duplicate HEL on channel %d", c.channel.ID())
	}
	hello := securechannel.DecodeHello(payload)
	c.channel = c.manager.Create()
	revised, err := c.channel.HandleHello(securechannel.HelloParams{
		ReceiveBufferSize: hello.ReceiveBufferSize,
		SendBufferSize:    hello.SendBufferSize,
		MaxMessageSize:    hello.MaxMessageSize,
		MaxChunkCount:     hello.MaxChunkCount,
		EndpointURL:       hello.EndpointURL,
	})
	if err != nil {
		c.rejectAndClose(err)
		return err
	}
	c.assembler = chunk.NewAssembler(revised)
	if c.hub != nil {
		c.hub.register(c, c.channel.ID())
	}
	if lc, ok := c.dispatcher.(ChannelLifecycle); ok {
		lc.ChannelOpened(c.channel.ID())
	}

	ack := securechannel.EncodeAcknowledge(securechannel.AcknowledgeMessage{
		ReceiveBufferSize: revised.ReceiveBufferSize,
		SendBufferSize:    revised.SendBufferSize,
		MaxMessageSize:    revised.MaxMessageSize,
		MaxChunkCount:     revised.MaxChunkCount,
	})
	c.writeUnsecuredChunk(chunk.MessageAck, ack)
	return nil
}

func (c *Connection) handleOpen(h chunk.Header, payload []byte) error {
	if c.channel == nil {
		return fmt.Errorf("transport: OPN before HEL")
	}
	asymHeader, rest := securechannel.DecodeAsymmetricSecurityHeader(payload)
	plaintext, err := c.channel.Policy().VerifyAsymmetric(rest)
	if err != nil {
		c.rejectAndClose(err)
		return err
	}
	seq, body, err := chunk.ParseSequenceHeader(plaintext)
	if err != nil {
		return err
	}

	reqHdr, req, err := securechannel.DecodeOpenRequest(body)
	if err != nil {
		c.rejectAndClose(err)
		return err
	}

	resp, openErr := c.channel.Open(req)
	status := ua.Good
	if openErr != nil {
		if serr, ok := openErr.(*securechannel.Error); ok {
			status = serr.Code
		} else {
			status = ua.BadSecurityChecksFailed
		}
	}
	if resp == nil {
		resp = &securechannel.OpenResponse{ChannelId: c.channel.ID()}
	}

	respBody := securechannel.EncodeOpenResponse(reqHdr, resp, status, time.Now())
	secured, err := c.channel.Policy().SecureAsymmetric(chunk.WriteSequenceHeader(
		chunk.SequenceHeader{SequenceNumber: c.channel.NextSendSequenceNumber(), RequestId: seq.RequestId},
		respBody,
	))
	if err != nil {
		return err
	}
	full := append(securechannel.EncodeAsymmetricSecurityHeader(asymHeader), secured...)
	c.writeSecuredChunk(chunk.MessageOpen, h.ChannelId, full)

	if openErr != nil {
		c.Close()
		return openErr
	}
	return nil
}

func (c *Connection) handleClose(h chunk.Header, payload []byte) error {
	if c.channel == nil {
		return fmt.Errorf("transport: CLO before HEL")
	}
	_, rest, err := securechannel.DecodeSymmetricSecurityHeader(payload)
	if err != nil {
		return err
	}
	_, body, err := chunk.ParseSequenceHeader(rest)
	if err != nil {
		return err
	}
	reqHdr, err := securechannel.DecodeCloseRequest(body)
	if err != nil {
		return err
	}
	respBody := securechannel.EncodeCloseResponse(reqHdr, time.Now())
	wire := chunk.WriteSequenceHeader(chunk.SequenceHeader{SequenceNumber: c.channel.NextSendSequenceNumber()}, respBody)
	full := append(securechannel.EncodeSymmetricSecurityHeader(securechannel.SymmetricSecurityHeader{}), wire...)
	c.writeSecuredChunk(chunk.MessageClose, h.ChannelId, full)
	c.Close()
	return nil
}

func (c *Connection) handleSecure(h chunk.Header, payload []byte) error {
	if c.channel == nil || c.assembler == nil {
		return fmt.Errorf("transport: MSG before HEL/OPN")
	}
	sym, rest, err := securechannel.DecodeSymmetricSecurityHeader(payload)
	if err != nil {
		return err
	}
	seq, body, err := chunk.ParseSequenceHeader(rest)
	if err != nil {
		return err
	}
	if err := c.channel.ValidateMessage(h.ChannelId, sym.TokenId, seq.SequenceNumber); err != nil {
		c.rejectAndClose(err)
		return err
	}

	c.channel.TrackRequest(seq.RequestId)
	msg, err := c.assembler.Feed(seq.RequestId, h, body)
	if err != nil {
		c.channel.ForgetRequest(seq.RequestId)
		return err
	}
	if msg == nil {
		return nil // continuation chunk, more to come
	}
	c.channel.ForgetRequest(seq.RequestId)

	respBody := c.dispatcher.Dispatch(c.channel.ID(), ua.NullNodeId, msg.Body)
	if respBody == nil {
		return nil // no response owed (e.g. Publish parked awaiting data)
	}
	wire := chunk.WriteSequenceHeader(
		chunk.SequenceHeader{SequenceNumber: c.channel.NextSendSequenceNumber(), RequestId: seq.RequestId},
		respBody,
	)
	full := append(securechannel.EncodeSymmetricSecurityHeader(securechannel.SymmetricSecurityHeader{TokenId: sym.TokenId}), wire...)
	c.writeSecuredChunk(chunk.MessageSecure, h.ChannelId, full)
	return nil
}

// writeUnsecuredChunk fragments and sends a HEL/ACK/ERR body, which never
// carries a channelId.
func (c *Connection) writeUnsecuredChunk(msgType chunk.MessageType, body []byte) {
	chunks, err := chunk.Fragment(msgType, body, chunk.Limits{}, 0)
	if err != nil {
		c.logger.Warn().Err(err).Msg("transport: failed to fragment outgoing message")
		return
	}
	for _, ch := range chunks {
		c.queueWrite(ch)
	}
}

func (c *Connection) writeSecuredChunk(msgType chunk.MessageType, channelId uint32, body []byte) {
	limits := c.channel.Limits()
	chunks, err := chunk.Fragment(msgType, body, limits, channelId)
	if err != nil {
		c.logger.Warn().Err(err).Msg("transport: failed to fragment outgoing message")
		return
	}
	for _, ch := range chunks {
		c.queueWrite(ch)
	}
}

// pushResponse sends a MSG chunk that wasn't triggered by the read loop
// processing its matching request — a Publish response completed by a
// background subscription tick (spec.md §4.8 step 4: "the server pushes
// the notification over the oldest parked Publish request the moment a
// subscription has something to say"). Framed with the channel's current
// token id, exactly like a synchronous MSG response.
func (c *Connection) pushResponse(requestId uint32, body []byte) {
	if c.channel == nil {
		return
	}
	tokenId := c.channel.CurrentTokenId()
	wire := chunk.WriteSequenceHeader(
		chunk.SequenceHeader{SequenceNumber: c.channel.NextSendSequenceNumber(), RequestId: requestId},
		body,
	)
	full := append(securechannel.EncodeSymmetricSecurityHeader(securechannel.SymmetricSecurityHeader{TokenId: tokenId}), wire...)
	c.writeSecuredChunk(chunk.MessageSecure, c.channel.ID(), full)
}

// rejectAndClose sends an ERR chunk carrying the failure's StatusCode
// before tearing the connection down (spec.md §4.2/§4.3: a channel-level
// failure is always terminal).
func (c *Connection) rejectAndClose(err error) {
	code := ua.BadSecurityChecksFailed
	if serr, ok := err.(*securechannel.Error); ok {
		code = serr.Code
	}
	c.writeUnsecuredChunk(chunk.MessageError, securechannel.EncodeError(securechannel.ErrorMessage{Code: code, Reason: err.Error()}))
	c.Close()
}
