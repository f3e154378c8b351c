package transport

import (
	"net"

	"github.com/rs/zerolog"

	"github.com/nexroute/opcua-server/securechannel"
)

// Listener accepts TCP connections and spins up a Connection per accept,
// all sharing one securechannel.Manager and one Dispatcher. Grounded on
// the teacher's accept-loop shape in src/server.go (net.Listener wrapped
// with a logger and a shared registry, one goroutine per accepted
// connection), generalized from WebSocket upgrades to raw opc.tcp framing.
type Listener struct {
	ln         net.Listener
	manager    *securechannel.Manager
	hub        *Hub
	dispatcher Dispatcher
	logger     zerolog.Logger
}

func NewListener(ln net.Listener, manager *securechannel.Manager, hub *Hub, dispatcher Dispatcher, logger zerolog.Logger) *Listener {
	return &Listener{ln: ln, manager: manager, hub: hub, dispatcher: dispatcher, logger: logger}
}

// Serve accepts connections until the listener is closed, running each
// one on its own goroutine. It returns the error that ended the accept
// loop (typically net.ErrClosed during a graceful shutdown).
func (l *Listener) Serve() error {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			return err
		}
		c := NewConnection(conn, l.manager, l.hub, l.dispatcher, l.logger)
		go c.Serve()
	}
}

// Close stops accepting new connections; in-flight connections are left
// to drain on their own goroutines.
func (l *Listener) Close() error {
	return l.ln.Close()
}
