package ws

import (
	"sync"

	"github.com/gorilla/websocket"
)

// Sender is the write side of a live connection handle. Implementations must
// be safe for concurrent use.
type Sender interface {
	Send(payload []byte) error
}

// connSender wraps a gorilla connection; gorilla permits only one concurrent
// writer, so writes are serialized here.
type connSender struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

// NewConnSender wraps a websocket connection as a Sender.
func NewConnSender(conn *websocket.Conn) Sender {
	return &connSender{conn: conn}
}

func (s *connSender) Send(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}
