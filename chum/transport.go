package chum

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/gorilla/websocket"
)

// Transport carries framed chum envelopes between two peers. Concrete
// implementations only need to deliver whole frames in order; envelope
// multiplexing lives in session.go, one layer up.
type Transport interface {
	Send(frame []byte) error
	Receive() ([]byte, error)
	Close() error
}

const maxFrameSize = 64 << 20 // 64MiB, generous for a canonical-text object plus a blob

// NetConnTransport frames messages over a raw net.Conn with a 4-byte
// big-endian length prefix, grounded on core/replication.go's wire reader/
// writer pair.
type NetConnTransport struct {
	conn net.Conn

	writeMu sync.Mutex
	readMu  sync.Mutex
}

func NewNetConnTransport(conn net.Conn) *NetConnTransport {
	return &NetConnTransport{conn: conn}
}

func (t *NetConnTransport) Send(frame []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(frame)))
	if _, err := t.conn.Write(hdr[:]); err != nil {
		return err
	}
	_, err := t.conn.Write(frame)
	return err
}

func (t *NetConnTransport) Receive() ([]byte, error) {
	t.readMu.Lock()
	defer t.readMu.Unlock()

	var hdr [4]byte
	if _, err := io.ReadFull(t.conn, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > maxFrameSize {
		return nil, fmt.Errorf("chum: frame of %d bytes exceeds limit", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(t.conn, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (t *NetConnTransport) Close() error {
	return t.conn.Close()
}

// WebSocketTransport carries each envelope as one binary websocket message;
// gorilla/websocket already frames messages, so no length prefix is added.
type WebSocketTransport struct {
	conn *websocket.Conn

	writeMu sync.Mutex
}

func NewWebSocketTransport(conn *websocket.Conn) *WebSocketTransport {
	return &WebSocketTransport{conn: conn}
}

func (t *WebSocketTransport) Send(frame []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.conn.WriteMessage(websocket.BinaryMessage, frame)
}

func (t *WebSocketTransport) Receive() ([]byte, error) {
	_, data, err := t.conn.ReadMessage()
	return data, err
}

func (t *WebSocketTransport) Close() error {
	return t.conn.Close()
}
