package engineio

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"iorelay/internal/evemit"
)

// WebSocketTransport wraps one full-duplex gorilla/websocket connection.
// send(packets) writes each packet as its own frame (spec §4.4).
type WebSocketTransport struct {
	dispatcher *evemit.Dispatcher
	conn       *websocket.Conn

	mu    sync.Mutex
	state transportState

	writeMu      sync.Mutex
	writeTimeout time.Duration
}

// NewWebSocketTransport wraps an already-upgraded connection and starts its
// read loop.
func NewWebSocketTransport(conn *websocket.Conn) *WebSocketTransport {
	t := &WebSocketTransport{
		dispatcher:   evemit.New(nil),
		conn:         conn,
		state:        transportOpen,
		writeTimeout: 10 * time.Second,
	}
	go t.readLoop()
	return t
}

func (t *WebSocketTransport) Name() string              { return "websocket" }
func (t *WebSocketTransport) Events() *evemit.Dispatcher { return t.dispatcher }

func (t *WebSocketTransport) Writable() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state == transportOpen
}

func (t *WebSocketTransport) Send(packets []Packet) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	for _, p := range packets {
		data, isBinary := EncodeSingle(p, true)
		mt := websocket.TextMessage
		if isBinary {
			mt = websocket.BinaryMessage
		}
		_ = t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
		if err := t.conn.WriteMessage(mt, data); err != nil {
			t.dispatcher.Emit("error", err)
			return err
		}
	}
	t.dispatcher.Emit("drain")
	return nil
}

func (t *WebSocketTransport) readLoop() {
	for {
		mt, data, err := t.conn.ReadMessage()
		if err != nil {
			t.transitionClosed()
			return
		}

		var pkt Packet
		if mt == websocket.BinaryMessage {
			pkt, err = DecodeSingleBinary(data)
		} else {
			pkt, err = DecodeSingleText(string(data))
		}
		if err != nil {
			t.dispatcher.Emit("error", err)
			continue
		}
		t.dispatcher.Emit("packet", pkt)
	}
}

func (t *WebSocketTransport) transitionClosed() {
	t.mu.Lock()
	already := t.state == transportClosed
	t.state = transportClosed
	t.mu.Unlock()
	if !already {
		t.dispatcher.Emit("close")
	}
}

func (t *WebSocketTransport) Close() error {
	t.mu.Lock()
	if t.state == transportClosed {
		t.mu.Unlock()
		return nil
	}
	t.state = transportClosed
	t.mu.Unlock()

	err := t.conn.Close()
	t.dispatcher.Emit("close")
	return err
}
