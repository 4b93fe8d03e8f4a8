package engineio

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"iorelay/internal/evemit"
)

// fakeTransport is an in-memory Transport used to exercise Session without
// real HTTP or websocket plumbing.
type fakeTransport struct {
	dispatcher *evemit.Dispatcher
	name       string

	mu      sync.Mutex
	state   transportState
	sent    []Packet
	pauseFn func()
}

func newFakeTransport(name string) *fakeTransport {
	return &fakeTransport{dispatcher: evemit.New(nil), name: name, state: transportOpen}
}

func (f *fakeTransport) Name() string              { return f.name }
func (f *fakeTransport) Events() *evemit.Dispatcher { return f.dispatcher }
func (f *fakeTransport) Writable() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state == transportOpen
}
func (f *fakeTransport) Send(packets []Packet) error {
	f.mu.Lock()
	f.sent = append(f.sent, packets...)
	f.mu.Unlock()
	f.dispatcher.Emit("drain")
	return nil
}
func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.state = transportClosed
	f.mu.Unlock()
	f.dispatcher.Emit("close")
	return nil
}
func (f *fakeTransport) Pause(onPause func()) {
	f.mu.Lock()
	f.state = transportPaused
	f.mu.Unlock()
	onPause()
}
func (f *fakeTransport) deliver(p Packet) { f.dispatcher.Emit("packet", p) }
func (f *fakeTransport) snapshot() []Packet {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Packet, len(f.sent))
	copy(out, f.sent)
	return out
}

func shortCfg() SessionConfig {
	return SessionConfig{
		PingInterval:   50 * time.Millisecond,
		PingTimeout:    100 * time.Millisecond,
		UpgradeTimeout: time.Second,
		Upgrades:       []string{"websocket"},
	}
}

func TestSessionHandshakeSendsOpenPacket(t *testing.T) {
	tr := newFakeTransport("polling")
	s := NewSession("sid-1", tr, shortCfg(), nil)
	s.Open()

	sent := tr.snapshot()
	if len(sent) != 1 || sent[0].Type != PacketOpen {
		t.Fatalf("expected a single open packet, got %+v", sent)
	}
	var payload struct {
		SID          string   `json:"sid"`
		Upgrades     []string `json:"upgrades"`
		PingInterval int64    `json:"pingInterval"`
		PingTimeout  int64    `json:"pingTimeout"`
	}
	if err := json.Unmarshal(sent[0].Data, &payload); err != nil {
		t.Fatalf("open packet not valid JSON: %v", err)
	}
	if payload.SID != "sid-1" || len(payload.Upgrades) != 1 || payload.Upgrades[0] != "websocket" {
		t.Fatalf("unexpected open payload: %+v", payload)
	}
}

func TestSessionRepliesPongToPing(t *testing.T) {
	tr := newFakeTransport("polling")
	s := NewSession("sid-2", tr, shortCfg(), nil)
	s.Open()

	tr.deliver(Packet{Type: PacketPing})

	sent := tr.snapshot()
	if len(sent) != 2 || sent[1].Type != PacketPong {
		t.Fatalf("expected open+pong, got %+v", sent)
	}
}

func TestSessionPingTimeoutClosesSession(t *testing.T) {
	tr := newFakeTransport("polling")
	s := NewSession("sid-3", tr, shortCfg(), nil)

	var reason string
	var wg sync.WaitGroup
	wg.Add(1)
	s.Events().On("close", func(args ...any) {
		reason = args[0].(string)
		wg.Done()
	}, nil)

	s.Open()
	wg.Wait()

	if reason != "ping timeout" {
		t.Fatalf("expected ping timeout close, got %q", reason)
	}
	if s.State() != SessionClosed {
		t.Fatalf("expected session closed, got %v", s.State())
	}
}

func TestSessionClosedByPeerCloseMessage(t *testing.T) {
	tr := newFakeTransport("polling")
	s := NewSession("sid-4", tr, shortCfg(), nil)
	s.Open()

	var reason string
	s.Events().On("close", func(args ...any) { reason = args[0].(string) }, nil)

	tr.deliver(Packet{Type: PacketClose})

	if reason != "received close message" {
		t.Fatalf("expected received close message, got %q", reason)
	}
}

func TestSessionServerInitiatedClose(t *testing.T) {
	tr := newFakeTransport("polling")
	s := NewSession("sid-5", tr, shortCfg(), nil)
	s.Open()

	var reason string
	s.Events().On("close", func(args ...any) { reason = args[0].(string) }, nil)

	s.Close()

	if reason != "closed by server" {
		t.Fatalf("expected closed by server, got %q", reason)
	}
	if s.State() != SessionClosed {
		t.Fatalf("expected CLOSED, got %v", s.State())
	}
}

func TestSessionCloseEmittedExactlyOnce(t *testing.T) {
	tr := newFakeTransport("polling")
	s := NewSession("sid-6", tr, shortCfg(), nil)
	s.Open()

	count := 0
	s.Events().On("close", func(args ...any) { count++ }, nil)

	s.Close()
	// The underlying fakeTransport also emits its own "close" from
	// s.Close()'s transport.Close() call; the session must not re-emit.
	tr.dispatcher.Emit("close")

	if count != 1 {
		t.Fatalf("expected exactly one close emission, got %d", count)
	}
}

func TestSessionUpgradeSwapsTransportAtomically(t *testing.T) {
	polling := newFakeTransport("polling")
	s := NewSession("sid-7", polling, shortCfg(), nil)
	s.Open()
	polling.snapshot() // the open packet was sent on polling

	ws := newFakeTransport("websocket")
	s.BeginUpgrade(ws)

	ws.deliver(Packet{Type: PacketPing, Data: []byte("probe")})
	sentOnWS := ws.snapshot()
	if len(sentOnWS) != 1 || sentOnWS[0].Type != PacketPong || string(sentOnWS[0].Data) != "probe" {
		t.Fatalf("expected pong/probe on candidate, got %+v", sentOnWS)
	}

	ws.deliver(Packet{Type: PacketUpgrade})

	s.mu.Lock()
	current := s.transport
	s.mu.Unlock()
	if current != ws {
		t.Fatalf("expected session transport to be swapped to the websocket candidate")
	}

	// Further inbound packets are only observed on the new transport.
	var messages int
	s.Events().On("message", func(args ...any) { messages++ }, nil)
	ws.deliver(Packet{Type: PacketMessage, Data: []byte("hi")})
	if messages != 1 {
		t.Fatalf("expected message delivered via swapped websocket transport")
	}

	// A delivery on the old polling transport must not be processed.
	polling.deliver(Packet{Type: PacketMessage, Data: []byte("ignored")})
	if messages != 1 {
		t.Fatalf("expected no message delivered via the detached polling transport, got %d messages", messages)
	}
}
