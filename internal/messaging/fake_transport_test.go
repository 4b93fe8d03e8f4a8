package messaging

import (
	"sync"
	"time"

	"iorelay/internal/engineio"
	"iorelay/internal/evemit"
)

// fakeTransport is a minimal in-memory engineio.Transport used to drive real
// engineio.Session/Server objects from messaging package tests, without any
// HTTP or websocket plumbing.
type fakeTransport struct {
	dispatcher *evemit.Dispatcher

	mu      sync.Mutex
	open    bool
	sent    []engineio.Packet
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{dispatcher: evemit.New(nil), open: true}
}

func (f *fakeTransport) Name() string              { return "polling" }
func (f *fakeTransport) Events() *evemit.Dispatcher { return f.dispatcher }
func (f *fakeTransport) Writable() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}
func (f *fakeTransport) Send(packets []engineio.Packet) error {
	f.mu.Lock()
	f.sent = append(f.sent, packets...)
	f.mu.Unlock()
	f.dispatcher.Emit("drain")
	return nil
}
func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.open = false
	f.mu.Unlock()
	f.dispatcher.Emit("close")
	return nil
}
func (f *fakeTransport) deliver(p engineio.Packet) { f.dispatcher.Emit("packet", p) }

// drain returns everything sent so far and clears it, so callers can assert
// on only what arrives after this point.
func (f *fakeTransport) drain() []engineio.Packet {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.sent
	f.sent = nil
	return out
}

func shortSessionCfg() engineio.SessionConfig {
	return engineio.SessionConfig{
		PingInterval:   time.Hour,
		PingTimeout:    time.Hour,
		UpgradeTimeout: time.Hour,
	}
}

// newOpenSession returns an already-OPEN Engine Session and its transport
// double, handshake packet already drained.
func newOpenSession(sid string) (*engineio.Session, *fakeTransport) {
	tr := newFakeTransport()
	sess := engineio.NewSession(sid, tr, shortSessionCfg(), nil)
	sess.Open()
	tr.drain() // drain the open packet; callers only care about later sends
	return sess, tr
}
