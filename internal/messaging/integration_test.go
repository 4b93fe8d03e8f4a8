package messaging

import (
	"testing"

	"iorelay/internal/engineio"
)

// connectClient drives a fresh Client through a CONNECT handshake to nsp
// (connecting "/" first when nsp is another namespace) and returns the
// resulting socket, found via the server's namespace registry.
func connectClient(t *testing.T, server *Server, sid, nsp string) (*engineio.Session, *fakeTransport, *Socket) {
	t.Helper()
	sess, tr := newOpenSession(sid)
	server.OnEngineOpen(sess)

	if nsp != "/" {
		// Non-root namespaces stay buffered until the root namespace connects.
		rootHeader := Encode(Packet{Type: PacketConnect, Nsp: "/"})[0]
		tr.deliver(engineio.Packet{Type: engineio.PacketMessage, Data: rootHeader.Data})
	}

	connectHeader := Encode(Packet{Type: PacketConnect, Nsp: nsp})[0]
	tr.deliver(engineio.Packet{Type: engineio.PacketMessage, Data: connectHeader.Data})

	ns, ok := server.lookupNamespace(nsp)
	if !ok {
		t.Fatalf("namespace %q was never registered", nsp)
	}
	for _, s := range ns.Sockets() {
		if s.ID() == sid {
			return sess, tr, s
		}
	}
	t.Fatalf("socket for sid %q never registered on %q", sid, nsp)
	return nil, nil, nil
}

func TestClientConnectRegistersSocketAndSendsConnectAck(t *testing.T) {
	server := NewServer(nil, nil)
	_, tr, sock := connectClient(t, server, "sid-1", "/")
	if sock.ID() != "sid-1" {
		t.Fatalf("unexpected socket id %q", sock.ID())
	}

	sent := tr.drain()
	if len(sent) != 1 || string(sent[0].Data) != "0" {
		t.Fatalf("expected a bare CONNECT ack packet '0', got %+v", sent)
	}
}

func TestClientConnectUnknownNamespaceSendsError(t *testing.T) {
	server := NewServer(nil, nil)
	sess, tr := newOpenSession("sid-2")
	server.OnEngineOpen(sess)

	hdr := Encode(Packet{Type: PacketConnect, Nsp: "/nope"})[0]
	tr.deliver(engineio.Packet{Type: engineio.PacketMessage, Data: hdr.Data})

	sent := tr.drain()
	if len(sent) != 1 {
		t.Fatalf("expected exactly one ERROR packet, got %+v", sent)
	}
	d := NewDecoder()
	p, err := d.Feed(sent[0].Data, false)
	if err != nil || p == nil {
		t.Fatalf("failed to decode error packet: %v", err)
	}
	if p.Type != PacketError || p.Data == nil || p.Data.S != "Invalid namespace" {
		t.Fatalf("unexpected error packet: %+v", p)
	}
}

func TestConnectBufferDrainsAfterRootConnects(t *testing.T) {
	server := NewServer(nil, nil)
	server.Of("/chat")

	sess, tr := newOpenSession("sid-3")
	server.OnEngineOpen(sess)

	chatHdr := Encode(Packet{Type: PacketConnect, Nsp: "/chat"})[0]
	tr.deliver(engineio.Packet{Type: engineio.PacketMessage, Data: chatHdr.Data})
	// Root not yet connected: nothing should have been sent for /chat yet.
	if len(tr.drain()) != 0 {
		t.Fatalf("expected /chat connect to be buffered until root connects")
	}

	rootHdr := Encode(Packet{Type: PacketConnect, Nsp: "/"})[0]
	tr.deliver(engineio.Packet{Type: engineio.PacketMessage, Data: rootHdr.Data})

	sent := tr.drain()
	if len(sent) != 2 {
		t.Fatalf("expected root CONNECT ack plus drained /chat CONNECT ack, got %+v", sent)
	}
}

func TestSocketEmitEventAndClientReplyWithAck(t *testing.T) {
	server := NewServer(nil, nil)
	_, tr, sock := connectClient(t, server, "sid-4", "/")
	tr.drain() // drain the CONNECT ack

	var gotArg string
	var ack AckCallback
	sock.On("hello", func(args ...any) {
		gotArg = args[0].(Value).S
		ack = args[1].(AckCallback)
	})

	evtHdr := Encode(Packet{
		Type: PacketEvent,
		Nsp:  "/",
		ID:   intPtr(7),
		Data: valuePtr(Array(String("hello"), String("world"))),
	})[0]
	tr.deliver(engineio.Packet{Type: engineio.PacketMessage, Data: evtHdr.Data})

	if gotArg != "world" || ack == nil {
		t.Fatalf("expected listener invoked with arg+ack, got %q / %v", gotArg, ack)
	}

	ack(String("ok"))
	ack(String("ok-again")) // second call must be a no-op

	sent := tr.drain()
	if len(sent) != 1 {
		t.Fatalf("expected exactly one ACK packet sent, got %+v", sent)
	}
	d := NewDecoder()
	p, err := d.Feed(sent[0].Data, false)
	if err != nil || p == nil || p.Type != PacketAck || p.ID == nil || *p.ID != 7 {
		t.Fatalf("unexpected ack packet: %+v err=%v", p, err)
	}
}

func TestNamespaceBroadcastExcludesAndDeduplicates(t *testing.T) {
	server := NewServer(nil, nil)
	_, tr1, s1 := connectClient(t, server, "sid-a", "/")
	_, tr2, s2 := connectClient(t, server, "sid-b", "/")
	_, tr3, s3 := connectClient(t, server, "sid-c", "/")
	_, tr4, _ := connectClient(t, server, "sid-d", "/")
	tr1.drain()
	tr2.drain()
	tr3.drain()
	tr4.drain()

	s1.Join("room-r")
	s2.Join("room-r")
	s3.Join("room-r")
	// s4 never joins room-r.

	ns, _ := server.lookupNamespace("/")
	ns.Broadcast(Packet{Type: PacketEvent, Data: valuePtr(Array(String("m"), Number(1)))}, []string{"room-r"}, []string{s1.ID()})

	if len(tr1.drain()) != 0 {
		t.Fatal("excluded socket must not receive the broadcast")
	}
	if len(tr2.drain()) != 1 || len(tr3.drain()) != 1 {
		t.Fatal("expected each non-excluded room member to receive exactly one packet")
	}
	if len(tr4.drain()) != 0 {
		t.Fatal("socket outside the target room must not receive the broadcast")
	}
}

func TestSocketToEmitBroadcastsAndClearsQueue(t *testing.T) {
	server := NewServer(nil, nil)
	_, tr1, s1 := connectClient(t, server, "sid-x", "/")
	_, tr2, s2 := connectClient(t, server, "sid-y", "/")
	tr1.drain()
	tr2.drain()

	s2.Join("r")
	if err := s1.To("r").Emit("m", "hi"); err != nil {
		t.Fatalf("emit: %v", err)
	}
	if len(tr1.drain()) != 0 {
		t.Fatal("emitter via To(room) must not receive its own broadcast")
	}
	if len(tr2.drain()) != 1 {
		t.Fatal("room member must receive exactly one event")
	}

	// A second emit with no To() call must not still be room-scoped.
	if err := s1.Emit("m2", "direct"); err != nil {
		t.Fatalf("emit: %v", err)
	}
	if len(tr1.drain()) != 1 {
		t.Fatal("expected direct emit to go straight to the emitting client")
	}
}

func TestSocketDisconnectSendsDisconnectAndRemovesFromNamespace(t *testing.T) {
	server := NewServer(nil, nil)
	_, tr, sock := connectClient(t, server, "sid-z", "/")
	tr.drain()

	sock.Disconnect(false)

	sent := tr.drain()
	if len(sent) != 1 || sent[0].Data[0] != '1' {
		t.Fatalf("expected a DISCONNECT packet ('1'), got %+v", sent)
	}

	ns, _ := server.lookupNamespace("/")
	for _, s := range ns.Sockets() {
		if s.ID() == "sid-z" {
			t.Fatal("expected socket removed from namespace after disconnect")
		}
	}
}

func TestEngineSessionCloseTearsDownSocketsLocally(t *testing.T) {
	server := NewServer(nil, nil)
	sess, tr, sock := connectClient(t, server, "sid-w", "/")
	tr.drain()

	var reason string
	sock.On("disconnect", func(args ...any) { reason = args[0].(string) })

	sess.Close()

	if reason != "transport close" {
		t.Fatalf("expected local teardown reason 'transport close', got %q", reason)
	}
}
