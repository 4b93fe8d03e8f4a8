package messaging

import (
	"sync"

	"github.com/sirupsen/logrus"

	"iorelay/internal/evemit"
)

// AckCallback is handed to an EVENT listener as the trailing argument when
// the incoming packet carries an id (spec §4.8). Invoking it sends an ACK
// back to the peer; a second invocation is a no-op (spec §8 invariant 7).
type AckCallback func(args ...Value)

var reservedEvents = map[string]bool{
	"error":          true,
	"connect":        true,
	"disconnect":     true,
	"new_listener":   true,
	"remove_listener": true,
}

// Socket is the user-visible endpoint of spec §4.8: one per (Client,
// Namespace) pair, identified by the owning Engine Session's sid.
type Socket struct {
	id        string
	namespace *Namespace
	client    *Client
	logger    logrus.FieldLogger

	dispatcher *evemit.Dispatcher

	mu            sync.Mutex
	rooms         map[string]struct{}
	toRooms       []string
	broadcastFlag bool
	flags         map[string]bool
	pendingAcks   map[int]AckCallback
	sentAcks      map[int]bool
	nextAckID     int
	connected     bool
}

func newSocket(client *Client, ns *Namespace) *Socket {
	id := client.engineSession.SID()
	s := &Socket{
		id:        id,
		namespace: ns,
		client:    client,
		logger:    ns.logger.WithField("socket", id).WithField("nsp", ns.name),
		connected: true,
	}
	s.dispatcher = evemit.New(func(event string, r any) {
		s.logger.WithField("event", event).Errorf("messaging: listener panic: %v", r)
	})
	return s
}

// ID returns the socket's id (equal to its Engine Session's sid).
func (s *Socket) ID() string { return s.id }

// Namespace returns the owning Namespace.
func (s *Socket) Namespace() *Namespace { return s.namespace }

// Handshake returns the values the Engine Server's HandshakeHook (spec §6)
// stashed on the underlying Engine Session before this socket was created,
// e.g. an authenticated user id.
func (s *Socket) Handshake() map[string]any {
	return s.client.engineSession.Context
}

// On registers a local event listener, mirroring spec §4.3's dispatcher API
// surfaced at the socket level.
func (s *Socket) On(event string, fn evemit.Listener) {
	s.dispatcher.On(event, fn, nil)
}

// To queues a target room for the next Emit and returns the socket for
// chaining. The queue is cleared after that Emit runs (spec §4 "SUPPLEMENTED
// FEATURES": to(room) queue semantics), whether or not it actually
// broadcasts.
func (s *Socket) To(room string) *Socket {
	s.mu.Lock()
	s.toRooms = append(s.toRooms, room)
	s.mu.Unlock()
	return s
}

// Broadcast forces the next Emit through the Namespace adapter even with no
// queued target rooms (the `broadcast` flag of spec §4.8).
func (s *Socket) Broadcast() *Socket {
	s.mu.Lock()
	s.broadcastFlag = true
	s.mu.Unlock()
	return s
}

// Flag sets a named protocol-compatibility flag. `volatile` and `json` are
// accepted but are documented no-ops (see SPEC_FULL's supplemented features
// section): this server never drops a volatile packet nor forces JSON-only
// encoding.
func (s *Socket) Flag(name string) *Socket {
	s.mu.Lock()
	if s.flags == nil {
		s.flags = make(map[string]bool)
	}
	s.flags[name] = true
	s.mu.Unlock()
	return s
}

// Join adds room to the socket's membership via the namespace adapter.
func (s *Socket) Join(room string) {
	s.namespace.adapter.Add(s.id, room)
	s.mu.Lock()
	if s.rooms == nil {
		s.rooms = make(map[string]struct{})
	}
	s.rooms[room] = struct{}{}
	s.mu.Unlock()
}

// Leave removes room from the socket's membership.
func (s *Socket) Leave(room string) {
	s.namespace.adapter.Remove(s.id, room)
	s.mu.Lock()
	delete(s.rooms, room)
	s.mu.Unlock()
}

// LeaveAll removes the socket from every room it currently belongs to,
// iterating a snapshot and removing each pairing through the same Leave
// path (the open-question fix noted in spec §9 for the `remove_all` typo).
func (s *Socket) LeaveAll() {
	s.mu.Lock()
	snapshot := make([]string, 0, len(s.rooms))
	for r := range s.rooms {
		snapshot = append(snapshot, r)
	}
	s.mu.Unlock()
	for _, r := range snapshot {
		s.Leave(r)
	}
}

// Emit sends a user event. Reserved event names only notify local listeners
// (spec §4.8); everything else is written as an EVENT/BINARY_EVENT packet,
// either broadcast through the Namespace adapter (if To/Broadcast were
// used) or sent directly through the owning Client. If the final argument is
// an AckCallback, it is registered against a fresh ack id appended to the
// packet.
func (s *Socket) Emit(event string, args ...any) error {
	s.mu.Lock()
	rooms := s.toRooms
	broadcast := s.broadcastFlag
	s.toRooms = nil
	s.broadcastFlag = false
	s.mu.Unlock()

	if reservedEvents[event] {
		s.dispatcher.Emit(event, args...)
		return nil
	}

	var ack AckCallback
	if n := len(args); n > 0 {
		if cb, ok := args[n-1].(AckCallback); ok {
			ack = cb
			args = args[:n-1]
		}
	}

	vals := make([]Value, 0, len(args)+1)
	vals = append(vals, String(event))
	hasBin := false
	for _, a := range args {
		v, err := FromGo(a)
		if err != nil {
			return err
		}
		vals = append(vals, v)
		if HasBin(v) {
			hasBin = true
		}
	}
	data := Array(vals...)

	typ := PacketEvent
	if hasBin {
		typ = PacketBinaryEvent
	}

	var id *int
	if ack != nil {
		s.mu.Lock()
		aid := s.nextAckID
		s.nextAckID++
		if s.pendingAcks == nil {
			s.pendingAcks = make(map[int]AckCallback)
		}
		s.pendingAcks[aid] = ack
		s.mu.Unlock()
		id = intPtr(aid)
	}

	pkt := Packet{Type: typ, Nsp: s.namespace.name, ID: id, Data: valuePtr(data)}

	if len(rooms) > 0 || broadcast {
		s.namespace.Broadcast(pkt, rooms, []string{s.id})
		return nil
	}
	return s.client.SendPacket(pkt)
}

// onPacket dispatches one inbound Messaging packet already routed to this
// socket by the owning Client (spec §4.8's "Inbound on_packet dispatch"
// table).
func (s *Socket) onPacket(p Packet) {
	switch p.Type {
	case PacketEvent, PacketBinaryEvent:
		s.handleEvent(p)
	case PacketAck, PacketBinaryAck:
		s.handleAck(p)
	case PacketDisconnect:
		s.localClose("client namespace disconnect")
	case PacketError:
		var payload any
		if p.Data != nil {
			payload = p.Data.ToGo()
		}
		s.dispatcher.Emit("error", payload)
	}
}

func (s *Socket) handleEvent(p Packet) {
	if p.Data == nil || p.Data.Kind != KindArray || len(p.Data.Arr) == 0 {
		s.logger.Debug("messaging: EVENT packet missing [event, args...] array")
		return
	}
	event := p.Data.Arr[0].S
	rest := p.Data.Arr[1:]
	args := make([]any, 0, len(rest)+1)
	for _, v := range rest {
		args = append(args, v)
	}
	if p.ID != nil {
		id := *p.ID
		args = append(args, AckCallback(func(reply ...Value) { s.sendAck(id, reply) }))
	}
	s.dispatcher.Emit(event, args...)
}

func (s *Socket) sendAck(id int, reply []Value) {
	s.mu.Lock()
	if s.sentAcks == nil {
		s.sentAcks = make(map[int]bool)
	}
	if s.sentAcks[id] {
		s.mu.Unlock()
		return
	}
	s.sentAcks[id] = true
	s.mu.Unlock()

	data := Array(reply...)
	typ := PacketAck
	if HasBin(data) {
		typ = PacketBinaryAck
	}
	_ = s.client.SendPacket(Packet{Type: typ, Nsp: s.namespace.name, ID: intPtr(id), Data: valuePtr(data)})
}

func (s *Socket) handleAck(p Packet) {
	if p.ID == nil {
		return
	}
	s.mu.Lock()
	cb, ok := s.pendingAcks[*p.ID]
	if ok {
		delete(s.pendingAcks, *p.ID)
	}
	s.mu.Unlock()
	if !ok {
		s.logger.WithField("id", *p.ID).Debug("messaging: ack for unknown id dropped")
		return
	}
	var args []Value
	switch {
	case p.Data == nil:
	case p.Data.Kind == KindArray:
		args = p.Data.Arr
	default:
		args = []Value{*p.Data}
	}
	cb(args...)
}

// Disconnect tears the socket down. If closeConn is true the underlying
// Engine Session is closed outright; otherwise a DISCONNECT packet is sent
// and the socket is torn down locally (spec §4.8).
func (s *Socket) Disconnect(closeConn bool) {
	s.mu.Lock()
	connected := s.connected
	s.mu.Unlock()
	if !connected {
		return
	}

	if closeConn {
		s.client.engineSession.Close()
		return
	}

	_ = s.client.SendPacket(Packet{Type: PacketDisconnect, Nsp: s.namespace.name})
	s.localClose("server namespace disconnect")
}

// localClose removes the socket from its namespace/adapter/client without
// touching the underlying Engine Session, and fires the local "disconnect"
// event.
func (s *Socket) localClose(reason string) {
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return
	}
	s.connected = false
	s.mu.Unlock()

	s.LeaveAll()
	s.namespace.removeSocket(s)
	s.namespace.adapter.RemoveAll(s.id)
	s.client.removeSocket(s.namespace.name)
	s.dispatcher.Emit("disconnect", reason)
}
