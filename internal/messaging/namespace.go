package messaging

import (
	"sync"

	"github.com/sirupsen/logrus"

	"iorelay/internal/evemit"
)

// Namespace is a logical channel multiplexed over every Client's Engine
// Session (spec §3/§4.7), identified by a path beginning with "/".
type Namespace struct {
	name    string
	adapter *Adapter
	logger  logrus.FieldLogger
	metrics *Metrics

	dispatcher *evemit.Dispatcher

	mu        sync.Mutex
	sockets   []*Socket
	connected map[string]*Socket
}

func newNamespace(name string, logger logrus.FieldLogger, metrics *Metrics) *Namespace {
	ns := &Namespace{
		name:      name,
		adapter:   NewAdapter(),
		logger:    logger.WithField("nsp", name),
		metrics:   metrics,
		connected: make(map[string]*Socket),
	}
	ns.dispatcher = evemit.New(func(event string, r any) {
		ns.logger.WithField("event", event).Errorf("messaging: listener panic: %v", r)
	})
	return ns
}

// Name returns the namespace path.
func (ns *Namespace) Name() string { return ns.name }

// On registers a local event listener (e.g. "connection") at the namespace
// level.
func (ns *Namespace) On(event string, fn evemit.Listener) {
	ns.dispatcher.On(event, fn, nil)
}

// Add registers a new Messaging Socket over client (spec §4.7 "Socket
// registration"). It is a no-op if the owning Engine Session is no longer
// OPEN, guarding the race where the session closes between CONNECT receipt
// and namespace registration (SPEC_FULL's supplemented-features section).
// onReady, if non-nil, runs after the socket is fully registered.
func (ns *Namespace) Add(client *Client, onReady func(*Socket)) {
	if !client.engineSessionOpen() {
		return
	}

	sock := newSocket(client, ns)

	ns.mu.Lock()
	ns.sockets = append(ns.sockets, sock)
	ns.connected[sock.id] = sock
	ns.mu.Unlock()

	sock.Join(sock.id)

	_ = client.SendPacket(Packet{Type: PacketConnect, Nsp: ns.name})

	ns.dispatcher.Emit("connection", sock)
	ns.dispatcher.Emit("connect", sock)

	if onReady != nil {
		onReady(sock)
	}
}

func (ns *Namespace) removeSocket(sock *Socket) {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	delete(ns.connected, sock.id)
	for i, s := range ns.sockets {
		if s == sock {
			ns.sockets = append(ns.sockets[:i:i], ns.sockets[i+1:]...)
			break
		}
	}
}

// Sockets returns a snapshot of the namespace's currently connected sockets.
func (ns *Namespace) Sockets() []*Socket {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	out := make([]*Socket, len(ns.sockets))
	copy(out, ns.sockets)
	return out
}

// To returns a broadcast target accumulator rooted at room, mirroring the
// `namespace.to(room).emit(...)` call shape from the source.
func (ns *Namespace) To(room string) *BroadcastTarget {
	return &BroadcastTarget{ns: ns, rooms: []string{room}}
}

// BroadcastTarget accumulates target rooms before a fan-out Emit, matching
// spec §4.7 "Broadcast".
type BroadcastTarget struct {
	ns    *Namespace
	rooms []string
}

// To appends another target room and returns the accumulator for chaining.
func (b *BroadcastTarget) To(room string) *BroadcastTarget {
	b.rooms = append(b.rooms, room)
	return b
}

// Emit builds an EVENT/BINARY_EVENT packet from event/args and broadcasts it
// to the accumulated rooms with no exclusions — this is the host-initiated
// broadcast path (as opposed to a socket's own Emit, which excludes itself).
func (b *BroadcastTarget) Emit(event string, args ...any) error {
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
	b.ns.Broadcast(Packet{Type: typ, Nsp: b.ns.name, Data: valuePtr(data)}, b.rooms, nil)
	return nil
}

// Broadcast implements spec §4.7 exactly: stamp nsp, encode once, fan the
// pre-encoded payload out to every surviving recipient.
func (ns *Namespace) Broadcast(p Packet, rooms []string, except []string) {
	p.Nsp = ns.name
	encoded := Encode(p)

	exceptSet := make(map[string]struct{}, len(except))
	for _, id := range except {
		exceptSet[id] = struct{}{}
	}

	var ids []string
	if len(rooms) == 0 {
		ids = ns.adapter.AllIDs()
	} else {
		ids = ns.adapter.IDsForRooms(rooms)
	}

	if ns.metrics != nil {
		ns.metrics.BroadcastsSent.Inc()
	}

	ns.mu.Lock()
	targets := make([]*Socket, 0, len(ids))
	for _, id := range ids {
		if _, skip := exceptSet[id]; skip {
			continue
		}
		sock, ok := ns.connected[id]
		if !ok {
			continue
		}
		targets = append(targets, sock)
	}
	ns.mu.Unlock()

	for _, sock := range targets {
		_ = sock.client.SendEncoded(encoded)
	}
}
