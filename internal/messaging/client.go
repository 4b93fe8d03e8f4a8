package messaging

import (
	"sync"

	"github.com/sirupsen/logrus"

	"iorelay/internal/engineio"
)

// Client is one Messaging Client per Engine Session (spec §3/§4.6): it owns
// the codecs and demultiplexes inbound packets across namespaces.
type Client struct {
	server        *Server
	engineSession *engineio.Session
	logger        logrus.FieldLogger
	decoder       *Decoder

	mu            sync.Mutex
	sockets       map[string]*Socket // nsp -> socket
	rootConnected bool
	connectBuffer []string
}

func newClient(sess *engineio.Session, server *Server) *Client {
	return &Client{
		server:        server,
		engineSession: sess,
		logger:        server.logger.WithField("sid", sess.SID()),
		decoder:       NewDecoder(),
		sockets:       make(map[string]*Socket),
	}
}

func (c *Client) engineSessionOpen() bool {
	return c.engineSession.State() == engineio.SessionOpen
}

// handleEngineMessage feeds one inbound Engine "message" packet through the
// Messaging decoder and routes the result, if any, once fully reassembled.
func (c *Client) handleEngineMessage(data []byte, isBinary bool) {
	pkt, err := c.decoder.Feed(data, isBinary)
	if err != nil {
		c.logger.WithError(err).Debug("messaging: decode error; dropping")
		return
	}
	if pkt == nil {
		return
	}
	if c.server.metrics != nil {
		c.server.metrics.PacketsReceived.Inc()
	}
	c.route(*pkt)
}

// route implements spec §4.6's "Inbound routing".
func (c *Client) route(p Packet) {
	nsp := p.Nsp
	if nsp == "" {
		nsp = "/"
	}
	if p.Type == PacketConnect {
		c.connect(nsp)
		return
	}

	c.mu.Lock()
	sock, ok := c.sockets[nsp]
	c.mu.Unlock()
	if !ok {
		c.logger.WithField("nsp", nsp).Debug("messaging: packet for unconnected namespace dropped")
		return
	}
	p.Nsp = nsp
	sock.onPacket(p)
}

// connect implements spec §4.6's "Namespace connect" policy.
func (c *Client) connect(name string) {
	ns, ok := c.server.lookupNamespace(name)
	if !ok {
		_ = c.SendPacket(Packet{Type: PacketError, Nsp: name, Data: valuePtr(String("Invalid namespace"))})
		return
	}

	if name != "/" {
		c.mu.Lock()
		if !c.rootConnected {
			c.connectBuffer = append(c.connectBuffer, name)
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()
	}

	ns.Add(c, func(sock *Socket) {
		isRoot := name == "/"
		c.mu.Lock()
		c.sockets[name] = sock
		var buffered []string
		if isRoot {
			c.rootConnected = true
			buffered = c.connectBuffer
			c.connectBuffer = nil
		}
		c.mu.Unlock()
		for _, n := range buffered {
			c.connect(n)
		}
	})
}

func (c *Client) removeSocket(nsp string) {
	c.mu.Lock()
	delete(c.sockets, nsp)
	if nsp == "/" {
		c.rootConnected = false
	}
	c.mu.Unlock()
}

// onEngineClose tears every namespace socket down locally (the Engine
// Session is already gone, so no DISCONNECT packet can be written).
func (c *Client) onEngineClose() {
	c.mu.Lock()
	socks := make([]*Socket, 0, len(c.sockets))
	for _, s := range c.sockets {
		socks = append(socks, s)
	}
	c.sockets = make(map[string]*Socket)
	c.rootConnected = false
	c.mu.Unlock()
	for _, s := range socks {
		s.localClose("transport close")
	}
}

// Disconnect forces every open Messaging Socket closed (sending DISCONNECT
// and locally tearing each down) before closing the underlying Engine
// Session — spec §4's supplemented `client.py.disconnect` behaviour.
func (c *Client) Disconnect() {
	c.mu.Lock()
	socks := make([]*Socket, 0, len(c.sockets))
	for _, s := range c.sockets {
		socks = append(socks, s)
	}
	c.mu.Unlock()
	for _, s := range socks {
		s.Disconnect(false)
	}
	c.engineSession.Close()
}

// SendPacket encodes p and writes it to the Engine Session, unless the
// session is no longer OPEN (spec §4.6 "Outbound").
func (c *Client) SendPacket(p Packet) error {
	if !c.engineSessionOpen() {
		return nil
	}
	if c.server.metrics != nil {
		c.server.metrics.PacketsSent.Inc()
	}
	return c.SendEncoded(Encode(p))
}

// SendEncoded writes an already-encoded sequence of Engine packets verbatim
// — the path broadcasts use to avoid re-encoding per recipient (spec §4.6's
// `preEncoded` and §4.7 step 2).
func (c *Client) SendEncoded(encoded []engineio.Packet) error {
	if !c.engineSessionOpen() {
		return nil
	}
	for _, ep := range encoded {
		c.engineSession.SendMessage(ep.Data, ep.IsBinary)
	}
	return nil
}
