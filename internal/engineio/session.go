package engineio

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"iorelay/internal/evemit"
)

// SessionState mirrors spec §3's {NEW, OPEN, CLOSING, CLOSED}.
type SessionState int

const (
	SessionNew SessionState = iota
	SessionOpen
	SessionClosing
	SessionClosed
)

func (s SessionState) String() string {
	switch s {
	case SessionNew:
		return "NEW"
	case SessionOpen:
		return "OPEN"
	case SessionClosing:
		return "CLOSING"
	case SessionClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// SessionConfig carries the advertised heartbeat/upgrade timing. Intervals
// and timeouts are both tracked as time.Duration internally; only the
// handshake JSON converts to milliseconds.
type SessionConfig struct {
	PingInterval   time.Duration
	PingTimeout    time.Duration
	UpgradeTimeout time.Duration
	Upgrades       []string
}

// Session is the per-client Engine state machine (spec §4.5). Exactly one
// transport owns outbound writes/inbound packets at any instant.
type Session struct {
	sid string
	cfg SessionConfig

	dispatcher *evemit.Dispatcher // public events: "message" (data, isBinary), "close" (reason)
	logger     logrus.FieldLogger

	mu          sync.Mutex
	state       SessionState
	transport   Transport
	writeBuffer []Packet

	pingTimeoutTimer    *time.Timer
	upgradeTimeoutTimer *time.Timer
	upgradeStop         chan struct{}
	closeReason         string

	// Context holds values the handshake hook (spec §6) stashed for this
	// session, e.g. authenticated identity.
	Context map[string]any
}

// NewSession constructs a session in state NEW over the initial transport.
// Call Open to perform the handshake.
func NewSession(sid string, transport Transport, cfg SessionConfig, logger logrus.FieldLogger) *Session {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	s := &Session{
		sid:        sid,
		cfg:        cfg,
		dispatcher: evemit.New(func(event string, r any) {
			logger.WithFields(logrus.Fields{"sid": sid, "event": event}).Errorf("engineio: listener panic: %v", r)
		}),
		logger:  logger.WithField("sid", sid),
		state:   SessionNew,
		Context: make(map[string]any),
	}
	s.attachTransport(transport)
	return s
}

// SID returns the session's opaque id.
func (s *Session) SID() string { return s.sid }

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Events exposes the session's "message"/"close" public events (spec §4.6:
// the Messaging Client subscribes here under its own owner key).
func (s *Session) Events() *evemit.Dispatcher { return s.dispatcher }

func (s *Session) attachTransport(t Transport) {
	t.Events().On("packet", func(args ...any) { s.onPacket(args[0].(Packet)) }, s)
	t.Events().On("drain", func(args ...any) { s.flush() }, s)
	t.Events().Once("error", func(args ...any) {
		var err error
		if len(args) > 0 {
			err, _ = args[0].(error)
		}
		s.logger.WithError(err).Debug("engineio: transport error")
		s.onClose("transport error")
	}, s)
	t.Events().Once("close", func(args ...any) { s.onClose("transport error") }, s)

	s.mu.Lock()
	s.transport = t
	s.mu.Unlock()
}

func (s *Session) detachTransport(t Transport) {
	t.Events().RemoveByOwner(s, "")
}

// Open performs the handshake: sends the Engine "open" packet and arms the
// ping-timeout supervisor.
func (s *Session) Open() {
	s.mu.Lock()
	s.state = SessionOpen
	s.mu.Unlock()

	open := map[string]any{
		"sid":          s.sid,
		"upgrades":     s.cfg.Upgrades,
		"pingInterval": s.cfg.PingInterval.Milliseconds(),
		"pingTimeout":  s.cfg.PingTimeout.Milliseconds(),
	}
	data, _ := json.Marshal(open)
	s.sendPacket(PacketOpen, data, false)
	s.armPingTimeout()
}

func (s *Session) onPacket(p Packet) {
	s.mu.Lock()
	open := s.state == SessionOpen
	s.mu.Unlock()
	if !open {
		return
	}

	s.armPingTimeout()

	switch p.Type {
	case PacketPing:
		s.sendPacket(PacketPong, nil, false)
	case PacketMessage:
		s.dispatcher.Emit("message", p.Data, p.IsBinary)
	case PacketClose:
		s.onClose("received close message")
	default:
	}
}

func (s *Session) armPingTimeout() {
	d := s.cfg.PingInterval + s.cfg.PingTimeout
	s.mu.Lock()
	if s.pingTimeoutTimer != nil {
		s.pingTimeoutTimer.Stop()
	}
	s.pingTimeoutTimer = time.AfterFunc(d, func() { s.onClose("ping timeout") })
	s.mu.Unlock()
}

// SendMessage writes a Messaging-layer payload as an Engine "message" packet.
func (s *Session) SendMessage(data []byte, isBinary bool) {
	s.sendPacket(PacketMessage, data, isBinary)
}

func (s *Session) sendPacket(t PacketType, data []byte, isBinary bool) {
	s.mu.Lock()
	if s.state == SessionClosing {
		s.mu.Unlock()
		return
	}
	s.writeBuffer = append(s.writeBuffer, Packet{Type: t, Data: data, IsBinary: isBinary})
	s.mu.Unlock()
	s.flush()
}

// flush drains the whole write buffer to the transport in one call; it is a
// no-op if the session is closed or the transport is not writable (spec
// §4.5's "Write buffering"). Used both after enqueuing a packet and as the
// transport's drain handler (flush_nowait in the source), since this
// implementation never blocks on an empty buffer.
func (s *Session) flush() {
	s.mu.Lock()
	if s.state == SessionClosed || s.transport == nil || !s.transport.Writable() {
		s.mu.Unlock()
		return
	}
	if len(s.writeBuffer) == 0 {
		s.mu.Unlock()
		return
	}
	batch := s.writeBuffer
	s.writeBuffer = nil
	t := s.transport
	s.mu.Unlock()

	_ = t.Send(batch)
}

// Close is the server-initiated close path (spec §4.5).
func (s *Session) Close() {
	s.mu.Lock()
	if s.state != SessionOpen {
		s.mu.Unlock()
		return
	}
	s.state = SessionClosing
	s.closeReason = "closed by server"
	t := s.transport
	s.mu.Unlock()

	if t != nil {
		_ = t.Close()
	}
	s.onClose("closed by server")
}

// onClose finalises the session. reason is used unless an explicitly
// requested close (Close, above) already recorded one: t.Close() above
// synchronously fires the transport's "close" event, which reaches this
// function first with "transport error" before Close's own call below
// runs, so an explicit closeReason set prior to the transport teardown
// always wins.
func (s *Session) onClose(reason string) {
	s.mu.Lock()
	if s.state == SessionClosed {
		s.mu.Unlock()
		return
	}
	if s.closeReason != "" {
		reason = s.closeReason
	}
	if s.pingTimeoutTimer != nil {
		s.pingTimeoutTimer.Stop()
		s.pingTimeoutTimer = nil
	}
	if s.upgradeTimeoutTimer != nil {
		s.upgradeTimeoutTimer.Stop()
		s.upgradeTimeoutTimer = nil
	}
	if s.upgradeStop != nil {
		close(s.upgradeStop)
		s.upgradeStop = nil
	}
	t := s.transport
	s.transport = nil
	s.writeBuffer = nil
	s.state = SessionClosed
	s.mu.Unlock()

	if t != nil {
		s.detachTransport(t)
	}
	s.logger.WithField("reason", reason).Debug("engineio: session closed")
	s.dispatcher.Emit("close", reason)
}

// BeginUpgrade drives the probe/pong/upgrade handshake on candidate, a
// websocket transport opened in parallel with the session's current polling
// transport (spec §4.5). It never blocks the caller.
func (s *Session) BeginUpgrade(candidate Transport) {
	s.mu.Lock()
	if s.upgradeTimeoutTimer != nil {
		s.upgradeTimeoutTimer.Stop()
	}
	s.upgradeTimeoutTimer = time.AfterFunc(s.cfg.UpgradeTimeout, func() {
		candidate.Events().RemoveByOwner(candidate, "")
		_ = candidate.Close()
	})
	s.mu.Unlock()

	candidate.Events().On("packet", func(args ...any) {
		p := args[0].(Packet)
		switch {
		case p.Type == PacketPing && string(p.Data) == "probe":
			_ = candidate.Send([]Packet{Text(PacketPong, "probe")})
			s.startUpgradeProbeLoop()
		case p.Type == PacketUpgrade:
			candidate.Events().RemoveByOwner(candidate, "")
			s.mu.Lock()
			if s.upgradeTimeoutTimer != nil {
				s.upgradeTimeoutTimer.Stop()
				s.upgradeTimeoutTimer = nil
			}
			if s.upgradeStop != nil {
				close(s.upgradeStop)
				s.upgradeStop = nil
			}
			s.mu.Unlock()
			s.swapTransport(candidate)
		default:
			s.mu.Lock()
			if s.upgradeStop != nil {
				close(s.upgradeStop)
				s.upgradeStop = nil
			}
			s.mu.Unlock()
			candidate.Events().RemoveByOwner(candidate, "")
			_ = candidate.Close()
		}
	}, candidate)
}

func (s *Session) startUpgradeProbeLoop() {
	s.mu.Lock()
	if s.upgradeStop != nil {
		close(s.upgradeStop)
	}
	stop := make(chan struct{})
	s.upgradeStop = stop
	s.mu.Unlock()

	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				s.mu.Lock()
				t := s.transport
				s.mu.Unlock()
				if t != nil && t.Name() == "polling" && t.Writable() {
					_ = t.Send([]Packet{{Type: PacketNoop}})
				}
			}
		}
	}()
}

// swapTransport drains the old (polling) transport via Pause before
// installing candidate, so no packet is ever delivered on both transports
// (spec §5's ordering guarantee #2).
func (s *Session) swapTransport(candidate Transport) {
	s.mu.Lock()
	old := s.transport
	s.mu.Unlock()

	install := func() {
		s.mu.Lock()
		if old != nil {
			old.Events().RemoveByOwner(s, "")
		}
		s.transport = candidate
		s.mu.Unlock()
		s.attachTransport(candidate)
		s.armPingTimeout()
		s.flush()
	}

	if pausable, ok := old.(Pausable); ok {
		pausable.Pause(install)
	} else {
		install()
	}
}
