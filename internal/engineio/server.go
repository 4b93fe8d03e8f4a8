package engineio

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// ServerConfig is the subset of spec §6's "Server configuration" this layer
// owns directly.
type ServerConfig struct {
	// Resource is the path prefix the server listens under (unused by
	// Server itself — the router mounts Server at that prefix — but kept
	// here so hosts can read it back).
	Resource string
	// Transports is the allow-list; a handshake naming anything else is
	// CONFIG_INVALID.
	Transports     map[string]bool
	PingInterval   time.Duration
	PingTimeout    time.Duration
	UpgradeTimeout time.Duration
}

// DefaultServerConfig matches spec §6's defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Resource:       "socket.io",
		Transports:     map[string]bool{"polling": true, "websocket": true},
		PingInterval:   25000 * time.Millisecond,
		PingTimeout:    60000 * time.Millisecond,
		UpgradeTimeout: 30 * time.Second,
	}
}

// HandshakeHook lets a host attach request-scoped state (auth, etc.) before
// a session is created, mirroring spec §6's `application(env, startResponse)`
// hook. Returning an error refuses the handshake with a 400-class response
// (CONFIG_INVALID-style).
type HandshakeHook func(r *http.Request) (map[string]any, error)

// Server owns the sid table and the HTTP entrypoints for both transports.
type Server struct {
	cfg      ServerConfig
	upgrader websocket.Upgrader
	logger   logrus.FieldLogger
	metrics  *Metrics
	onOpen   func(*Session)
	hook     HandshakeHook

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewServer constructs an Engine Server. onOpen, if non-nil, is invoked once
// a new session has completed its handshake (state OPEN) — this is how the
// messaging layer (C6) attaches a Client to every new session.
func NewServer(cfg ServerConfig, logger logrus.FieldLogger, metrics *Metrics, onOpen func(*Session)) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Server{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		onOpen:  onOpen,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		sessions: make(map[string]*Session),
	}
}

// SetHandshakeHook installs the hook described by spec §6.
func (s *Server) SetHandshakeHook(hook HandshakeHook) { s.hook = hook }

// Session looks up a live session by sid.
func (s *Server) Session(sid string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sid]
	return sess, ok
}

// ServeHTTP implements the handshake/poll/upgrade dispatch of spec §6.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	transportName := q.Get("transport")
	if !s.cfg.Transports[transportName] {
		http.Error(w, "invalid transport", http.StatusBadRequest)
		return
	}

	sid := q.Get("sid")
	if sid == "" {
		s.handshake(w, r, transportName)
		return
	}

	sess, ok := s.Session(sid)
	if !ok {
		http.Error(w, "session not found", http.StatusBadRequest)
		return
	}

	switch transportName {
	case "polling":
		s.servePolling(w, r, sess)
	case "websocket":
		s.serveWebSocketUpgrade(w, r, sess)
	default:
		http.Error(w, "invalid transport", http.StatusBadRequest)
	}
}

func (s *Server) handshake(w http.ResponseWriter, r *http.Request, transportName string) {
	var ctx map[string]any
	if s.hook != nil {
		var err error
		ctx, err = s.hook(r)
		if err != nil {
			http.Error(w, "handshake rejected", http.StatusBadRequest)
			return
		}
	}

	sid := uuid.NewString()
	var transport Transport
	switch transportName {
	case "polling":
		b64 := r.URL.Query().Get("b64") == "1"
		pt := NewPollingTransport(!b64)
		transport = pt
	case "websocket":
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		transport = NewWebSocketTransport(conn)
	default:
		http.Error(w, "invalid transport", http.StatusBadRequest)
		return
	}

	upgrades := []string{}
	if transportName == "polling" {
		upgrades = []string{"websocket"}
	}

	sess := NewSession(sid, transport, SessionConfig{
		PingInterval:   s.cfg.PingInterval,
		PingTimeout:    s.cfg.PingTimeout,
		UpgradeTimeout: s.cfg.UpgradeTimeout,
		Upgrades:       upgrades,
	}, s.logger)
	for k, v := range ctx {
		sess.Context[k] = v
	}

	s.mu.Lock()
	s.sessions[sid] = sess
	s.mu.Unlock()
	s.metrics.ActiveSessions.Inc()

	sess.Events().Once("close", func(args ...any) {
		s.mu.Lock()
		delete(s.sessions, sid)
		s.mu.Unlock()
		s.metrics.ActiveSessions.Dec()
	}, s)

	http.SetCookie(w, &http.Cookie{Name: "io", Value: sid, Path: "/"})

	sess.Open()
	if transportName == "polling" {
		pt := transport.(*PollingTransport)
		pt.HandleGet(w, r)
	}
	if s.onOpen != nil {
		s.onOpen(sess)
	}
}

func (s *Server) servePolling(w http.ResponseWriter, r *http.Request, sess *Session) {
	sess.mu.Lock()
	t := sess.transport
	sess.mu.Unlock()
	pt, ok := t.(*PollingTransport)
	if !ok {
		http.Error(w, "session is not on a polling transport", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		pt.HandleGet(w, r)
	case http.MethodPost:
		pt.HandlePost(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) serveWebSocketUpgrade(w http.ResponseWriter, r *http.Request, sess *Session) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	candidate := NewWebSocketTransport(conn)
	s.metrics.Upgrades.Inc()
	sess.BeginUpgrade(candidate)
}

// Close tears down every live session (used on server shutdown).
func (s *Server) Close() {
	s.mu.RLock()
	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.RUnlock()
	for _, sess := range sessions {
		sess.Close()
	}
}
