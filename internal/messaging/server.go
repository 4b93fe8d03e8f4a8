package messaging

import (
	"sync"

	"github.com/sirupsen/logrus"

	"iorelay/internal/engineio"
)

// Server is the namespace registry sitting atop an engineio.Server (spec
// §3 C7's "registered namespace" notion plus the SUPPLEMENTED "Of(name)
// auto-registration convention"). Wire it to an engineio.Server by passing
// its OnEngineOpen method as that server's onOpen callback.
type Server struct {
	logger  logrus.FieldLogger
	metrics *Metrics

	mu         sync.Mutex
	namespaces map[string]*Namespace
}

// NewServer constructs a Server with the root namespace "/" already
// registered, matching socket.io's always-present default namespace.
func NewServer(logger logrus.FieldLogger, metrics *Metrics) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	s := &Server{logger: logger, metrics: metrics, namespaces: make(map[string]*Namespace)}
	s.Of("/")
	return s
}

// Of lazily creates and caches the Namespace named name, so hosts never need
// upfront registration beyond calling Of/On once during setup.
func (s *Server) Of(name string) *Namespace {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ns, ok := s.namespaces[name]; ok {
		return ns
	}
	ns := newNamespace(name, s.logger, s.metrics)
	s.namespaces[name] = ns
	return ns
}

// On registers fn to run for every socket that connects to the namespace
// named name, creating the namespace via Of if it doesn't exist yet.
func (s *Server) On(name string, fn func(*Socket)) {
	ns := s.Of(name)
	ns.On("connection", func(args ...any) { fn(args[0].(*Socket)) })
}

// lookupNamespace returns an already-registered namespace without creating
// one — this is what a Client's CONNECT handling uses, so a namespace path
// the host never called Of/On for surfaces as UNKNOWN_NAMESPACE.
func (s *Server) lookupNamespace(name string) (*Namespace, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ns, ok := s.namespaces[name]
	return ns, ok
}

// OnEngineOpen is the engineio.Server onOpen callback that attaches a fresh
// Messaging Client to a newly-handshaken Engine Session.
func (s *Server) OnEngineOpen(sess *engineio.Session) {
	client := newClient(sess, s)

	sess.Events().On("message", func(args ...any) {
		data, _ := args[0].([]byte)
		isBinary, _ := args[1].(bool)
		client.handleEngineMessage(data, isBinary)
	}, client)

	sess.Events().Once("close", func(args ...any) {
		client.onEngineClose()
	}, client)
}
