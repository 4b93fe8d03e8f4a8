package engineio

import (
	"io"
	"net/http"
	"sync"
	"time"

	"iorelay/internal/evemit"
)

// PollingTransport implements the long-poll GET / data POST transport
// described in spec §4.4. It owns at most one parked GET (the "poll") and
// serves POSTs independently, serializing writes against Pause via writeWG.
type PollingTransport struct {
	dispatcher *evemit.Dispatcher

	mu             sync.Mutex
	state          transportState
	supportsBinary bool
	writeBuffer    []Packet
	pendingPoll    chan []Packet
	pollDone       chan struct{}

	writeWG sync.WaitGroup

	writeTimeout time.Duration
}

// NewPollingTransport constructs a polling transport. supportsBinary is
// false whenever the handshake carried b64=1.
func NewPollingTransport(supportsBinary bool) *PollingTransport {
	return &PollingTransport{
		dispatcher:     evemit.New(nil),
		state:          transportOpen,
		supportsBinary: supportsBinary,
		writeTimeout:   10 * time.Second,
	}
}

func (t *PollingTransport) Name() string              { return "polling" }
func (t *PollingTransport) Events() *evemit.Dispatcher { return t.dispatcher }
func (t *PollingTransport) SupportsBinary() bool       { return t.supportsBinary }

func (t *PollingTransport) Writable() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state == transportOpen
}

// Send appends packets to the write buffer, or, if a GET is currently
// parked waiting, hands them directly to it and emits drain.
func (t *PollingTransport) Send(packets []Packet) error {
	t.mu.Lock()
	if t.state != transportOpen {
		t.mu.Unlock()
		return nil
	}
	if t.pendingPoll != nil {
		ch := t.pendingPoll
		t.pendingPoll = nil
		t.mu.Unlock()
		ch <- packets
		t.dispatcher.Emit("drain")
		return nil
	}
	t.writeBuffer = append(t.writeBuffer, packets...)
	t.mu.Unlock()
	return nil
}

// HandleGet serves the long-held poll request.
func (t *PollingTransport) HandleGet(w http.ResponseWriter, r *http.Request) {
	t.mu.Lock()
	if t.state != transportOpen {
		t.mu.Unlock()
		http.Error(w, "transport not open", http.StatusGone)
		return
	}
	if len(t.writeBuffer) > 0 {
		batch := t.writeBuffer
		t.writeBuffer = nil
		t.mu.Unlock()
		t.writeWG.Add(1)
		t.writeResponse(w, batch)
		t.writeWG.Done()
		t.dispatcher.Emit("drain")
		return
	}
	if t.pendingPoll != nil {
		t.mu.Unlock()
		http.Error(w, "poll already in progress", http.StatusBadRequest)
		return
	}
	ch := make(chan []Packet, 1)
	done := make(chan struct{})
	t.pendingPoll = ch
	t.pollDone = done
	t.mu.Unlock()

	defer close(done)
	select {
	case batch := <-ch:
		t.writeWG.Add(1)
		t.writeResponse(w, batch)
		t.writeWG.Done()
	case <-r.Context().Done():
		t.mu.Lock()
		if t.pendingPoll == ch {
			t.pendingPoll = nil
		}
		t.mu.Unlock()
	}
}

// HandlePost decodes the inbound payload and dispatches each packet.
func (t *PollingTransport) HandlePost(w http.ResponseWriter, r *http.Request) {
	t.mu.Lock()
	if t.state != transportOpen {
		t.mu.Unlock()
		http.Error(w, "transport not open", http.StatusGone)
		return
	}
	t.mu.Unlock()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
	if err != nil {
		t.dispatcher.Emit("error", err)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	var packets []Packet
	if t.supportsBinary {
		packets, err = DecodePayloadBinary(body)
	} else {
		packets, err = DecodePayloadText(body)
	}
	if err != nil {
		t.dispatcher.Emit("error", err)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	for _, p := range packets {
		t.dispatcher.Emit("packet", p)
		if p.Type == PacketClose {
			t.dispatcher.Emit("close")
		}
	}

	w.Header().Set("Content-Type", "text/plain; charset=UTF-8")
	_, _ = w.Write([]byte("ok"))
}

// Pause blocks new polls, waits for any in-flight poll/write to finish, then
// invokes onPause. See spec §4.4.
func (t *PollingTransport) Pause(onPause func()) {
	t.mu.Lock()
	t.state = transportPausing
	pollDone := t.pollDone
	t.mu.Unlock()

	if pollDone != nil {
		<-pollDone
	}
	t.writeWG.Wait()

	t.mu.Lock()
	t.state = transportPaused
	t.mu.Unlock()

	onPause()
}

func (t *PollingTransport) Close() error {
	t.mu.Lock()
	if t.state == transportClosed {
		t.mu.Unlock()
		return nil
	}
	t.state = transportClosed
	pending := t.pendingPoll
	t.pendingPoll = nil
	t.mu.Unlock()

	if pending != nil {
		close(pending)
	}
	t.dispatcher.Emit("close")
	return nil
}

func (t *PollingTransport) writeResponse(w http.ResponseWriter, batch []Packet) {
	var body []byte
	if t.supportsBinary {
		body = EncodePayloadBinary(batch)
		w.Header().Set("Content-Type", "application/octet-stream")
	} else {
		body = EncodePayloadText(batch)
		w.Header().Set("Content-Type", "text/plain; charset=UTF-8")
	}
	_, _ = w.Write(body)
}

const maxPayloadBytes = 1_000_000
