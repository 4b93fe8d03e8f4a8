package engineio

import "iorelay/internal/evemit"

// transportState is shared by both transport implementations; see spec §4.4.
type transportState int

const (
	transportNew transportState = iota
	transportOpening
	transportOpen
	transportPausing
	transportPaused
	transportClosed
)

// Transport is the common contract both the polling and websocket
// implementations satisfy. Events emitted on Events(): "packet" (Packet),
// "drain" (), "error" (error), "close" ().
type Transport interface {
	Name() string
	Writable() bool
	Send(packets []Packet) error
	Close() error
	Events() *evemit.Dispatcher
}

// Pausable is implemented only by the polling transport; see spec §4.4.
type Pausable interface {
	Pause(onPause func())
}
