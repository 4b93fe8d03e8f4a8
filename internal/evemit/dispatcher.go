// Package evemit implements a keyed multi-listener event dispatcher shared by
// the engine and messaging layers, replacing the mix-in/inheritance based
// event emitters of the system this server is modeled after.
package evemit

import "sync"

// Listener receives the positional arguments passed to Emit.
type Listener func(args ...any)

type entry struct {
	event   string
	fn      Listener
	owner   any
	once    bool
	removed bool
}

// Dispatcher is a registry of (event -> []Listener) supporting owner-keyed
// bulk removal and one-shot listeners. A zero Dispatcher is not usable; use
// New.
type Dispatcher struct {
	mu        sync.Mutex
	listeners map[string][]*entry
	onError   func(event string, r any)
}

// New returns a ready Dispatcher. onError, if non-nil, is invoked (outside
// the dispatcher's lock) whenever a listener panics; the panic is otherwise
// swallowed so that it never prevents other listeners for the same Emit from
// running.
func New(onError func(event string, r any)) *Dispatcher {
	return &Dispatcher{
		listeners: make(map[string][]*entry),
		onError:   onError,
	}
}

// On registers fn for event. ownerKey, when non-nil, allows later bulk
// removal via RemoveByOwner. Duplicate registrations are allowed.
func (d *Dispatcher) On(event string, fn Listener, ownerKey any) {
	d.add(event, fn, ownerKey, false)
}

// Once registers fn to run at most once; the listener removes itself
// atomically with dispatch, before fn is invoked, so re-entrant emits during
// fn cannot observe it twice.
func (d *Dispatcher) Once(event string, fn Listener, ownerKey any) {
	d.add(event, fn, ownerKey, true)
}

func (d *Dispatcher) add(event string, fn Listener, ownerKey any, once bool) {
	e := &entry{event: event, fn: fn, owner: ownerKey, once: once}
	d.mu.Lock()
	d.listeners[event] = append(d.listeners[event], e)
	d.mu.Unlock()
}

// Remove removes the first listener registered for event whose function
// value matches fn. Go cannot compare arbitrary func values, so callers that
// need single-listener removal should keep the Listener value they passed to
// On and pass that same value back here. Comparison is by function code
// pointer via reflect.Value.Pointer (see funcptr.go), so closures created
// from the same function literal compare equal. Remove is a no-op if fn was
// never registered.
func (d *Dispatcher) Remove(event string, fn Listener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	list := d.listeners[event]
	for i, e := range list {
		if funcsEqual(e.fn, fn) {
			e.removed = true
			d.listeners[event] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// RemoveByOwner removes every listener registered under ownerKey. If event is
// non-empty only that event's listeners are affected; otherwise every event
// is scanned.
func (d *Dispatcher) RemoveByOwner(ownerKey any, event string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for evt, list := range d.listeners {
		if event != "" && evt != event {
			continue
		}
		kept := list[:0:0]
		for _, e := range list {
			if e.owner == ownerKey {
				e.removed = true
				continue
			}
			kept = append(kept, e)
		}
		d.listeners[evt] = kept
	}
}

// Emit invokes every listener registered for event, in registration order, at
// the moment Emit was called. Listeners added during this Emit are not
// invoked by it; listeners removed during this Emit are skipped if not yet
// reached.
func (d *Dispatcher) Emit(event string, args ...any) {
	d.mu.Lock()
	snapshot := make([]*entry, len(d.listeners[event]))
	copy(snapshot, d.listeners[event])
	d.mu.Unlock()

	for _, e := range snapshot {
		if e.removed {
			continue
		}
		if e.once {
			d.mu.Lock()
			if e.removed {
				d.mu.Unlock()
				continue
			}
			e.removed = true
			list := d.listeners[event]
			for i, cur := range list {
				if cur == e {
					d.listeners[event] = append(list[:i:i], list[i+1:]...)
					break
				}
			}
			d.mu.Unlock()
		}
		d.invoke(e, args)
	}
}

func (d *Dispatcher) invoke(e *entry, args []any) {
	defer func() {
		if r := recover(); r != nil && d.onError != nil {
			d.onError(e.event, r)
		}
	}()
	e.fn(args...)
}

// funcsEqual reports whether two Listener values reference the same
// underlying function, via a type trick: Go forbids direct func comparison,
// so we compare the listeners by invoking reflect.Value.Pointer through
// listenerPointer in funcptr.go.
func funcsEqual(a, b Listener) bool {
	return listenerPointer(a) == listenerPointer(b)
}
