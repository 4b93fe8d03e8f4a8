package messaging

import "sync"

// Adapter holds a Namespace's room membership as two inverse mappings (spec
// §3): sids: id -> rooms, rooms: room -> ids. Grounded on
// _examples/original_source/socketio/adapter.py's Adapter class.
type Adapter struct {
	mu    sync.Mutex
	sids  map[string]map[string]struct{}
	rooms map[string]map[string]struct{}
}

// NewAdapter returns an empty adapter.
func NewAdapter() *Adapter {
	return &Adapter{
		sids:  make(map[string]map[string]struct{}),
		rooms: make(map[string]map[string]struct{}),
	}
}

// Add joins id to room, maintaining both mappings.
func (a *Adapter) Add(id, room string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sids[id] == nil {
		a.sids[id] = make(map[string]struct{})
	}
	a.sids[id][room] = struct{}{}
	if a.rooms[room] == nil {
		a.rooms[room] = make(map[string]struct{})
	}
	a.rooms[room][id] = struct{}{}
}

// Remove leaves id from room, pruning the room if it becomes empty and
// pruning id's own entry in sids if it no longer belongs to any room.
func (a *Adapter) Remove(id, room string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.removeLocked(id, room)
}

func (a *Adapter) removeLocked(id, room string) {
	if rs, ok := a.sids[id]; ok {
		delete(rs, room)
		if len(rs) == 0 {
			delete(a.sids, id)
		}
	}
	if ids, ok := a.rooms[room]; ok {
		delete(ids, id)
		if len(ids) == 0 {
			delete(a.rooms, room)
		}
	}
}

// RemoveAll purges id from every room it belongs to (spec §9's open-question
// resolution: iterate a snapshot of the socket's room set, remove each
// pairing through the same remove path, then drop the id's entry in sids).
func (a *Adapter) RemoveAll(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	rs, ok := a.sids[id]
	if !ok {
		return
	}
	snapshot := make([]string, 0, len(rs))
	for room := range rs {
		snapshot = append(snapshot, room)
	}
	for _, room := range snapshot {
		a.removeLocked(id, room)
	}
	delete(a.sids, id)
}

// Rooms returns the rooms id currently belongs to.
func (a *Adapter) Rooms(id string) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	rs, ok := a.sids[id]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(rs))
	for r := range rs {
		out = append(out, r)
	}
	return out
}

// AllIDs returns every id with at least one room membership (used by
// broadcasts with no target rooms, which fan out to the whole namespace).
func (a *Adapter) AllIDs() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.sids))
	for id := range a.sids {
		out = append(out, id)
	}
	return out
}

// IDsForRooms returns the union of ids across rooms, in first-seen order,
// de-duplicated so a socket belonging to two targeted rooms still appears
// once (spec §4.7 broadcast step 3).
func (a *Adapter) IDsForRooms(rooms []string) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	seen := make(map[string]struct{})
	var out []string
	for _, room := range rooms {
		for id := range a.rooms[room] {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}
