package presence

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/geoping/geoping/pkg/jsontime"
)

// State is the per-room presence state.
type State int

const (
	StateOutside State = iota
	StateEntering
	StateInside
	StateExiting
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateEntering:
		return "entering"
	case StateInside:
		return "inside"
	case StateExiting:
		return "exiting"
	default:
		return "outside"
	}
}

// MarshalJSON implements json.Marshaler.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// joined reports whether the room's messaging membership is active in this
// state. Exiting counts: the exit has not been confirmed yet, so the room
// has not been left.
func (s State) joined() bool {
	return s == StateInside || s == StateExiting
}

// EventKind tags a membership-change event.
type EventKind int

const (
	RoomEntered EventKind = iota
	RoomExited
)

// String returns the string representation of the event kind.
func (k EventKind) String() string {
	if k == RoomEntered {
		return "room_entered"
	}
	return "room_exited"
}

// Event is an edge-triggered membership change for one room. Events fire
// only on actual transitions, never on repeated identical verdicts.
type Event struct {
	Kind       EventKind
	RoomID     string
	Confidence float64
	Time       time.Time
}

// Record is the per-room transient presence state.
type Record struct {
	RoomID      string         `json:"room_id"`
	State       State          `json:"state"`
	Confidence  float64        `json:"confidence"`
	LastUpdated jsontime.Milli `json:"last_updated"`
}

type record struct {
	Record
	streak int // consecutive verdicts toward the pending transition
}

type subscription struct {
	id int
	fn func(Event)
}

// Tracker owns the presence state machine for every monitored room. A
// configurable confirmation count debounces transitions: 1 means a verdict
// flips the state immediately (the hysteresis oracle already debounces),
// higher values require that many consecutive confirming verdicts and
// expose the intermediate Entering/Exiting states (used with the remote
// confidence oracle).
//
// Handlers registered with Subscribe run synchronously inside Observe and
// Drop, in registration order, so membership changes reach the channel
// manager within the tick that detected them and in transition order.
// Handlers must not call back into the Tracker.
type Tracker struct {
	mu      sync.Mutex
	confirm int
	records map[string]*record
	subs    []subscription
	nextSub int
}

// NewTracker creates a Tracker requiring the given number of consecutive
// confirming verdicts per transition. Values below 1 are treated as 1.
func NewTracker(confirm int) *Tracker {
	if confirm < 1 {
		confirm = 1
	}
	return &Tracker{
		confirm: confirm,
		records: make(map[string]*record),
	}
}

// Subscribe registers a handler for membership-change events. The returned
// function deregisters it; deregistration is deterministic and idempotent.
func (t *Tracker) Subscribe(fn func(Event)) (cancel func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextSub
	t.nextSub++
	t.subs = append(t.subs, subscription{id: id, fn: fn})
	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		for i, sub := range t.subs {
			if sub.id == id {
				t.subs = append(t.subs[:i], t.subs[i+1:]...)
				return
			}
		}
	}
}

// Observe feeds one oracle decision for a room into the state machine.
// Inconclusive verdicts leave the record untouched entirely, so a failed
// tick cannot corrupt state. The whole update, including event dispatch,
// is one critical section: overlapping ticks from two schedulers cannot
// interleave half-applied transitions for the same room.
func (t *Tracker) Observe(roomID string, d Decision) {
	if d.Verdict == VerdictInconclusive {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[roomID]
	if !ok {
		rec = &record{Record: Record{RoomID: roomID}}
		t.records[roomID] = rec
	}

	now := jsontime.NowEpochMilli()
	var events []Event

	switch rec.State {
	case StateOutside:
		if d.Verdict == VerdictInside {
			if t.confirm == 1 {
				rec.State = StateInside
				events = append(events, Event{Kind: RoomEntered, RoomID: roomID, Confidence: d.Confidence, Time: now.Time()})
			} else {
				rec.State = StateEntering
				rec.streak = 1
			}
		} else {
			rec.streak = 0
		}

	case StateEntering:
		if d.Verdict == VerdictInside {
			rec.streak++
			if rec.streak >= t.confirm {
				rec.State = StateInside
				rec.streak = 0
				events = append(events, Event{Kind: RoomEntered, RoomID: roomID, Confidence: d.Confidence, Time: now.Time()})
			}
		} else {
			rec.State = StateOutside
			rec.streak = 0
		}

	case StateInside:
		if d.Verdict == VerdictOutside {
			if t.confirm == 1 {
				rec.State = StateOutside
				events = append(events, Event{Kind: RoomExited, RoomID: roomID, Confidence: d.Confidence, Time: now.Time()})
			} else {
				rec.State = StateExiting
				rec.streak = 1
			}
		} else {
			rec.streak = 0
		}

	case StateExiting:
		if d.Verdict == VerdictOutside {
			rec.streak++
			if rec.streak >= t.confirm {
				rec.State = StateOutside
				rec.streak = 0
				events = append(events, Event{Kind: RoomExited, RoomID: roomID, Confidence: d.Confidence, Time: now.Time()})
			}
		} else {
			rec.State = StateInside
			rec.streak = 0
		}
	}

	rec.Confidence = d.Confidence
	rec.LastUpdated = now

	t.dispatchLocked(events)
}

// Drop removes a room's record, emitting exactly one RoomExited if the room
// was still joined. Used when a subscription is revoked: membership
// revocation overrides presence.
func (t *Tracker) Drop(roomID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[roomID]
	if !ok {
		return
	}
	delete(t.records, roomID)

	if rec.State.joined() {
		t.dispatchLocked([]Event{{
			Kind:       RoomExited,
			RoomID:     roomID,
			Confidence: rec.Confidence,
			Time:       time.Now(),
		}})
	}
}

// Discard silently removes a stale record. It only acts when the room is
// not joined; a joined room must go through Observe or Drop so the exit
// event fires. Reports whether the record was removed.
func (t *Tracker) Discard(roomID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[roomID]
	if !ok || rec.State.joined() {
		return false
	}
	delete(t.records, roomID)
	return true
}

// Lookup returns a copy of the room's presence record.
func (t *Tracker) Lookup(roomID string) (Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[roomID]
	if !ok {
		return Record{}, false
	}
	return rec.Record, true
}

// TrackedIDs returns the IDs of all rooms with a presence record, sorted.
func (t *Tracker) TrackedIDs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.records))
	for id := range t.records {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// InsideRooms returns the IDs of all rooms whose membership is currently
// active, sorted.
func (t *Tracker) InsideRooms() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []string
	for id, rec := range t.records {
		if rec.State.joined() {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func (t *Tracker) dispatchLocked(events []Event) {
	for _, ev := range events {
		for _, sub := range t.subs {
			sub.fn(ev)
		}
	}
}
