package presence

import (
	"context"
	"fmt"
	"sync"

	"github.com/geoping/geoping/pkg/rooms"
	"github.com/geoping/geoping/pkg/wifi"
)

// Default signal-strength thresholds in dBm. The gap between them is the
// hysteresis dead zone: readings inside it keep the previous verdict, so a
// device sitting at the coverage boundary does not flap.
const (
	DefaultEnterThreshold = -75
	DefaultExitThreshold  = -85
)

// Hysteresis is the local presence oracle. It compares the strongest
// observation of the room's network against two thresholds:
//
//	RSSI > EnterThreshold          -> inside
//	RSSI < ExitThreshold           -> outside
//	network absent                 -> outside
//	otherwise (dead zone)          -> previous verdict retained
//
// The oracle is stateful per room (it remembers the last verdict for the
// dead zone); call Forget when a room's presence record is discarded.
type Hysteresis struct {
	enter int
	exit  int

	mu   sync.Mutex
	last map[string]Verdict
}

// NewHysteresis creates a local oracle with the given thresholds in dBm.
// Zero values select the defaults.
func NewHysteresis(enter, exit int) (*Hysteresis, error) {
	if enter == 0 {
		enter = DefaultEnterThreshold
	}
	if exit == 0 {
		exit = DefaultExitThreshold
	}
	if enter <= exit {
		return nil, fmt.Errorf("presence: enter threshold %d dBm must be above exit threshold %d dBm", enter, exit)
	}
	return &Hysteresis{
		enter: enter,
		exit:  exit,
		last:  make(map[string]Verdict),
	}, nil
}

// Classify applies the threshold rules. It never returns an error: a scan
// that reached this point always yields a definitive verdict (possibly the
// retained previous one).
func (h *Hysteresis) Classify(_ context.Context, room rooms.Room, fp wifi.Fingerprint) (Decision, error) {
	if room.Virtual() {
		return Decision{Verdict: VerdictOutside, Confidence: 1.0}, nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	prev, seen := h.last[room.ID]

	var verdict Verdict
	obs, found := fp.Find(room.SSID)
	switch {
	case !found:
		verdict = VerdictOutside
	case obs.RSSI > h.enter:
		verdict = VerdictInside
	case obs.RSSI < h.exit:
		verdict = VerdictOutside
	default:
		// Dead zone: retain the previous verdict.
		if !seen {
			verdict = VerdictOutside
		} else {
			verdict = prev
		}
	}

	h.last[room.ID] = verdict
	return Decision{Verdict: verdict, Confidence: 1.0}, nil
}

// Forget drops the retained verdict for a room.
func (h *Hysteresis) Forget(roomID string) {
	h.mu.Lock()
	delete(h.last, roomID)
	h.mu.Unlock()
}
