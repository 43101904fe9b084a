package presence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/geoping/geoping/pkg/auth"
	"github.com/geoping/geoping/pkg/rooms"
	"github.com/geoping/geoping/pkg/wifi"
)

// Scan intervals for the two deployment modes.
const (
	DefaultMonitorInterval = 10 * time.Second
	CollectionInterval     = 3 * time.Second
)

// DefaultDropAfter is how many consecutive scans a room's network may be
// absent before its presence record is discarded.
const DefaultDropAfter = 3

// ErrRunning is returned by Start when the monitor is already running.
var ErrRunning = errors.New("presence: monitor already running")

// MonitorConfig wires a Monitor's collaborators.
type MonitorConfig struct {
	Scanner wifi.Scanner
	Oracle  Oracle
	Tracker *Tracker
	Rooms   *rooms.Store

	// Interval between scan ticks. Default 10s.
	Interval time.Duration

	// DropAfter is the number of consecutive absent scans before a stale
	// presence record is discarded. Default 3.
	DropAfter int

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Status, if set, receives the human-readable status line after every
	// tick (the notification surface).
	Status func(string)

	// OnAuthExpired, if set, is called when the oracle reports an expired
	// credential. The monitor keeps ticking; supplying a fresh credential
	// is the caller's business.
	OnAuthExpired func()
}

// Monitor is the scan scheduler: a periodic, cancellable loop driving
// scan → classify → track. At most one tick is in flight at a time; the
// timer is re-armed only after the previous tick fully resolves, so a slow
// oracle round trip can never overlap the next scan for this scheduler.
//
// Multiple monitors (a foreground screen's and the long-running background
// service's) may run concurrently against the same Tracker and channel
// manager; per-room updates stay consistent because the Tracker applies
// each observation as one critical section.
type Monitor struct {
	cfg MonitorConfig

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	// misses counts consecutive ticks per room where the room's network was
	// absent from the fingerprint. Only touched from the tick loop.
	misses map[string]int
}

// NewMonitor validates the config and creates a stopped monitor.
func NewMonitor(cfg MonitorConfig) (*Monitor, error) {
	if cfg.Scanner == nil || cfg.Oracle == nil || cfg.Tracker == nil || cfg.Rooms == nil {
		return nil, errors.New("presence: MonitorConfig requires Scanner, Oracle, Tracker, and Rooms")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultMonitorInterval
	}
	if cfg.DropAfter <= 0 {
		cfg.DropAfter = DefaultDropAfter
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Monitor{
		cfg:    cfg,
		misses: make(map[string]int),
	}, nil
}

// Start begins the scan cycle. The first tick fires immediately. Returns
// ErrRunning if the cycle is already active.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return ErrRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.cancel = cancel
	m.done = done

	go m.run(runCtx, done)
	return nil
}

// Stop cancels the cycle and waits for any in-flight tick to finish.
// Idempotent.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	done := m.done
	m.cancel = nil
	m.done = nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (m *Monitor) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			m.tick(ctx)
			// Re-arm only after the tick resolved: one in-flight tick.
			timer.Reset(m.cfg.Interval)
		}
	}
}

// tick performs one scan-and-classify pass. Failures are never fatal: the
// worst outcome is that this tick contributes nothing and the next one
// runs on schedule.
func (m *Monitor) tick(ctx context.Context) {
	log := m.cfg.Logger

	fp, err := m.cfg.Scanner.Scan(ctx)
	if err != nil {
		switch {
		case errors.Is(err, context.Canceled):
		case errors.Is(err, wifi.ErrPermissionDenied):
			log.Warn("wifi scan permission denied; presence unknown", "error", err)
			m.status("scan permission denied")
		case errors.Is(err, wifi.ErrThrottled):
			log.Debug("wifi scan throttled; skipping tick")
		default:
			log.Warn("wifi scan failed; skipping tick", "error", err)
		}
		return
	}

	subscribed, err := m.cfg.Rooms.SubscribedRooms(ctx)
	if err != nil {
		log.Warn("subscription lookup failed; skipping tick", "error", err)
		return
	}

	subIDs := make([]string, 0, len(subscribed))
	for _, room := range subscribed {
		subIDs = append(subIDs, room.ID)
	}

	// Records for rooms no longer subscribed are dropped, exiting them if
	// they were still joined.
	for _, id := range m.cfg.Tracker.TrackedIDs() {
		if !slices.Contains(subIDs, id) {
			m.cfg.Tracker.Drop(id)
			m.forgetRoom(id)
		}
	}

	for _, room := range subscribed {
		if ctx.Err() != nil {
			return
		}
		// Virtual rooms are never auto-entered by signal; creator-owned
		// ones still classify (always inside).
		if room.Virtual() && !room.Creator {
			continue
		}

		d, err := Classify(ctx, m.cfg.Oracle, room, fp)
		if err != nil {
			if errors.Is(err, auth.ErrUnauthorized) {
				log.Warn("presence credential expired", "room", room.ID)
				m.status("session expired, log in again")
				if m.cfg.OnAuthExpired != nil {
					m.cfg.OnAuthExpired()
				}
			} else if !errors.Is(err, context.Canceled) {
				log.Warn("classification inconclusive", "room", room.ID, "error", err)
			}
			// Inconclusive: the previous record is retained untouched.
			continue
		}

		m.cfg.Tracker.Observe(room.ID, d)
		m.trackMisses(room, fp)
	}

	m.reportStatus(len(subscribed))
}

// trackMisses discards presence records for rooms whose network has been
// absent for DropAfter consecutive scans. Joined rooms are never discarded
// this way; they leave through the state machine.
func (m *Monitor) trackMisses(room rooms.Room, fp wifi.Fingerprint) {
	_, found := fp.Find(room.SSID)
	if found || room.Creator {
		m.misses[room.ID] = 0
		return
	}
	m.misses[room.ID]++
	if m.misses[room.ID] < m.cfg.DropAfter {
		return
	}
	if m.cfg.Tracker.Discard(room.ID) {
		m.cfg.Logger.Debug("discarded stale presence record", "room", room.ID)
		m.forgetRoom(room.ID)
	}
}

// forgetRoom clears scheduler-side and oracle-side state for a room.
func (m *Monitor) forgetRoom(roomID string) {
	delete(m.misses, roomID)
	if f, ok := m.cfg.Oracle.(interface{ Forget(string) }); ok {
		f.Forget(roomID)
	}
}

func (m *Monitor) reportStatus(subscribed int) {
	inside := len(m.cfg.Tracker.InsideRooms())
	m.status(fmt.Sprintf("inside %d of %d subscribed rooms", inside, subscribed))
}

func (m *Monitor) status(text string) {
	if m.cfg.Status != nil {
		m.cfg.Status(text)
	}
}
