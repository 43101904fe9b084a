package wifi

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/geoping/geoping/pkg/jsontime"
)

// Replay is a Scanner that plays back a recorded sequence of fingerprints,
// one per Scan call. When the sequence is exhausted it either loops or keeps
// returning the last fingerprint, depending on Loop.
type Replay struct {
	mu    sync.Mutex
	fps   []Fingerprint
	index int

	// Loop restarts from the beginning once the sequence is exhausted.
	Loop bool
}

// NewReplay creates a Replay scanner over the given fingerprints.
func NewReplay(fps ...Fingerprint) *Replay {
	return &Replay{fps: fps}
}

// LoadReplay reads newline-delimited JSON fingerprints from r.
// Blank lines are skipped. Each line is one Fingerprint object.
func LoadReplay(r io.Reader) (*Replay, error) {
	var fps []Fingerprint
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	line := 0
	for sc.Scan() {
		line++
		raw := sc.Bytes()
		if len(raw) == 0 {
			continue
		}
		var fp Fingerprint
		if err := json.Unmarshal(raw, &fp); err != nil {
			return nil, fmt.Errorf("wifi: replay line %d: %w", line, err)
		}
		fps = append(fps, fp)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("wifi: replay read: %w", err)
	}
	return NewReplay(fps...), nil
}

// LoadReplayFile reads a replay sequence from a file.
func LoadReplayFile(path string) (*Replay, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadReplay(f)
}

// Scan returns the next fingerprint in the sequence. The Taken stamp is
// rewritten to the scan time so replayed records look freshly captured.
func (r *Replay) Scan(ctx context.Context) (Fingerprint, error) {
	if err := ctx.Err(); err != nil {
		return Fingerprint{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.fps) == 0 {
		return Fingerprint{}, ErrRadioOff
	}
	fp := r.fps[r.index]
	if r.index < len(r.fps)-1 {
		r.index++
	} else if r.Loop {
		r.index = 0
	}
	fp.Taken = jsontime.NowEpochMilli()
	return fp, nil
}
