// Package presence implements the presence detection engine: the oracles
// that classify a fingerprint against a room, the per-room state machine
// that turns verdicts into membership-change events, and the scan scheduler
// that drives the whole pipeline.
package presence

import (
	"context"

	"github.com/geoping/geoping/pkg/rooms"
	"github.com/geoping/geoping/pkg/wifi"
)

// Verdict is an oracle's answer for one room and one fingerprint.
type Verdict int

const (
	// VerdictInconclusive means the tick produced no usable answer; the
	// previous presence state is retained.
	VerdictInconclusive Verdict = iota
	VerdictInside
	VerdictOutside
)

// String returns the string representation of the verdict.
func (v Verdict) String() string {
	switch v {
	case VerdictInside:
		return "inside"
	case VerdictOutside:
		return "outside"
	default:
		return "inconclusive"
	}
}

// Decision is a verdict with the classifier's confidence in it.
type Decision struct {
	Verdict    Verdict
	Confidence float64
}

// Oracle classifies a fingerprint against a room. Implementations:
// Hysteresis (local signal-strength thresholds) and Remote (server-side
// confidence scoring). Selected at construction time by deployment mode.
type Oracle interface {
	Classify(ctx context.Context, room rooms.Room, fp wifi.Fingerprint) (Decision, error)
}

// Classify runs the oracle with the creator override applied: a room owned
// by the current user is always inside with confidence 1.0, regardless of
// fingerprint content. Ownership implies unconditional access.
func Classify(ctx context.Context, o Oracle, room rooms.Room, fp wifi.Fingerprint) (Decision, error) {
	if room.Creator {
		return Decision{Verdict: VerdictInside, Confidence: 1.0}, nil
	}
	return o.Classify(ctx, room, fp)
}
