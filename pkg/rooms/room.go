// Package rooms holds the room model and the durable membership store.
//
// A room couples a messaging scope with an optional physical coverage area
// (its Wi-Fi SSID). Subscriptions are durable user→room interest records,
// independent of momentary presence; they are what the presence monitor
// consults when deciding which rooms a detected network may open.
package rooms

import (
	"strings"

	"github.com/google/uuid"

	"github.com/geoping/geoping/pkg/jsontime"
)

// Room is the unit of both physical coverage and messaging-channel scoping.
type Room struct {
	// ID uniquely identifies the room. Immutable once created.
	ID string `json:"id"`

	// Name is the human-readable room name.
	Name string `json:"name"`

	// SSID is the Wi-Fi network tied to the room. Empty for virtual rooms,
	// which are never auto-entered by signal.
	SSID string `json:"ssid,omitempty"`

	// Creator marks a room owned by the current user. Ownership implies
	// unconditional access: presence classification is bypassed.
	Creator bool `json:"creator,omitempty"`

	// CreatedAt is the creation time in epoch milliseconds.
	CreatedAt jsontime.Milli `json:"created"`
}

// New creates a room with a fresh ID.
func New(name, ssid string) Room {
	return Room{
		ID:        uuid.New().String(),
		Name:      name,
		SSID:      ssid,
		CreatedAt: jsontime.NowEpochMilli(),
	}
}

// Virtual reports whether the room has no physical coverage area.
func (r Room) Virtual() bool {
	return r.SSID == ""
}

// MatchesSSID reports whether the given network name matches the room's
// SSID. Quotes are stripped on both sides; virtual rooms never match.
func (r Room) MatchesSSID(ssid string) bool {
	if r.Virtual() {
		return false
	}
	return strings.Trim(r.SSID, `"`) == strings.Trim(ssid, `"`)
}
