package rooms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/geoping/geoping/pkg/kv"
)

// ErrNotFound is returned when a room does not exist in the store.
var ErrNotFound = errors.New("rooms: not found")

// Store persists rooms, subscriptions, and the install-level settings
// (selected room, server endpoint) in a kv.Store. All writes are
// synchronous-on-call: they are visible to subsequent reads as soon as the
// method returns.
type Store struct {
	kv kv.Store
}

// Key layout under the backing store.
var (
	keyRecord   = kv.Key{"room", "record"}   // room:record:<id> -> Room JSON
	keySub      = kv.Key{"room", "sub"}      // room:sub:<id>    -> "1"
	keySelected = kv.Key{"setting", "selected"}
	keyEndpoint = kv.Key{"setting", "endpoint"}
)

// NewStore creates a Store over the given kv backend.
func NewStore(backend kv.Store) *Store {
	return &Store{kv: backend}
}

// Save writes a room record, overwriting any previous version.
func (s *Store) Save(ctx context.Context, room Room) error {
	if room.ID == "" {
		return errors.New("rooms: room ID is empty")
	}
	raw, err := json.Marshal(room)
	if err != nil {
		return fmt.Errorf("rooms: encode room: %w", err)
	}
	return s.kv.Set(ctx, append(keyRecord, room.ID), raw)
}

// Get returns a room by ID. Returns ErrNotFound if absent.
func (s *Store) Get(ctx context.Context, roomID string) (Room, error) {
	raw, err := s.kv.Get(ctx, append(keyRecord, roomID))
	if errors.Is(err, kv.ErrNotFound) {
		return Room{}, ErrNotFound
	}
	if err != nil {
		return Room{}, err
	}
	var room Room
	if err := json.Unmarshal(raw, &room); err != nil {
		return Room{}, fmt.Errorf("rooms: decode room %s: %w", roomID, err)
	}
	return room, nil
}

// All returns every stored room, sorted by name for stable display order.
func (s *Store) All(ctx context.Context) ([]Room, error) {
	var out []Room
	for entry, err := range s.kv.List(ctx, keyRecord) {
		if err != nil {
			return nil, err
		}
		var room Room
		if err := json.Unmarshal(entry.Value, &room); err != nil {
			return nil, fmt.Errorf("rooms: decode room %s: %w", entry.Key, err)
		}
		out = append(out, room)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Remove deletes a room record and its subscription, if any.
func (s *Store) Remove(ctx context.Context, roomID string) error {
	if err := s.kv.Delete(ctx, append(keySub, roomID)); err != nil {
		return err
	}
	return s.kv.Delete(ctx, append(keyRecord, roomID))
}

// BySSID returns every room whose coverage network matches the given SSID.
func (s *Store) BySSID(ctx context.Context, ssid string) ([]Room, error) {
	all, err := s.All(ctx)
	if err != nil {
		return nil, err
	}
	var out []Room
	for _, room := range all {
		if room.MatchesSSID(ssid) {
			out = append(out, room)
		}
	}
	return out, nil
}

// Subscribe records a durable subscription to a room. The room must exist.
func (s *Store) Subscribe(ctx context.Context, roomID string) error {
	if _, err := s.Get(ctx, roomID); err != nil {
		return err
	}
	return s.kv.Set(ctx, append(keySub, roomID), []byte("1"))
}

// Unsubscribe removes the subscription. No error if not subscribed.
func (s *Store) Unsubscribe(ctx context.Context, roomID string) error {
	return s.kv.Delete(ctx, append(keySub, roomID))
}

// IsSubscribed reports whether the room has a durable subscription.
func (s *Store) IsSubscribed(ctx context.Context, roomID string) (bool, error) {
	_, err := s.kv.Get(ctx, append(keySub, roomID))
	if errors.Is(err, kv.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// SubscribedIDs returns the IDs of all subscribed rooms.
func (s *Store) SubscribedIDs(ctx context.Context) ([]string, error) {
	var out []string
	for entry, err := range s.kv.List(ctx, keySub) {
		if err != nil {
			return nil, err
		}
		out = append(out, entry.Key[len(entry.Key)-1])
	}
	return out, nil
}

// SubscribedRooms returns the full room records for all subscriptions,
// sorted by name. Subscriptions whose room record has been removed are
// skipped.
func (s *Store) SubscribedRooms(ctx context.Context) ([]Room, error) {
	ids, err := s.SubscribedIDs(ctx)
	if err != nil {
		return nil, err
	}
	var out []Room
	for _, id := range ids {
		room, err := s.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, room)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Select marks a room as the currently selected one.
func (s *Store) Select(ctx context.Context, roomID string) error {
	if _, err := s.Get(ctx, roomID); err != nil {
		return err
	}
	return s.kv.Set(ctx, keySelected, []byte(roomID))
}

// Selected returns the currently selected room, or ErrNotFound if none is
// selected or the selected room no longer exists.
func (s *Store) Selected(ctx context.Context) (Room, error) {
	raw, err := s.kv.Get(ctx, keySelected)
	if errors.Is(err, kv.ErrNotFound) {
		return Room{}, ErrNotFound
	}
	if err != nil {
		return Room{}, err
	}
	return s.Get(ctx, string(raw))
}

// ClearSelected drops the room selection.
func (s *Store) ClearSelected(ctx context.Context) error {
	return s.kv.Delete(ctx, keySelected)
}

// SetEndpoint persists the last-used server endpoint.
func (s *Store) SetEndpoint(ctx context.Context, endpoint string) error {
	return s.kv.Set(ctx, keyEndpoint, []byte(endpoint))
}

// Endpoint returns the last-used server endpoint, or "" if never set.
func (s *Store) Endpoint(ctx context.Context) (string, error) {
	raw, err := s.kv.Get(ctx, keyEndpoint)
	if errors.Is(err, kv.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
