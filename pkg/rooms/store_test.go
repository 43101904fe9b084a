package rooms_test

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/geoping/geoping/pkg/kv"
	"github.com/geoping/geoping/pkg/rooms"
)

func newTestStore(t *testing.T) *rooms.Store {
	t.Helper()
	backend := kv.NewMemory(nil)
	t.Cleanup(func() { backend.Close() })
	return rooms.NewStore(backend)
}

func TestSaveGetRemove(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	room := rooms.New("lab LESERC", "ALMEIDA 2.4G")
	if err := s.Save(ctx, room); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := s.Get(ctx, room.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != "lab LESERC" || got.SSID != "ALMEIDA 2.4G" {
		t.Fatalf("Get = %+v", got)
	}

	if err := s.Remove(ctx, room.ID); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := s.Get(ctx, room.ID); !errors.Is(err, rooms.ErrNotFound) {
		t.Fatalf("Get after Remove = %v, want ErrNotFound", err)
	}
}

func TestSaveRejectsEmptyID(t *testing.T) {
	s := newTestStore(t)
	if err := s.Save(context.Background(), rooms.Room{Name: "x"}); err == nil {
		t.Fatal("expected error for empty room ID")
	}
}

func TestSubscriptions(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	a := rooms.New("Auditório", "")
	b := rooms.New("Biblioteca", "lib-net")
	for _, room := range []rooms.Room{a, b} {
		if err := s.Save(ctx, room); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	// Subscribing to an unknown room fails.
	if err := s.Subscribe(ctx, "no-such-room"); !errors.Is(err, rooms.ErrNotFound) {
		t.Fatalf("Subscribe unknown = %v, want ErrNotFound", err)
	}

	if err := s.Subscribe(ctx, a.ID); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := s.Subscribe(ctx, b.ID); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	// Subscribe is idempotent.
	if err := s.Subscribe(ctx, a.ID); err != nil {
		t.Fatalf("Subscribe twice: %v", err)
	}

	ok, err := s.IsSubscribed(ctx, a.ID)
	if err != nil || !ok {
		t.Fatalf("IsSubscribed = %v, %v", ok, err)
	}

	ids, err := s.SubscribedIDs(ctx)
	if err != nil {
		t.Fatalf("SubscribedIDs: %v", err)
	}
	slices.Sort(ids)
	want := []string{a.ID, b.ID}
	slices.Sort(want)
	if !slices.Equal(ids, want) {
		t.Fatalf("SubscribedIDs = %v, want %v", ids, want)
	}

	subscribed, err := s.SubscribedRooms(ctx)
	if err != nil {
		t.Fatalf("SubscribedRooms: %v", err)
	}
	if len(subscribed) != 2 || subscribed[0].Name != "Auditório" {
		t.Fatalf("SubscribedRooms = %+v", subscribed)
	}

	if err := s.Unsubscribe(ctx, a.ID); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}
	ok, _ = s.IsSubscribed(ctx, a.ID)
	if ok {
		t.Fatal("still subscribed after Unsubscribe")
	}
	// Unsubscribe is safe to repeat.
	if err := s.Unsubscribe(ctx, a.ID); err != nil {
		t.Fatalf("Unsubscribe twice: %v", err)
	}
}

func TestRemoveDropsSubscription(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	room := rooms.New("lab", "lab-net")
	if err := s.Save(ctx, room); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Subscribe(ctx, room.ID); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := s.Remove(ctx, room.ID); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	ids, err := s.SubscribedIDs(ctx)
	if err != nil {
		t.Fatalf("SubscribedIDs: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("subscription survived room removal: %v", ids)
	}
}

func TestBySSID(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	a := rooms.New("lab A", "shared-net")
	b := rooms.New("lab B", "shared-net")
	c := rooms.New("virtual", "")
	for _, room := range []rooms.Room{a, b, c} {
		if err := s.Save(ctx, room); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	// Multiple rooms may share one network; virtual rooms never match.
	got, err := s.BySSID(ctx, `"shared-net"`)
	if err != nil {
		t.Fatalf("BySSID: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("BySSID = %d rooms, want 2", len(got))
	}

	got, err = s.BySSID(ctx, "")
	if err != nil {
		t.Fatalf("BySSID: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("empty SSID matched %d rooms, want 0", len(got))
	}
}

func TestSelectedRoom(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if _, err := s.Selected(ctx); !errors.Is(err, rooms.ErrNotFound) {
		t.Fatalf("Selected with none = %v, want ErrNotFound", err)
	}

	room := rooms.New("lab", "lab-net")
	if err := s.Save(ctx, room); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Select(ctx, room.ID); err != nil {
		t.Fatalf("Select: %v", err)
	}

	got, err := s.Selected(ctx)
	if err != nil {
		t.Fatalf("Selected: %v", err)
	}
	if got.ID != room.ID {
		t.Fatalf("Selected = %s, want %s", got.ID, room.ID)
	}

	if err := s.ClearSelected(ctx); err != nil {
		t.Fatalf("ClearSelected: %v", err)
	}
	if _, err := s.Selected(ctx); !errors.Is(err, rooms.ErrNotFound) {
		t.Fatalf("Selected after clear = %v, want ErrNotFound", err)
	}
}

func TestEndpoint(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	got, err := s.Endpoint(ctx)
	if err != nil || got != "" {
		t.Fatalf("Endpoint unset = %q, %v", got, err)
	}

	if err := s.SetEndpoint(ctx, "http://10.0.0.2:3000"); err != nil {
		t.Fatalf("SetEndpoint: %v", err)
	}
	got, err = s.Endpoint(ctx)
	if err != nil {
		t.Fatalf("Endpoint: %v", err)
	}
	if got != "http://10.0.0.2:3000" {
		t.Fatalf("Endpoint = %q", got)
	}
}

func TestMatchesSSID(t *testing.T) {
	room := rooms.Room{ID: "r", SSID: "lab-net"}
	if !room.MatchesSSID(`"lab-net"`) {
		t.Fatal("quoted SSID should match")
	}
	if room.MatchesSSID("other") {
		t.Fatal("different SSID should not match")
	}
	virtual := rooms.Room{ID: "v"}
	if virtual.MatchesSSID("") || virtual.MatchesSSID("lab-net") {
		t.Fatal("virtual room must never match a network")
	}
}
