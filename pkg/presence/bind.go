package presence

import (
	"context"
	"log/slog"

	"github.com/geoping/geoping/pkg/rooms"
)

// Membership is the slice of the messaging channel the presence engine
// drives: holder-tagged room joins and leaves.
type Membership interface {
	JoinRoom(roomID, holder string)
	LeaveRoom(roomID, holder string)
}

// BindChannel forwards membership-change events from the tracker to the
// messaging channel, tagged with the given holder so that two schedulers
// sharing one channel do not cancel each other's membership. The returned
// function severs the binding.
func BindChannel(t *Tracker, ch Membership, holder string, log *slog.Logger) (cancel func()) {
	if log == nil {
		log = slog.Default()
	}
	return t.Subscribe(func(ev Event) {
		switch ev.Kind {
		case RoomEntered:
			log.Info("entered room", "room", ev.RoomID, "confidence", ev.Confidence)
			ch.JoinRoom(ev.RoomID, holder)
		case RoomExited:
			log.Info("exited room", "room", ev.RoomID, "confidence", ev.Confidence)
			ch.LeaveRoom(ev.RoomID, holder)
		}
	})
}

// Unsubscribe revokes a room subscription and forces an immediate exit if
// the room was joined. The exit event reaches the channel through the
// tracker's handlers; the next scan tick will not resurrect the room since
// the subscription is gone.
func Unsubscribe(ctx context.Context, store *rooms.Store, t *Tracker, roomID string) error {
	if err := store.Unsubscribe(ctx, roomID); err != nil {
		return err
	}
	t.Drop(roomID)
	return nil
}
