package settlement

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/carpoolhq/settlement-engine/internal/fsm"
)

type fakeMarker struct {
	marked []uint
	err    error
}

func (f *fakeMarker) MarkLocalUser(ctx context.Context, userID uint) error {
	if f.err != nil {
		return f.err
	}
	f.marked = append(f.marked, userID)
	return nil
}

func localUserActor(t *testing.T, marker *fakeMarker, userID uint) *fsm.Actor {
	t.Helper()
	reg := fsm.NewRegistry(slog.Default())
	if err := RegisterLocalUserMachine(reg, marker, slog.Default()); err != nil {
		t.Fatalf("RegisterLocalUserMachine: %v", err)
	}
	actor, err := reg.NewInstance(LocalUserMachine, fsm.Context{"userId": userID})
	if err != nil {
		t.Fatalf("NewInstance: %v", err)
	}
	return actor
}

func TestLocalUserSwitch(t *testing.T) {
	marker := &fakeMarker{}
	actor := localUserActor(t, marker, 42)

	if actor.State() != StateNonLocalUser {
		t.Fatalf("initial state = %q", actor.State())
	}
	if err := actor.Send(context.Background(), fsm.Event{Type: EventSwitchToLocal}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if actor.State() != StateLocalUser {
		t.Errorf("state = %q, want %q", actor.State(), StateLocalUser)
	}
	if len(marker.marked) != 1 || marker.marked[0] != 42 {
		t.Errorf("marked = %v, want [42]", marker.marked)
	}
	select {
	case <-actor.Done():
	default:
		t.Error("machine not final after switch")
	}
}

func TestLocalUserSwitchIsOneWay(t *testing.T) {
	marker := &fakeMarker{}
	actor := localUserActor(t, marker, 42)

	for i := 0; i < 3; i++ {
		if err := actor.Send(context.Background(), fsm.Event{Type: EventSwitchToLocal}); err != nil {
			t.Fatalf("Send %d: %v", i, err)
		}
	}
	if len(marker.marked) != 1 {
		t.Errorf("marker ran %d times, want exactly once", len(marker.marked))
	}
	if actor.State() != StateLocalUser {
		t.Errorf("state = %q", actor.State())
	}
}

func TestLocalUserMarkFailureKeepsState(t *testing.T) {
	boom := errors.New("users service down")
	marker := &fakeMarker{err: boom}
	actor := localUserActor(t, marker, 42)

	err := actor.Send(context.Background(), fsm.Event{Type: EventSwitchToLocal})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want marker error", err)
	}
	if actor.State() != StateNonLocalUser {
		t.Errorf("state = %q, want unchanged %q", actor.State(), StateNonLocalUser)
	}
}

func TestLocalUserMissingContext(t *testing.T) {
	reg := fsm.NewRegistry(slog.Default())
	if err := RegisterLocalUserMachine(reg, &fakeMarker{}, slog.Default()); err != nil {
		t.Fatalf("RegisterLocalUserMachine: %v", err)
	}
	actor, err := reg.NewInstance(LocalUserMachine, nil)
	if err != nil {
		t.Fatalf("NewInstance: %v", err)
	}
	if err := actor.Send(context.Background(), fsm.Event{Type: EventSwitchToLocal}); err == nil {
		t.Fatal("switch without userId context succeeded")
	}
}
