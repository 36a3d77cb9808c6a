package fsm

import (
	"context"
	"errors"
	"log/slog"
	"testing"
)

func trafficDef() MachineDef {
	return MachineDef{
		ID:      "traffic-light",
		Initial: "red",
		Context: Context{"cycles": 0},
		States: map[string]StateDef{
			"red":    {On: map[string]Transition{"NEXT": {Target: "green"}}},
			"green":  {On: map[string]Transition{"NEXT": {Target: "yellow"}}},
			"yellow": {On: map[string]Transition{"NEXT": {Target: "red", Actions: []string{"countCycle"}}}},
		},
	}
}

func trafficOpts() Options {
	return Options{
		Actions: map[string]Action{
			"countCycle": func(ctx context.Context, mc Context, ev Event) error {
				mc["cycles"] = mc["cycles"].(int) + 1
				return nil
			},
		},
	}
}

func TestRegistryUnknownKey(t *testing.T) {
	reg := NewRegistry(slog.Default())
	if _, err := reg.NewInstance("missing", nil); !errors.Is(err, ErrConfigNotFound) {
		t.Fatalf("err = %v, want ErrConfigNotFound", err)
	}
}

func TestRegistryRejectsBadInitial(t *testing.T) {
	reg := NewRegistry(slog.Default())
	def := trafficDef()
	def.Initial = "purple"
	if err := reg.SetConfig("traffic", def, trafficOpts()); err == nil {
		t.Fatal("SetConfig accepted an undefined initial state")
	}
}

func TestTransitionsAndActions(t *testing.T) {
	reg := NewRegistry(slog.Default())
	if err := reg.SetConfig("traffic", trafficDef(), trafficOpts()); err != nil {
		t.Fatalf("SetConfig: %v", err)
	}
	actor, err := reg.NewInstance("traffic", nil)
	if err != nil {
		t.Fatalf("NewInstance: %v", err)
	}

	want := []string{"green", "yellow", "red", "green"}
	for i, state := range want {
		if err := actor.Send(context.Background(), Event{Type: "NEXT"}); err != nil {
			t.Fatalf("Send %d: %v", i, err)
		}
		if got := actor.State(); got != state {
			t.Fatalf("after send %d state = %q, want %q", i, got, state)
		}
	}
	if v, _ := actor.ContextValue("cycles"); v != 1 {
		t.Errorf("cycles = %v, want 1", v)
	}
}

func TestInstanceContextMerge(t *testing.T) {
	reg := NewRegistry(slog.Default())
	def := trafficDef()
	def.Context = Context{"cycles": 0, "city": "default"}
	if err := reg.SetConfig("traffic", def, trafficOpts()); err != nil {
		t.Fatalf("SetConfig: %v", err)
	}

	actor, err := reg.NewInstance("traffic", Context{"city": "tokyo"})
	if err != nil {
		t.Fatalf("NewInstance: %v", err)
	}
	if v, _ := actor.ContextValue("city"); v != "tokyo" {
		t.Errorf("city = %v, want instance override", v)
	}
	if v, _ := actor.ContextValue("cycles"); v != 0 {
		t.Errorf("cycles = %v, want default 0", v)
	}

	// A second instance must see the untouched defaults.
	other, err := reg.NewInstance("traffic", nil)
	if err != nil {
		t.Fatalf("NewInstance: %v", err)
	}
	if v, _ := other.ContextValue("city"); v != "default" {
		t.Errorf("default context mutated by earlier instance: city = %v", v)
	}
}

func TestUnhandledEventIgnored(t *testing.T) {
	reg := NewRegistry(slog.Default())
	if err := reg.SetConfig("traffic", trafficDef(), trafficOpts()); err != nil {
		t.Fatalf("SetConfig: %v", err)
	}
	actor, _ := reg.NewInstance("traffic", nil)
	if err := actor.Send(context.Background(), Event{Type: "EXPLODE"}); err != nil {
		t.Fatalf("unhandled event returned error: %v", err)
	}
	if actor.State() != "red" {
		t.Errorf("state = %q, want unchanged red", actor.State())
	}
}

func TestGuardBlocksTransition(t *testing.T) {
	def := MachineDef{
		ID:      "gate",
		Initial: "closed",
		States: map[string]StateDef{
			"closed": {On: map[string]Transition{"OPEN": {Target: "open", Guard: "hasBadge"}}},
			"open":   {},
		},
	}
	opts := Options{
		Guards: map[string]Guard{
			"hasBadge": func(mc Context, ev Event) bool {
				badge, _ := ev.Payload.(bool)
				return badge
			},
		},
	}

	reg := NewRegistry(slog.Default())
	if err := reg.SetConfig("gate", def, opts); err != nil {
		t.Fatalf("SetConfig: %v", err)
	}
	actor, _ := reg.NewInstance("gate", nil)

	if err := actor.Send(context.Background(), Event{Type: "OPEN", Payload: false}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if actor.State() != "closed" {
		t.Fatalf("guard did not block: state = %q", actor.State())
	}
	if err := actor.Send(context.Background(), Event{Type: "OPEN", Payload: true}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if actor.State() != "open" {
		t.Errorf("state = %q, want open", actor.State())
	}
}

func TestActionFailureSurfacesAndTransitions(t *testing.T) {
	boom := errors.New("charge declined")
	def := MachineDef{
		ID:      "payment",
		Initial: "pending",
		States: map[string]StateDef{
			"pending": {On: map[string]Transition{
				"CHARGE":          {Target: "paid", Actions: []string{"charge"}},
				EventActionFailed: {Target: "failed"},
			}},
			"paid":   {Final: true},
			"failed": {Final: true},
		},
	}
	opts := Options{
		Actions: map[string]Action{
			"charge": func(ctx context.Context, mc Context, ev Event) error { return boom },
		},
	}

	reg := NewRegistry(slog.Default())
	if err := reg.SetConfig("payment", def, opts); err != nil {
		t.Fatalf("SetConfig: %v", err)
	}
	actor, _ := reg.NewInstance("payment", nil)

	err := actor.Send(context.Background(), Event{Type: "CHARGE"})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped action error", err)
	}
	if actor.State() != "failed" {
		t.Errorf("state = %q, want failed", actor.State())
	}
	select {
	case <-actor.Done():
	default:
		t.Error("Done not closed after reaching final failure state")
	}
}

func TestFinalStateStopsProcessing(t *testing.T) {
	def := MachineDef{
		ID:      "one-shot",
		Initial: "armed",
		States: map[string]StateDef{
			"armed": {On: map[string]Transition{"FIRE": {Target: "spent"}}},
			"spent": {Final: true, On: map[string]Transition{"FIRE": {Target: "armed"}}},
		},
	}
	reg := NewRegistry(slog.Default())
	if err := reg.SetConfig("one-shot", def, Options{}); err != nil {
		t.Fatalf("SetConfig: %v", err)
	}
	actor, _ := reg.NewInstance("one-shot", nil)

	if err := actor.Send(context.Background(), Event{Type: "FIRE"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	select {
	case <-actor.Done():
	default:
		t.Fatal("Done not closed on final state")
	}
	if err := actor.Send(context.Background(), Event{Type: "FIRE"}); err != nil {
		t.Fatalf("post-final Send: %v", err)
	}
	if actor.State() != "spent" {
		t.Errorf("final state moved: %q", actor.State())
	}
}

func TestObserverSeesStates(t *testing.T) {
	reg := NewRegistry(slog.Default())
	if err := reg.SetConfig("traffic", trafficDef(), trafficOpts()); err != nil {
		t.Fatalf("SetConfig: %v", err)
	}
	actor, _ := reg.NewInstance("traffic", nil)

	var seen []string
	actor.Subscribe(func(state string, _ Context) { seen = append(seen, state) })
	actor.Send(context.Background(), Event{Type: "NEXT"})
	actor.Send(context.Background(), Event{Type: "NEXT"})

	want := []string{"red", "green", "yellow"}
	if len(seen) != len(want) {
		t.Fatalf("observer calls = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("seen[%d] = %q, want %q", i, seen[i], want[i])
		}
	}
}
