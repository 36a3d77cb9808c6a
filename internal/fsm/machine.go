package fsm

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// EventActionFailed is fired at a machine when one of its transition actions
// returns an error, letting definitions model failure states explicitly.
const EventActionFailed = "ACTION_FAILED"

// Event carries a type tag and an optional payload into a machine.
type Event struct {
	Type    string
	Payload any
}

// Context is the mutable extended state of one machine instance.
type Context map[string]any

func (c Context) clone() Context {
	out := make(Context, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Action runs as part of a transition. It completes before the next event is
// accepted; an error aborts the transition's effects and surfaces to the
// sender.
type Action func(ctx context.Context, mc Context, ev Event) error

// Guard decides whether a transition may fire.
type Guard func(mc Context, ev Event) bool

// Transition names a target state plus the actions to run on the way there.
// A transition with an empty Target is internal; the state does not change.
type Transition struct {
	Target  string
	Guard   string
	Actions []string
}

// StateDef describes one state: the events it handles and whether it is
// final. Events without an entry are ignored.
type StateDef struct {
	On    map[string]Transition
	Final bool
}

// MachineDef is a reusable machine definition. Instances copy Context as
// their starting extended state.
type MachineDef struct {
	ID      string
	Initial string
	Context Context
	States  map[string]StateDef
}

// Options binds action and guard names used by a definition to code.
type Options struct {
	Actions map[string]Action
	Guards  map[string]Guard
}

// Observer receives state changes from a running machine.
type Observer func(state string, mc Context)

// Actor is one running machine instance. All methods are safe for concurrent
// use; events are processed one at a time.
type Actor struct {
	def  MachineDef
	opts Options
	log  *slog.Logger

	mu        sync.Mutex
	state     string
	mc        Context
	observers []Observer
	done      chan struct{}
	closed    bool
}

func newActor(def MachineDef, opts Options, mc Context, log *slog.Logger) *Actor {
	return &Actor{
		def:   def,
		opts:  opts,
		log:   log,
		state: def.Initial,
		mc:    mc,
		done:  make(chan struct{}),
	}
}

// State returns the current state name.
func (a *Actor) State() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// ContextValue reads one key from the instance's extended state.
func (a *Actor) ContextValue(key string) (any, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	v, ok := a.mc[key]
	return v, ok
}

// Done is closed once the machine reaches a final state.
func (a *Actor) Done() <-chan struct{} {
	return a.done
}

// Subscribe registers an observer for state changes. The observer is called
// synchronously with the current state at registration time.
func (a *Actor) Subscribe(fn Observer) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.observers = append(a.observers, fn)
	fn(a.state, a.mc.clone())
}

// Send delivers one event. Actions run to completion before Send returns;
// if an action fails, the machine fires EventActionFailed at itself when the
// current state handles it, and the action's error is returned either way.
// Events the current state does not handle are ignored.
func (a *Actor) Send(ctx context.Context, ev Event) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.deliver(ctx, ev)
}

func (a *Actor) deliver(ctx context.Context, ev Event) error {
	if a.closed {
		a.log.Debug("event after final state", "machine", a.def.ID, "event", ev.Type)
		return nil
	}
	st, ok := a.def.States[a.state]
	if !ok {
		return fmt.Errorf("machine %s: no definition for state %q", a.def.ID, a.state)
	}
	tr, ok := st.On[ev.Type]
	if !ok {
		a.log.Debug("event not handled", "machine", a.def.ID, "state", a.state, "event", ev.Type)
		return nil
	}

	if tr.Guard != "" {
		guard, ok := a.opts.Guards[tr.Guard]
		if !ok {
			return fmt.Errorf("machine %s: guard %q not bound", a.def.ID, tr.Guard)
		}
		if !guard(a.mc, ev) {
			a.log.Debug("guard rejected event", "machine", a.def.ID, "state", a.state, "event", ev.Type, "guard", tr.Guard)
			return nil
		}
	}

	for _, name := range tr.Actions {
		action, ok := a.opts.Actions[name]
		if !ok {
			return fmt.Errorf("machine %s: action %q not bound", a.def.ID, name)
		}
		if err := action(ctx, a.mc, ev); err != nil {
			a.log.Warn("transition action failed", "machine", a.def.ID, "state", a.state, "event", ev.Type, "action", name, "error", err)
			if _, handled := st.On[EventActionFailed]; handled && ev.Type != EventActionFailed {
				if ferr := a.deliver(ctx, Event{Type: EventActionFailed, Payload: err}); ferr != nil {
					a.log.Warn("failure transition errored", "machine", a.def.ID, "error", ferr)
				}
			}
			return fmt.Errorf("action %s: %w", name, err)
		}
	}

	if tr.Target != "" && tr.Target != a.state {
		a.state = tr.Target
		for _, fn := range a.observers {
			fn(a.state, a.mc.clone())
		}
	}
	if target, ok := a.def.States[a.state]; ok && target.Final {
		a.closed = true
		close(a.done)
	}
	return nil
}
