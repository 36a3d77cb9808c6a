package settlement

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/carpoolhq/settlement-engine/internal/fsm"
)

// Local-user machine: a one-way flip from non-local to local. Once a user is
// marked local the machine is final; repeated switch events are ignored.
const (
	LocalUserMachine = "local-user"

	StateNonLocalUser = "NonLocalUser"
	StateLocalUser    = "LocalUser"

	EventSwitchToLocal = "SWITCH_TO_LOCAL"

	localUserContextKey = "userId"
)

// UserMarker persists the local flag on the user record.
type UserMarker interface {
	MarkLocalUser(ctx context.Context, userID uint) error
}

// RegisterLocalUserMachine installs the local-user definition in the
// registry. Instances are spawned with {"userId": <uint>}.
func RegisterLocalUserMachine(reg *fsm.Registry, marker UserMarker, log *slog.Logger) error {
	def := fsm.MachineDef{
		ID:      LocalUserMachine,
		Initial: StateNonLocalUser,
		States: map[string]fsm.StateDef{
			StateNonLocalUser: {
				On: map[string]fsm.Transition{
					EventSwitchToLocal: {Target: StateLocalUser, Actions: []string{"markLocal"}},
				},
			},
			StateLocalUser: {Final: true},
		},
	}
	opts := fsm.Options{
		Actions: map[string]fsm.Action{
			"markLocal": func(ctx context.Context, mc fsm.Context, ev fsm.Event) error {
				userID, ok := mc[localUserContextKey].(uint)
				if !ok {
					return fmt.Errorf("local-user machine: context %q missing or not uint", localUserContextKey)
				}
				if err := marker.MarkLocalUser(ctx, userID); err != nil {
					return fmt.Errorf("mark user %d local: %w", userID, err)
				}
				log.Info("user switched to local", "userId", userID)
				return nil
			},
		},
	}
	return reg.SetConfig(LocalUserMachine, def, opts)
}
