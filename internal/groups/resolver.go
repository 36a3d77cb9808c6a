package groups

import (
	"context"
	"errors"
	"log/slog"
	"sort"

	"github.com/carpoolhq/settlement-engine/internal/models"
	"github.com/carpoolhq/settlement-engine/internal/storage"
)

// ErrNotFound is returned by stores when a reservation or pairing does not
// exist.
var ErrNotFound = storage.ErrNotFound

// Store is the persistence surface the resolver needs. Group queries must
// already filter disabled groups and memberships at or below
// models.MemberStatusPending.
type Store interface {
	ActiveGroups(ctx context.Context, userID uint) ([]models.DuoGroup, error)
	SiblingEnterprises(ctx context.Context, enterpriseIDs []uint) ([]uint, error)
	EnabledGroupsByEnterprise(ctx context.Context, enterpriseIDs []uint) ([]models.DuoGroup, error)
	ActiveMembers(ctx context.Context, groupIDs []uint) ([]uint, error)

	OpenPairings(ctx context.Context, reservationIDs []uint) ([]models.DuoReservation, error)
	SelfPairing(ctx context.Context, offerID uint) (*models.DuoReservation, error)
	NonSelfPairingCount(ctx context.Context, offerID uint) (int64, error)
	DeletePairing(ctx context.Context, id uint) error
	Reservation(ctx context.Context, id uint) (*models.Reservation, error)
}

// Cache stores resolved same-group user sets. Implementations are best
// effort; a miss or failure falls through to the store.
type Cache interface {
	GetSameGroupUsers(ctx context.Context, userID uint) ([]uint, bool)
	SetSameGroupUsers(ctx context.Context, userID uint, userIDs []uint)
}

// Resolver answers which users may carpool together based on the enterprise
// group hierarchy.
type Resolver struct {
	store Store
	cache Cache // optional
	log   *slog.Logger
}

func NewResolver(store Store, cache Cache, log *slog.Logger) *Resolver {
	return &Resolver{store: store, cache: cache, log: log}
}

// SameGroupUsers returns every user the given user may carpool with: active
// members of the user's own enabled groups, plus active members of enabled
// groups under enterprises sharing a mega carpool organization with the
// user's enterprises. The closure is deliberately bounded to that single
// mega hop; sibling enterprises are not expanded again. The user is never in
// the result, and the result is sorted for determinism.
func (r *Resolver) SameGroupUsers(ctx context.Context, userID uint) ([]uint, error) {
	if r.cache != nil {
		if ids, ok := r.cache.GetSameGroupUsers(ctx, userID); ok {
			return ids, nil
		}
	}

	own, err := r.store.ActiveGroups(ctx, userID)
	if err != nil {
		r.log.Warn("group membership query failed", "userId", userID, "error", err)
		return nil, err
	}

	groupIDs := make(map[uint]struct{}, len(own))
	enterpriseIDs := make([]uint, 0, len(own))
	seenEnt := map[uint]struct{}{}
	for _, g := range own {
		groupIDs[g.ID] = struct{}{}
		if g.EnterpriseID == 0 {
			continue
		}
		if _, ok := seenEnt[g.EnterpriseID]; !ok {
			seenEnt[g.EnterpriseID] = struct{}{}
			enterpriseIDs = append(enterpriseIDs, g.EnterpriseID)
		}
	}

	if len(enterpriseIDs) > 0 {
		siblings, err := r.store.SiblingEnterprises(ctx, enterpriseIDs)
		if err != nil {
			r.log.Warn("mega organization query failed", "userId", userID, "error", err)
			return nil, err
		}
		if len(siblings) > 0 {
			megaGroups, err := r.store.EnabledGroupsByEnterprise(ctx, siblings)
			if err != nil {
				return nil, err
			}
			for _, g := range megaGroups {
				groupIDs[g.ID] = struct{}{}
			}
		}
	}

	if len(groupIDs) == 0 {
		return nil, nil
	}
	all := make([]uint, 0, len(groupIDs))
	for id := range groupIDs {
		all = append(all, id)
	}
	members, err := r.store.ActiveMembers(ctx, all)
	if err != nil {
		r.log.Warn("group member query failed", "userId", userID, "error", err)
		return nil, err
	}

	uniq := make(map[uint]struct{}, len(members))
	for _, m := range members {
		if m != userID {
			uniq[m] = struct{}{}
		}
	}
	out := make([]uint, 0, len(uniq))
	for m := range uniq {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })

	if r.cache != nil {
		r.cache.SetSameGroupUsers(ctx, userID, out)
	}
	return out, nil
}

// RemoveInvitesForGroup deletes every still-open pairing touching the given
// reservations whose invited user is no longer in the inviter's resolved
// group set. Offer groups left with only their self-referential anchor row
// are garbage-collected. Returns the reservation ids whose statistics need
// recomputation.
func (r *Resolver) RemoveInvitesForGroup(ctx context.Context, reservationIDs []uint) ([]uint, error) {
	pairings, err := r.store.OpenPairings(ctx, reservationIDs)
	if err != nil {
		r.log.Warn("open pairing query failed", "error", err)
		return nil, err
	}

	// One resolution per user per sweep.
	resolved := map[uint][]uint{}
	sameGroup := func(userID uint) ([]uint, error) {
		if ids, ok := resolved[userID]; ok {
			return ids, nil
		}
		ids, err := r.SameGroupUsers(ctx, userID)
		if err != nil {
			return nil, err
		}
		resolved[userID] = ids
		return ids, nil
	}

	affected := map[uint]struct{}{}
	emptied := map[uint]struct{}{}
	for _, p := range pairings {
		if p.SelfPair() {
			continue
		}
		inviter, err := r.store.Reservation(ctx, p.ReservationID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		invited, err := r.store.Reservation(ctx, p.OfferID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}

		allowed, err := sameGroup(inviter.UserID)
		if err != nil {
			return nil, err
		}
		if containsID(allowed, invited.UserID) {
			continue
		}

		if err := r.store.DeletePairing(ctx, p.ID); err != nil {
			r.log.Warn("pairing delete failed", "pairingId", p.ID, "error", err)
			return nil, err
		}
		r.log.Debug("removed out-of-group invite",
			"reservationId", p.ReservationID, "offerId", p.OfferID,
			"inviterUser", inviter.UserID, "invitedUser", invited.UserID)
		affected[p.ReservationID] = struct{}{}
		affected[p.OfferID] = struct{}{}
		emptied[p.OfferID] = struct{}{}
	}

	// Garbage-collect offer groups that only have their anchor row left.
	for offerID := range emptied {
		n, err := r.store.NonSelfPairingCount(ctx, offerID)
		if err != nil {
			return nil, err
		}
		if n > 0 {
			continue
		}
		anchor, err := r.store.SelfPairing(ctx, offerID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		if err := r.store.DeletePairing(ctx, anchor.ID); err != nil {
			return nil, err
		}
	}

	out := make([]uint, 0, len(affected))
	for id := range affected {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func containsID(ids []uint, id uint) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
