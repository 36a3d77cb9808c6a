package matching

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/carpoolhq/settlement-engine/internal/models"
	"github.com/carpoolhq/settlement-engine/internal/storage"
)

// ErrNotFound is returned by stores when a reservation does not exist.
var ErrNotFound = storage.ErrNotFound

// Invite is one side of a pairing, joined to its reservation.
type Invite struct {
	ReservationID uint                   `json:"reservationId"`
	Role          models.ReservationRole `json:"role"`
	Price         float64                `json:"price"`
	UserID        uint                   `json:"userId"`
}

// Store is the persistence surface the tracker needs. The invite queries
// must already exclude self-pairs (offer_id == reservation_id).
type Store interface {
	SentInvites(ctx context.Context, reservationID uint) ([]Invite, error)
	ReceivedInvites(ctx context.Context, reservationID uint) ([]Invite, error)
	MatchPartnerIDs(ctx context.Context, reservationID uint) ([]uint, error)
	Reservation(ctx context.Context, id uint) (*models.Reservation, error)
	UpsertReservationMatch(ctx context.Context, rm *models.ReservationMatch) error
}

// Tracker maintains the per-reservation invitation and match counters.
type Tracker struct {
	store Store
	log   *slog.Logger
}

func NewTracker(store Store, log *slog.Logger) *Tracker {
	return &Tracker{store: store, log: log}
}

// SentInvites lists the partners this reservation has offered itself to.
func (t *Tracker) SentInvites(ctx context.Context, reservationID uint) ([]Invite, error) {
	invites, err := t.store.SentInvites(ctx, reservationID)
	if err != nil {
		t.log.Warn("sent-invite query failed", "reservationId", reservationID, "error", err)
		return nil, err
	}
	return invites, nil
}

// ReceivedInvites lists the partners that have offered themselves to this
// reservation.
func (t *Tracker) ReceivedInvites(ctx context.Context, reservationID uint) ([]Invite, error) {
	invites, err := t.store.ReceivedInvites(ctx, reservationID)
	if err != nil {
		t.log.Warn("received-invite query failed", "reservationId", reservationID, "error", err)
		return nil, err
	}
	return invites, nil
}

// UpdateStatistics recounts sent/received invitations and algorithmic matches
// for each reservation and upserts one reservation_match row per id. Matches
// exclude any partner that is already an invitation partner, so invitations
// and organic matches never double-count. Idempotent: repeated calls over
// unchanged data converge to the same counters.
func (t *Tracker) UpdateStatistics(ctx context.Context, reservationIDs []uint) error {
	for _, id := range reservationIDs {
		res, err := t.store.Reservation(ctx, id)
		if errors.Is(err, ErrNotFound) {
			t.log.Warn("skipping statistics for unknown reservation", "reservationId", id)
			continue
		}
		if err != nil {
			t.log.Warn("reservation lookup failed", "reservationId", id, "error", err)
			return err
		}

		sent, err := t.store.SentInvites(ctx, id)
		if err != nil {
			return err
		}
		received, err := t.store.ReceivedInvites(ctx, id)
		if err != nil {
			return err
		}

		// Matches are algorithm output minus everything already covered by
		// an invitation in either direction. An empty invitation set
		// excludes nothing.
		invited := make(map[uint]struct{}, len(sent)+len(received))
		for _, inv := range sent {
			invited[inv.ReservationID] = struct{}{}
		}
		for _, inv := range received {
			invited[inv.ReservationID] = struct{}{}
		}
		partners, err := t.store.MatchPartnerIDs(ctx, id)
		if err != nil {
			return err
		}
		matches := 0
		for _, p := range partners {
			if _, ok := invited[p]; !ok {
				matches++
			}
		}

		now := time.Now().UTC()
		rm := &models.ReservationMatch{
			UserID:         res.UserID,
			ReservationID:  id,
			InviteSent:     len(sent),
			InviteReceived: len(received),
			Matches:        matches,
			CreatedOn:      now,
			ModifiedOn:     now,
		}
		if err := t.store.UpsertReservationMatch(ctx, rm); err != nil {
			t.log.Warn("reservation_match upsert failed", "reservationId", id, "error", err)
			return err
		}
	}
	return nil
}
