package settlement

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/carpoolhq/settlement-engine/internal/escrow"
	"github.com/carpoolhq/settlement-engine/internal/models"
	"github.com/carpoolhq/settlement-engine/internal/observability"
)

// EscrowLedger is the slice of the escrow service the processor drives.
type EscrowLedger interface {
	Open(ctx context.Context, userID, reservationID uint) (*models.Escrow, error)
	AddDetail(ctx context.Context, userID, escrowID uint, activity models.EscrowActivityType, fund float64, offerID uint) (uint, error)
	TotalPriceByUnitPrice(owner, target models.Reservation) escrow.Quote
	TransferCarpoolFeeDriver(ctx context.Context, driverID, passengerID, tripID uint, driverFee, passengerFee float64) (float64, error)
	CancelCarpoolEscrowReturn(ctx context.Context, reservationID uint, activity models.EscrowActivityType, offerID uint) (float64, error)
	PassengerFee() float64
	DriverFee() float64
}

// StatsTracker recomputes invitation/match counters after any event that
// changes pairings.
type StatsTracker interface {
	UpdateStatistics(ctx context.Context, reservationIDs []uint) error
}

// GroupResolver prunes pairings whose participants are no longer mutually
// eligible.
type GroupResolver interface {
	RemoveInvitesForGroup(ctx context.Context, reservationIDs []uint) ([]uint, error)
}

// Event is published after a lifecycle step settles funds.
type Event struct {
	Type         string    `json:"type"`
	TripID       uint      `json:"tripId"`
	DriverUserID uint      `json:"driverUserId,omitempty"`
	RiderUserID  uint      `json:"riderUserId,omitempty"`
	Amount       float64   `json:"amount"`
	OccurredAt   time.Time `json:"occurredAt"`
}

const (
	EventTripFunded   = "trip.funded"
	EventTripSettled  = "trip.settled"
	EventTripRefunded = "trip.refunded"
)

// Publisher emits settlement events to downstream consumers. A nil publisher
// disables emission without branching at every call site.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Processor ties the escrow ledger, match statistics and group hygiene into
// the trip lifecycle. One processor instance serves the whole worker.
type Processor struct {
	escrow EscrowLedger
	stats  StatsTracker
	groups GroupResolver
	events Publisher
	log    *slog.Logger
}

func NewProcessor(ledger EscrowLedger, stats StatsTracker, groups GroupResolver, events Publisher, log *slog.Logger) *Processor {
	return &Processor{escrow: ledger, stats: stats, groups: groups, events: events, log: log}
}

// OnTripAccepted funds a freshly matched trip: the pairing is priced, the
// rider's escrow is opened and the fare is held in it. Statistics for both
// sides are recomputed afterwards.
func (p *Processor) OnTripAccepted(ctx context.Context, driver, rider models.Reservation) (float64, error) {
	quote := p.escrow.TotalPriceByUnitPrice(rider, driver)
	if quote.TotalPrice <= 0 {
		p.log.Warn("accepted trip priced at zero, nothing to hold",
			"driverReservation", driver.ID, "riderReservation", rider.ID)
		return 0, nil
	}

	esc, err := p.escrow.Open(ctx, rider.UserID, rider.ID)
	if err != nil {
		return 0, fmt.Errorf("open escrow: %w", err)
	}
	if _, err := p.escrow.AddDetail(ctx, rider.UserID, esc.ID, models.ActivityCarpoolFare, quote.TotalPrice, rider.OfferID); err != nil {
		return 0, fmt.Errorf("hold fare: %w", err)
	}
	p.log.Info("fare held in escrow",
		"riderUser", rider.UserID, "riderReservation", rider.ID,
		"amount", quote.TotalPrice, "unitPrice", quote.UnitPrice)

	p.refreshStatistics(ctx, []uint{driver.ID, rider.ID})
	p.publish(ctx, Event{
		Type:         EventTripFunded,
		TripID:       rider.ID,
		DriverUserID: driver.UserID,
		RiderUserID:  rider.UserID,
		Amount:       quote.TotalPrice,
		OccurredAt:   time.Now().UTC(),
	})
	return quote.TotalPrice, nil
}

// OnTripCompleted settles a finished trip: the rider's escrow is paid out to
// the driver minus transaction fees.
func (p *Processor) OnTripCompleted(ctx context.Context, driver, rider models.Reservation) (float64, error) {
	paid, err := p.escrow.TransferCarpoolFeeDriver(ctx, driver.UserID, rider.UserID, rider.ID,
		p.escrow.DriverFee(), p.escrow.PassengerFee())
	if err != nil {
		return 0, fmt.Errorf("settle trip %d: %w", rider.ID, err)
	}
	if paid > 0 {
		observability.SettlementsTotal.Inc()
		observability.SettlementAmount.Observe(paid)
		observability.EscrowsClosed.Inc()
		p.log.Info("trip settled", "driverUser", driver.UserID, "riderUser", rider.UserID,
			"tripId", rider.ID, "paid", paid)
	} else {
		observability.ZeroPayoutsTotal.Inc()
		p.log.Info("trip settled with zero payout", "tripId", rider.ID)
	}

	p.refreshStatistics(ctx, []uint{driver.ID, rider.ID})
	p.publish(ctx, Event{
		Type:         EventTripSettled,
		TripID:       rider.ID,
		DriverUserID: driver.UserID,
		RiderUserID:  rider.UserID,
		Amount:       paid,
		OccurredAt:   time.Now().UTC(),
	})
	return paid, nil
}

// OnTripCanceled refunds the rider's escrow minus the passenger fee, prunes
// pairings the cancellation invalidated and recomputes statistics for every
// reservation the pruning touched.
func (p *Processor) OnTripCanceled(ctx context.Context, canceled models.Reservation) (float64, error) {
	refund, err := p.escrow.CancelCarpoolEscrowReturn(ctx, canceled.ID, models.ActivityCancelRefund, canceled.OfferID)
	if err != nil {
		return 0, fmt.Errorf("refund trip %d: %w", canceled.ID, err)
	}
	if refund > 0 {
		observability.RefundsTotal.Inc()
		observability.RefundAmount.Observe(refund)
		p.log.Info("cancellation refunded", "reservationId", canceled.ID, "refund", refund)
	}

	affected, err := p.groups.RemoveInvitesForGroup(ctx, []uint{canceled.ID})
	if err != nil {
		p.log.Warn("invite pruning failed after cancellation", "reservationId", canceled.ID, "error", err)
	} else if len(affected) > 0 {
		observability.InvitesRemovedTotal.Add(float64(len(affected)))
	}

	ids := affected
	if !containsID(ids, canceled.ID) {
		ids = append(ids, canceled.ID)
	}
	p.refreshStatistics(ctx, ids)
	p.publish(ctx, Event{
		Type:        EventTripRefunded,
		TripID:      canceled.ID,
		RiderUserID: canceled.UserID,
		Amount:      refund,
		OccurredAt:  time.Now().UTC(),
	})
	return refund, nil
}

// RunGroupHygiene sweeps the given reservations for pairings between users
// that are no longer in a shared group, removing them and recounting
// statistics. Meant to run periodically; membership changes happen outside
// this system.
func (p *Processor) RunGroupHygiene(ctx context.Context, reservationIDs []uint) error {
	affected, err := p.groups.RemoveInvitesForGroup(ctx, reservationIDs)
	if err != nil {
		return fmt.Errorf("group hygiene: %w", err)
	}
	if len(affected) == 0 {
		return nil
	}
	observability.InvitesRemovedTotal.Add(float64(len(affected)))
	p.log.Info("removed out-of-group invites", "reservations", len(affected))
	p.refreshStatistics(ctx, affected)
	return nil
}

// refreshStatistics is best effort: a failed recount never rolls back the
// fund movement that preceded it, the next sweep converges the counters.
func (p *Processor) refreshStatistics(ctx context.Context, ids []uint) {
	if len(ids) == 0 {
		return
	}
	if err := p.stats.UpdateStatistics(ctx, ids); err != nil {
		p.log.Warn("statistics refresh failed", "reservations", ids, "error", err)
		return
	}
	observability.StatisticUpserts.Add(float64(len(ids)))
}

func containsID(ids []uint, id uint) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func (p *Processor) publish(ctx context.Context, ev Event) {
	if p.events == nil {
		return
	}
	if err := p.events.Publish(ctx, ev); err != nil {
		p.log.Warn("event publish failed", "type", ev.Type, "tripId", ev.TripID, "error", err)
	}
}
