package settlement

import (
	"context"
	"errors"
	"log/slog"
	"reflect"
	"testing"

	"github.com/carpoolhq/settlement-engine/internal/escrow"
	"github.com/carpoolhq/settlement-engine/internal/models"
)

type ledgerCall struct {
	op       string
	userID   uint
	amount   float64
	activity models.EscrowActivityType
}

type fakeLedger struct {
	calls        []ledgerCall
	quote        escrow.Quote
	paid         float64
	refund       float64
	transferErr  error
	addDetailErr error
}

func (f *fakeLedger) Open(ctx context.Context, userID, reservationID uint) (*models.Escrow, error) {
	f.calls = append(f.calls, ledgerCall{op: "open", userID: userID})
	esc := &models.Escrow{UserID: userID, ReservationID: reservationID, Status: models.EscrowOpen}
	esc.ID = 77
	return esc, nil
}

func (f *fakeLedger) AddDetail(ctx context.Context, userID, escrowID uint, activity models.EscrowActivityType, fund float64, offerID uint) (uint, error) {
	if f.addDetailErr != nil {
		return 0, f.addDetailErr
	}
	f.calls = append(f.calls, ledgerCall{op: "addDetail", userID: userID, amount: fund, activity: activity})
	return 1, nil
}

func (f *fakeLedger) TotalPriceByUnitPrice(owner, target models.Reservation) escrow.Quote {
	return f.quote
}

func (f *fakeLedger) TransferCarpoolFeeDriver(ctx context.Context, driverID, passengerID, tripID uint, driverFee, passengerFee float64) (float64, error) {
	if f.transferErr != nil {
		return 0, f.transferErr
	}
	f.calls = append(f.calls, ledgerCall{op: "transfer", userID: driverID, amount: f.paid})
	return f.paid, nil
}

func (f *fakeLedger) CancelCarpoolEscrowReturn(ctx context.Context, reservationID uint, activity models.EscrowActivityType, offerID uint) (float64, error) {
	f.calls = append(f.calls, ledgerCall{op: "cancel", amount: f.refund, activity: activity})
	return f.refund, nil
}

func (f *fakeLedger) PassengerFee() float64 { return 0.50 }
func (f *fakeLedger) DriverFee() float64    { return 0.25 }

type fakeStats struct {
	updated [][]uint
	err     error
}

func (f *fakeStats) UpdateStatistics(ctx context.Context, ids []uint) error {
	if f.err != nil {
		return f.err
	}
	f.updated = append(f.updated, ids)
	return nil
}

type fakeGroups struct {
	swept    [][]uint
	affected []uint
}

func (f *fakeGroups) RemoveInvitesForGroup(ctx context.Context, ids []uint) ([]uint, error) {
	f.swept = append(f.swept, ids)
	return f.affected, nil
}

type fakePublisher struct {
	events []Event
	err    error
}

func (f *fakePublisher) Publish(ctx context.Context, ev Event) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, ev)
	return nil
}

func reservation(id, userID uint, role models.ReservationRole, offerID uint) models.Reservation {
	r := models.Reservation{UserID: userID, Role: role, OfferID: offerID}
	r.ID = id
	return r
}

func TestOnTripAcceptedHoldsFare(t *testing.T) {
	ledger := &fakeLedger{quote: escrow.Quote{TotalPrice: 1200, UnitPrice: 0.25}}
	stats := &fakeStats{}
	pub := &fakePublisher{}
	p := NewProcessor(ledger, stats, &fakeGroups{}, pub, slog.Default())

	driver := reservation(1, 10, models.RoleDriver, 1)
	rider := reservation(2, 11, models.RoleRider, 1)
	held, err := p.OnTripAccepted(context.Background(), driver, rider)
	if err != nil {
		t.Fatalf("OnTripAccepted: %v", err)
	}
	if held != 1200 {
		t.Errorf("held = %v, want 1200", held)
	}

	if len(ledger.calls) != 2 || ledger.calls[0].op != "open" || ledger.calls[1].op != "addDetail" {
		t.Fatalf("ledger calls = %+v, want open then addDetail", ledger.calls)
	}
	if c := ledger.calls[1]; c.userID != 11 || c.amount != 1200 || c.activity != models.ActivityCarpoolFare {
		t.Errorf("fare hold = %+v, want rider 11 / 1200 / carpool fare", c)
	}
	if len(stats.updated) != 1 || !reflect.DeepEqual(stats.updated[0], []uint{1, 2}) {
		t.Errorf("stats recomputed for %v, want [[1 2]]", stats.updated)
	}
	if len(pub.events) != 1 || pub.events[0].Type != EventTripFunded || pub.events[0].Amount != 1200 {
		t.Errorf("events = %+v, want one trip.funded of 1200", pub.events)
	}
}

func TestOnTripAcceptedZeroQuoteHoldsNothing(t *testing.T) {
	ledger := &fakeLedger{quote: escrow.Quote{TotalPrice: 0}}
	p := NewProcessor(ledger, &fakeStats{}, &fakeGroups{}, nil, slog.Default())

	held, err := p.OnTripAccepted(context.Background(),
		reservation(1, 10, models.RoleDriver, 1), reservation(2, 11, models.RoleRider, 1))
	if err != nil {
		t.Fatalf("OnTripAccepted: %v", err)
	}
	if held != 0 || len(ledger.calls) != 0 {
		t.Errorf("held = %v calls = %+v, want no escrow activity", held, ledger.calls)
	}
}

func TestOnTripCompletedSettles(t *testing.T) {
	ledger := &fakeLedger{paid: 1799.25}
	stats := &fakeStats{}
	pub := &fakePublisher{}
	p := NewProcessor(ledger, stats, &fakeGroups{}, pub, slog.Default())

	paid, err := p.OnTripCompleted(context.Background(),
		reservation(1, 10, models.RoleDriver, 1), reservation(2, 11, models.RoleRider, 1))
	if err != nil {
		t.Fatalf("OnTripCompleted: %v", err)
	}
	if paid != 1799.25 {
		t.Errorf("paid = %v, want 1799.25", paid)
	}
	if len(pub.events) != 1 || pub.events[0].Type != EventTripSettled {
		t.Fatalf("events = %+v, want one trip.settled", pub.events)
	}
	if pub.events[0].DriverUserID != 10 || pub.events[0].RiderUserID != 11 || pub.events[0].TripID != 2 {
		t.Errorf("event parties = %+v", pub.events[0])
	}
	if len(stats.updated) != 1 {
		t.Errorf("stats.updated = %v, want one recount", stats.updated)
	}
}

func TestOnTripCompletedTransferErrorPropagates(t *testing.T) {
	boom := errors.New("wallet down")
	ledger := &fakeLedger{transferErr: boom}
	stats := &fakeStats{}
	pub := &fakePublisher{}
	p := NewProcessor(ledger, stats, &fakeGroups{}, pub, slog.Default())

	_, err := p.OnTripCompleted(context.Background(),
		reservation(1, 10, models.RoleDriver, 1), reservation(2, 11, models.RoleRider, 1))
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped wallet error", err)
	}
	if len(stats.updated) != 0 || len(pub.events) != 0 {
		t.Error("statistics or events side effects after failed settlement")
	}
}

func TestOnTripCanceledRefundsAndPrunes(t *testing.T) {
	ledger := &fakeLedger{refund: 99.50}
	stats := &fakeStats{}
	groups := &fakeGroups{affected: []uint{3, 5}}
	pub := &fakePublisher{}
	p := NewProcessor(ledger, stats, groups, pub, slog.Default())

	refund, err := p.OnTripCanceled(context.Background(), reservation(5, 11, models.RoleRider, 3))
	if err != nil {
		t.Fatalf("OnTripCanceled: %v", err)
	}
	if refund != 99.50 {
		t.Errorf("refund = %v, want 99.50", refund)
	}
	if c := ledger.calls[0]; c.op != "cancel" || c.activity != models.ActivityCancelRefund {
		t.Errorf("ledger call = %+v, want cancel refund", c)
	}
	if len(groups.swept) != 1 || !reflect.DeepEqual(groups.swept[0], []uint{5}) {
		t.Errorf("group sweep over %v, want [[5]]", groups.swept)
	}
	// Pruned reservations and the canceled one all get recounted, once each.
	if len(stats.updated) != 1 || !reflect.DeepEqual(stats.updated[0], []uint{3, 5}) {
		t.Errorf("stats recount over %v, want [[3 5]]", stats.updated)
	}
	if len(pub.events) != 1 || pub.events[0].Type != EventTripRefunded {
		t.Errorf("events = %+v, want one trip.refunded", pub.events)
	}
}

func TestRunGroupHygiene(t *testing.T) {
	stats := &fakeStats{}
	groups := &fakeGroups{affected: []uint{1, 2}}
	p := NewProcessor(&fakeLedger{}, stats, groups, nil, slog.Default())

	if err := p.RunGroupHygiene(context.Background(), []uint{1, 2, 3}); err != nil {
		t.Fatalf("RunGroupHygiene: %v", err)
	}
	if !reflect.DeepEqual(groups.swept, [][]uint{{1, 2, 3}}) {
		t.Errorf("swept = %v", groups.swept)
	}
	if !reflect.DeepEqual(stats.updated, [][]uint{{1, 2}}) {
		t.Errorf("recounted = %v, want only affected ids", stats.updated)
	}
}

func TestRunGroupHygieneNoopWhenClean(t *testing.T) {
	stats := &fakeStats{}
	p := NewProcessor(&fakeLedger{}, stats, &fakeGroups{}, nil, slog.Default())

	if err := p.RunGroupHygiene(context.Background(), []uint{1}); err != nil {
		t.Fatalf("RunGroupHygiene: %v", err)
	}
	if len(stats.updated) != 0 {
		t.Errorf("recount ran with nothing affected: %v", stats.updated)
	}
}

func TestPublishFailureDoesNotFailSettlement(t *testing.T) {
	ledger := &fakeLedger{paid: 10}
	pub := &fakePublisher{err: errors.New("broker unreachable")}
	p := NewProcessor(ledger, &fakeStats{}, &fakeGroups{}, pub, slog.Default())

	paid, err := p.OnTripCompleted(context.Background(),
		reservation(1, 10, models.RoleDriver, 1), reservation(2, 11, models.RoleRider, 1))
	if err != nil {
		t.Fatalf("OnTripCompleted: %v", err)
	}
	if paid != 10 {
		t.Errorf("paid = %v, want 10", paid)
	}
}
