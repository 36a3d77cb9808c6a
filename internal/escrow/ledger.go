package escrow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/carpoolhq/settlement-engine/internal/config"
	"github.com/carpoolhq/settlement-engine/internal/models"
	"github.com/carpoolhq/settlement-engine/internal/storage"
	"github.com/carpoolhq/settlement-engine/pkg/utils"
)

var (
	// ErrNotFound is returned by stores when an escrow or reservation does
	// not exist. Read paths treat a missing escrow as a zero balance.
	ErrNotFound = storage.ErrNotFound

	// ErrEscrowNotEmpty guards CloseEscrow against closing an escrow that
	// still holds funds.
	ErrEscrowNotEmpty = errors.New("escrow balance is not zero")
)

// Balance is an escrow's derived balance. Premium funds are bonus-classified
// and never merge into Net for payout eligibility.
type Balance struct {
	Net     float64 `json:"net"`
	Premium float64 `json:"premium"`
}

func (b Balance) Zero() bool {
	return b.Net == 0 && b.Premium == 0
}

// Store is the persistence surface the ledger needs. Transact runs fn against
// a store bound to one database transaction; the ForUpdate variants must hold
// a row lock until that transaction ends, so a concurrent settlement on the
// same escrow blocks instead of racing the balance read.
type Store interface {
	Transact(ctx context.Context, fn func(Store) error) error

	EscrowByID(ctx context.Context, id uint) (*models.Escrow, error)
	EscrowByIDForUpdate(ctx context.Context, id uint) (*models.Escrow, error)
	EscrowByReservation(ctx context.Context, userID, reservationID uint) (*models.Escrow, error)
	EscrowByReservationForUpdate(ctx context.Context, userID, reservationID uint) (*models.Escrow, error)
	CreateEscrow(ctx context.Context, e *models.Escrow) error
	SetEscrowStatus(ctx context.Context, escrowID uint, status models.EscrowStatus) error

	Details(ctx context.Context, escrowID uint) ([]models.EscrowDetail, error)
	AppendDetail(ctx context.Context, d *models.EscrowDetail) error

	Reservation(ctx context.Context, id uint) (*models.Reservation, error)
}

// Wallet is the external points/wallet service. Holding funds debits the
// wallet before the matching ledger row is written; its transaction id is
// stored on the row for traceability.
type Wallet interface {
	Debit(ctx context.Context, userID uint, activity models.EscrowActivityType, amount float64, note string) (string, error)
	Credit(ctx context.Context, userID uint, amount float64, note string) (string, error)
}

// Service is the escrow ledger: an append-only fund-movement log per
// (user, reservation) with derived balances.
type Service struct {
	store  Store
	wallet Wallet
	fees   config.Fees
	unit   bool
	log    *slog.Logger
}

func NewService(store Store, wallet Wallet, fees config.Fees, unitPriceEnabled bool, log *slog.Logger) *Service {
	return &Service{store: store, wallet: wallet, fees: fees, unit: unitPriceEnabled, log: log}
}

// Total sums all detail rows for the user's escrow on a reservation,
// splitting premium-tagged activity from the rest. A missing escrow is a
// zero balance, not an error.
func (s *Service) Total(ctx context.Context, userID, reservationID uint) (Balance, error) {
	esc, err := s.store.EscrowByReservation(ctx, userID, reservationID)
	if errors.Is(err, ErrNotFound) {
		return Balance{}, nil
	}
	if err != nil {
		s.log.Warn("escrow lookup failed", "userId", userID, "reservationId", reservationID, "error", err)
		return Balance{}, err
	}
	return balanceOf(ctx, s.store, esc.ID)
}

// Open returns the user's escrow for a reservation, creating it on the first
// fund movement.
func (s *Service) Open(ctx context.Context, userID, reservationID uint) (*models.Escrow, error) {
	esc, err := s.store.EscrowByReservation(ctx, userID, reservationID)
	if err == nil {
		return esc, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	esc = &models.Escrow{UserID: userID, ReservationID: reservationID, Status: models.EscrowOpen}
	if err := s.store.CreateEscrow(ctx, esc); err != nil {
		s.log.Warn("escrow create failed", "userId", userID, "reservationId", reservationID, "error", err)
		return nil, err
	}
	return esc, nil
}

// AddDetail appends one ledger row. Credit-class activity with a positive
// amount first debits the wallet by the same amount; if that call fails no
// row is written. Debit-class activity decreases escrow only — funds already
// held return to wallets through the payout and cancellation flows.
func (s *Service) AddDetail(ctx context.Context, userID, escrowID uint, activity models.EscrowActivityType, fund float64, offerID uint) (uint, error) {
	var detailID uint
	err := s.store.Transact(ctx, func(st Store) error {
		if _, err := st.EscrowByIDForUpdate(ctx, escrowID); err != nil {
			return err
		}

		transactionID := ""
		if activity.IsCredit() && fund > 0 {
			id, err := s.wallet.Debit(ctx, userID, activity, fund, fmt.Sprintf("escrow %d %s", escrowID, activity))
			if err != nil {
				s.log.Warn("wallet debit failed", "userId", userID, "escrowId", escrowID, "activity", activity.String(), "error", err)
				return fmt.Errorf("wallet debit: %w", err)
			}
			transactionID = id
		}

		d := &models.EscrowDetail{
			EscrowID:      escrowID,
			ActivityType:  activity,
			Fund:          fund,
			OfferID:       offerID,
			TransactionID: transactionID,
			CreatedOn:     time.Now().UTC(),
		}
		if err := st.AppendDetail(ctx, d); err != nil {
			s.log.Warn("ledger append failed", "escrowId", escrowID, "activity", activity.String(), "error", err)
			return err
		}
		detailID = d.ID
		return nil
	})
	return detailID, err
}

// TotalPriceByUnitPrice prices a pairing per the configured unit-price mode.
func (s *Service) TotalPriceByUnitPrice(owner, target models.Reservation) Quote {
	return QuoteByUnitPrice(owner, target, s.unit)
}

// TransferCarpoolFeeDriver settles a completed trip: the passenger's escrow
// is emptied and the driver is credited the net minus transaction fees per
// the fee waterfall. A payable amount of zero is a legitimate business
// outcome (fees exceed fare) and results in a no-op, not an error.
func (s *Service) TransferCarpoolFeeDriver(ctx context.Context, driverID, passengerID, tripID uint, driverFee, passengerFee float64) (float64, error) {
	var paid float64
	err := s.store.Transact(ctx, func(st Store) error {
		esc, err := st.EscrowByReservationForUpdate(ctx, passengerID, tripID)
		if errors.Is(err, ErrNotFound) {
			s.log.Debug("no escrow to settle", "passengerId", passengerID, "tripId", tripID)
			return nil
		}
		if err != nil {
			return err
		}
		if esc.Status == models.EscrowClosed {
			s.log.Debug("escrow already closed", "escrowId", esc.ID)
			return nil
		}

		bal, err := balanceOf(ctx, st, esc.ID)
		if err != nil {
			return err
		}
		amount := PayoutAmount(bal.Net, driverFee, passengerFee)
		if amount <= 0 {
			s.log.Debug("fees exceed escrow net, waiving payout",
				"escrowId", esc.ID, "net", bal.Net, "passengerFee", passengerFee)
			return nil
		}

		transactionID, err := s.wallet.Credit(ctx, driverID, amount, fmt.Sprintf("carpool settlement trip %d", tripID))
		if err != nil {
			s.log.Warn("wallet credit failed", "driverId", driverID, "tripId", tripID, "error", err)
			return fmt.Errorf("wallet credit: %w", err)
		}

		res, err := st.Reservation(ctx, tripID)
		if err != nil {
			return err
		}

		// One debit empties the net balance: the payout goes to the driver,
		// the remainder is the retained fees.
		d := &models.EscrowDetail{
			EscrowID:      esc.ID,
			ActivityType:  models.ActivityDriverPayout,
			Fund:          -bal.Net,
			OfferID:       res.OfferID,
			TransactionID: transactionID,
			CreatedOn:     time.Now().UTC(),
		}
		if err := st.AppendDetail(ctx, d); err != nil {
			s.log.Warn("ledger append failed", "escrowId", esc.ID, "error", err)
			return err
		}

		if bal.Premium == 0 {
			if err := st.SetEscrowStatus(ctx, esc.ID, models.EscrowClosed); err != nil {
				return err
			}
		}
		paid = amount
		return nil
	})
	return paid, err
}

// CancelCarpoolEscrowReturn refunds a rider-initiated cancellation: the
// escrow net minus the passenger fee, floored at zero. The escrow closes iff
// the resulting balance is exactly zero.
func (s *Service) CancelCarpoolEscrowReturn(ctx context.Context, reservationID uint, activity models.EscrowActivityType, offerID uint) (float64, error) {
	var refunded float64
	err := s.store.Transact(ctx, func(st Store) error {
		res, err := st.Reservation(ctx, reservationID)
		if errors.Is(err, ErrNotFound) {
			s.log.Debug("cancel refund for unknown reservation", "reservationId", reservationID)
			return nil
		}
		if err != nil {
			return err
		}

		esc, err := st.EscrowByReservationForUpdate(ctx, res.UserID, reservationID)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if esc.Status == models.EscrowClosed {
			return nil
		}

		bal, err := balanceOf(ctx, st, esc.ID)
		if err != nil {
			return err
		}
		refund := utils.RoundCurrency(bal.Net - s.fees.Passenger)
		if refund < 0 {
			refund = 0
		}

		if refund > 0 {
			transactionID, err := s.wallet.Credit(ctx, res.UserID, refund, fmt.Sprintf("carpool cancellation trip %d", reservationID))
			if err != nil {
				s.log.Warn("wallet credit failed", "userId", res.UserID, "reservationId", reservationID, "error", err)
				return fmt.Errorf("wallet credit: %w", err)
			}
			d := &models.EscrowDetail{
				EscrowID:      esc.ID,
				ActivityType:  activity,
				Fund:          -refund,
				OfferID:       offerID,
				TransactionID: transactionID,
				CreatedOn:     time.Now().UTC(),
			}
			if err := st.AppendDetail(ctx, d); err != nil {
				s.log.Warn("ledger append failed", "escrowId", esc.ID, "error", err)
				return err
			}
		}

		if bal.Net-refund == 0 && bal.Premium == 0 {
			if err := st.SetEscrowStatus(ctx, esc.ID, models.EscrowClosed); err != nil {
				return err
			}
		}
		refunded = refund
		return nil
	})
	return refunded, err
}

// CloseEscrow marks an escrow closed. Guarded: the net balance must be zero.
// Closing an already-closed escrow is a no-op.
func (s *Service) CloseEscrow(ctx context.Context, escrowID uint) error {
	return s.store.Transact(ctx, func(st Store) error {
		esc, err := st.EscrowByIDForUpdate(ctx, escrowID)
		if err != nil {
			return err
		}
		if esc.Status == models.EscrowClosed {
			return nil
		}
		bal, err := balanceOf(ctx, st, esc.ID)
		if err != nil {
			return err
		}
		if bal.Net != 0 {
			return fmt.Errorf("escrow %d holds %.2f: %w", escrowID, bal.Net, ErrEscrowNotEmpty)
		}
		return st.SetEscrowStatus(ctx, esc.ID, models.EscrowClosed)
	})
}

// PassengerFee exposes the configured passenger transaction fee for callers
// that orchestrate the cancel flow.
func (s *Service) PassengerFee() float64 { return s.fees.Passenger }

// DriverFee exposes the configured driver transaction fee.
func (s *Service) DriverFee() float64 { return s.fees.Driver }

func balanceOf(ctx context.Context, st Store, escrowID uint) (Balance, error) {
	details, err := st.Details(ctx, escrowID)
	if err != nil {
		return Balance{}, err
	}
	var b Balance
	for _, d := range details {
		if d.ActivityType.IsPremium() {
			b.Premium += d.Fund
		} else {
			b.Net += d.Fund
		}
	}
	b.Net = utils.RoundCurrency(b.Net)
	b.Premium = utils.RoundCurrency(b.Premium)
	return b, nil
}
