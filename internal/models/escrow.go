package models

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

type EscrowStatus string

const (
	EscrowOpen   EscrowStatus = "open"
	EscrowClosed EscrowStatus = "closed"
)

// EscrowActivityType tags each ledger entry with the business reason for the
// fund movement. Codes are stored as-is, so existing values must never be
// renumbered.
type EscrowActivityType int

const (
	ActivityCarpoolFare  EscrowActivityType = 1 // rider fare held for an accepted trip
	ActivityPremiumBonus EscrowActivityType = 2 // early-request-handling bonus
	ActivityDriverPayout EscrowActivityType = 3 // settlement payout to the driver
	ActivityCancelRefund EscrowActivityType = 4 // rider-initiated cancellation refund
	ActivityAdjustment   EscrowActivityType = 5 // manual correction credit
)

// IsPremium reports whether the activity moves bonus funds, which are tracked
// apart from the ordinary net balance and never count toward payout
// eligibility.
func (a EscrowActivityType) IsPremium() bool {
	return a == ActivityPremiumBonus
}

// IsCredit reports whether the activity brings funds into escrow. Credits
// with a positive amount require a matching wallet debit before the ledger
// row is written.
func (a EscrowActivityType) IsCredit() bool {
	switch a {
	case ActivityCarpoolFare, ActivityPremiumBonus, ActivityAdjustment:
		return true
	}
	return false
}

func (a EscrowActivityType) String() string {
	switch a {
	case ActivityCarpoolFare:
		return "carpool_fare"
	case ActivityPremiumBonus:
		return "premium_bonus"
	case ActivityDriverPayout:
		return "driver_payout"
	case ActivityCancelRefund:
		return "cancel_refund"
	case ActivityAdjustment:
		return "adjustment"
	}
	return fmt.Sprintf("activity(%d)", int(a))
}

// Escrow holds funds in trust for one user on one reservation. The balance is
// always derived from the detail rows, never stored.
type Escrow struct {
	gorm.Model
	UserID        uint         `json:"userId" gorm:"not null;index:idx_escrow_user_reservation"`
	ReservationID uint         `json:"reservationId" gorm:"not null;index:idx_escrow_user_reservation"`
	Status        EscrowStatus `json:"status" gorm:"not null;default:'open'"`
}

// TableName specifies the table name
func (Escrow) TableName() string {
	return "escrows"
}

// EscrowDetail is one immutable, signed fund movement. Positive fund credits
// the escrow, negative debits it. TransactionID traces the wallet call that
// preceded a credit or followed a payout.
type EscrowDetail struct {
	ID            uint               `json:"id" gorm:"primaryKey"`
	EscrowID      uint               `json:"escrowId" gorm:"not null;index"`
	ActivityType  EscrowActivityType `json:"activityType" gorm:"not null"`
	Fund          float64            `json:"fund" gorm:"not null"`
	OfferID       uint               `json:"offerId"`
	TransactionID string             `json:"transactionId"`
	CreatedOn     time.Time          `json:"createdOn" gorm:"not null"`
}

// TableName specifies the table name
func (EscrowDetail) TableName() string {
	return "escrow_details"
}
