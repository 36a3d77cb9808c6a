package models

import (
	"gorm.io/gorm"
)

type ReservationRole string

const (
	RoleDriver ReservationRole = "driver"
	RoleRider  ReservationRole = "rider"
)

type ReservationStatus string

const (
	ReservationSearching ReservationStatus = "searching"
	ReservationMatched   ReservationStatus = "matched"
	ReservationStarted   ReservationStatus = "started"
	ReservationCompleted ReservationStatus = "completed"
	ReservationCanceled  ReservationStatus = "canceled"
)

// Terminal reports whether the reservation can no longer change.
func (s ReservationStatus) Terminal() bool {
	return s == ReservationCompleted || s == ReservationCanceled
}

// Reservation is one side (driver or rider) of a prospective or committed
// carpool trip. RouteMeter is the measured route distance in meters; UnitPrice
// is the per-meter rate the user quoted, if any.
type Reservation struct {
	gorm.Model
	UserID     uint              `json:"userId" gorm:"not null;index"`
	Role       ReservationRole   `json:"role" gorm:"not null"`
	Status     ReservationStatus `json:"status" gorm:"not null;default:'searching';index"`
	RouteMeter float64           `json:"routeMeter" gorm:"not null"`
	UnitPrice  *float64          `json:"unitPrice,omitempty"`
	Price      float64           `json:"price"`
	OfferID    uint              `json:"offerId" gorm:"index"`
}

// TableName specifies the table name
func (Reservation) TableName() string {
	return "reservations"
}

// DuoReservation records that one reservation has offered/been offered to
// another within an offer group. Two reservations are paired when they share
// an offer id; the row (X, X) anchors offer group X itself.
type DuoReservation struct {
	gorm.Model
	ReservationID uint `json:"reservationId" gorm:"not null;index"`
	OfferID       uint `json:"offerId" gorm:"not null;index"`
}

// TableName specifies the table name
func (DuoReservation) TableName() string {
	return "duo_reservations"
}

// SelfPair reports whether the row is the offer group's own anchor row.
func (d DuoReservation) SelfPair() bool {
	return d.ReservationID == d.OfferID
}
