package models

import (
	"time"
)

// MatchStatistic is a raw candidate pair produced by the matching algorithm.
// Rows are written upstream and consumed read-only here.
type MatchStatistic struct {
	ReservationID      uint `json:"reservationId" gorm:"primaryKey;autoIncrement:false"`
	MatchReservationID uint `json:"matchReservationId" gorm:"primaryKey;autoIncrement:false"`
}

// TableName specifies the table name
func (MatchStatistic) TableName() string {
	return "match_statistics"
}

// ReservationMatch aggregates invitation and match counters for one
// reservation. One row per reservation, upserted on every recount.
type ReservationMatch struct {
	ID             uint      `json:"id" gorm:"primaryKey"`
	UserID         uint      `json:"userId" gorm:"not null;index"`
	ReservationID  uint      `json:"reservationId" gorm:"not null;uniqueIndex"`
	InviteSent     int       `json:"inviteSent" gorm:"not null"`
	InviteReceived int       `json:"inviteReceived" gorm:"not null"`
	Matches        int       `json:"matches" gorm:"not null"`
	CreatedOn      time.Time `json:"createdOn" gorm:"not null"`
	ModifiedOn     time.Time `json:"modifiedOn" gorm:"not null"`
}

// TableName specifies the table name
func (ReservationMatch) TableName() string {
	return "reservation_matches"
}
