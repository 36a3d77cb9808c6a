package database

import (
	"fmt"

	"github.com/carpoolhq/settlement-engine/internal/models"
	"gorm.io/gorm"
)

func RunMigrations(db *gorm.DB) error {
	// Create tables if they don't exist
	err := db.AutoMigrate(
		&models.Reservation{},
		&models.DuoReservation{},
		&models.Escrow{},
		&models.EscrowDetail{},
		&models.MatchStatistic{},
		&models.ReservationMatch{},
		&models.GroupMember{},
		&models.DuoGroup{},
		&models.MegaCarpoolOrganization{},
	)
	if err != nil {
		return err
	}

	// Payouts and refunds must be idempotent under caller-level retries: at
	// most one ledger row per (escrow, activity, offer) for those activities.
	// Partial unique indexes are outside gorm tag territory, hence raw SQL.
	idx := fmt.Sprintf(
		`CREATE UNIQUE INDEX IF NOT EXISTS uniq_escrow_detail_settlement
		 ON escrow_details (escrow_id, activity_type, offer_id)
		 WHERE activity_type IN (%d, %d)`,
		models.ActivityDriverPayout, models.ActivityCancelRefund,
	)
	if err := db.Exec(idx).Error; err != nil {
		return err
	}

	return db.Exec(
		`CREATE INDEX IF NOT EXISTS idx_duo_reservations_offer_pair
		 ON duo_reservations (offer_id, reservation_id)`,
	).Error
}
