// Package gormstore adapts the escrow, matching and groups store interfaces
// onto a Postgres database through GORM.
package gormstore

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/carpoolhq/settlement-engine/internal/escrow"
	"github.com/carpoolhq/settlement-engine/internal/groups"
	"github.com/carpoolhq/settlement-engine/internal/matching"
	"github.com/carpoolhq/settlement-engine/internal/models"
	"github.com/carpoolhq/settlement-engine/internal/storage"
)

// Store is the single persistence adapter. One instance serves all the
// domain services; Transact hands out a copy bound to the transaction.
type Store struct {
	db *gorm.DB
}

var (
	_ escrow.Store   = (*Store)(nil)
	_ matching.Store = (*Store)(nil)
	_ groups.Store   = (*Store)(nil)
)

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Transact runs fn inside one database transaction. Row locks taken through
// the ForUpdate methods hold until the transaction ends.
func (s *Store) Transact(ctx context.Context, fn func(escrow.Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

func mapErr(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return storage.ErrNotFound
	}
	return err
}

func (s *Store) EscrowByID(ctx context.Context, id uint) (*models.Escrow, error) {
	var esc models.Escrow
	if err := s.db.WithContext(ctx).First(&esc, id).Error; err != nil {
		return nil, mapErr(err)
	}
	return &esc, nil
}

func (s *Store) EscrowByIDForUpdate(ctx context.Context, id uint) (*models.Escrow, error) {
	var esc models.Escrow
	err := s.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&esc, id).Error
	if err != nil {
		return nil, mapErr(err)
	}
	return &esc, nil
}

func (s *Store) EscrowByReservation(ctx context.Context, userID, reservationID uint) (*models.Escrow, error) {
	var esc models.Escrow
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND reservation_id = ?", userID, reservationID).
		First(&esc).Error
	if err != nil {
		return nil, mapErr(err)
	}
	return &esc, nil
}

func (s *Store) EscrowByReservationForUpdate(ctx context.Context, userID, reservationID uint) (*models.Escrow, error) {
	var esc models.Escrow
	err := s.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ? AND reservation_id = ?", userID, reservationID).
		First(&esc).Error
	if err != nil {
		return nil, mapErr(err)
	}
	return &esc, nil
}

func (s *Store) CreateEscrow(ctx context.Context, e *models.Escrow) error {
	return s.db.WithContext(ctx).Create(e).Error
}

func (s *Store) SetEscrowStatus(ctx context.Context, escrowID uint, status models.EscrowStatus) error {
	return s.db.WithContext(ctx).
		Model(&models.Escrow{}).
		Where("id = ?", escrowID).
		Update("status", status).Error
}

func (s *Store) Details(ctx context.Context, escrowID uint) ([]models.EscrowDetail, error) {
	var details []models.EscrowDetail
	err := s.db.WithContext(ctx).
		Where("escrow_id = ?", escrowID).
		Order("id").
		Find(&details).Error
	return details, err
}

func (s *Store) AppendDetail(ctx context.Context, d *models.EscrowDetail) error {
	return s.db.WithContext(ctx).Create(d).Error
}

func (s *Store) Reservation(ctx context.Context, id uint) (*models.Reservation, error) {
	var res models.Reservation
	if err := s.db.WithContext(ctx).First(&res, id).Error; err != nil {
		return nil, mapErr(err)
	}
	return &res, nil
}

const inviteColumns = "reservations.id AS reservation_id, reservations.role, reservations.price, reservations.user_id"

func (s *Store) SentInvites(ctx context.Context, reservationID uint) ([]matching.Invite, error) {
	var invites []matching.Invite
	err := s.db.WithContext(ctx).
		Model(&models.DuoReservation{}).
		Select(inviteColumns).
		Joins("JOIN reservations ON reservations.id = duo_reservations.offer_id AND reservations.deleted_at IS NULL").
		Where("duo_reservations.reservation_id = ?", reservationID).
		Where("duo_reservations.offer_id <> duo_reservations.reservation_id").
		Scan(&invites).Error
	return invites, err
}

func (s *Store) ReceivedInvites(ctx context.Context, reservationID uint) ([]matching.Invite, error) {
	var invites []matching.Invite
	err := s.db.WithContext(ctx).
		Model(&models.DuoReservation{}).
		Select(inviteColumns).
		Joins("JOIN reservations ON reservations.id = duo_reservations.reservation_id AND reservations.deleted_at IS NULL").
		Where("duo_reservations.offer_id = ?", reservationID).
		Where("duo_reservations.offer_id <> duo_reservations.reservation_id").
		Scan(&invites).Error
	return invites, err
}

func (s *Store) MatchPartnerIDs(ctx context.Context, reservationID uint) ([]uint, error) {
	var ids []uint
	err := s.db.WithContext(ctx).
		Model(&models.MatchStatistic{}).
		Where("reservation_id = ?", reservationID).
		Pluck("match_reservation_id", &ids).Error
	return ids, err
}

// UpsertReservationMatch keeps one counter row per reservation. On conflict
// the counters and modified_on are refreshed while created_on stays as it
// was first written.
func (s *Store) UpsertReservationMatch(ctx context.Context, rm *models.ReservationMatch) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "reservation_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"user_id", "invite_sent", "invite_received", "matches", "modified_on",
			}),
		}).
		Create(rm).Error
}

func (s *Store) ActiveGroups(ctx context.Context, userID uint) ([]models.DuoGroup, error) {
	var out []models.DuoGroup
	err := s.db.WithContext(ctx).
		Model(&models.DuoGroup{}).
		Joins("JOIN group_members ON group_members.group_id = duo_groups.id").
		Where("group_members.user_id = ? AND group_members.member_status > ?", userID, models.MemberStatusPending).
		Where("duo_groups.disabled = ?", false).
		Find(&out).Error
	return out, err
}

// SiblingEnterprises resolves the one-hop mega closure: every enterprise
// linked to a mega organization that any of the given enterprises belongs
// to, minus the inputs themselves.
func (s *Store) SiblingEnterprises(ctx context.Context, enterpriseIDs []uint) ([]uint, error) {
	if len(enterpriseIDs) == 0 {
		return nil, nil
	}
	var megaIDs []uint
	err := s.db.WithContext(ctx).
		Model(&models.MegaCarpoolOrganization{}).
		Where("org_id IN ?", enterpriseIDs).
		Distinct().
		Pluck("mega_id", &megaIDs).Error
	if err != nil || len(megaIDs) == 0 {
		return nil, err
	}
	var orgIDs []uint
	err = s.db.WithContext(ctx).
		Model(&models.MegaCarpoolOrganization{}).
		Where("mega_id IN ? AND org_id NOT IN ?", megaIDs, enterpriseIDs).
		Distinct().
		Pluck("org_id", &orgIDs).Error
	return orgIDs, err
}

func (s *Store) EnabledGroupsByEnterprise(ctx context.Context, enterpriseIDs []uint) ([]models.DuoGroup, error) {
	if len(enterpriseIDs) == 0 {
		return nil, nil
	}
	var out []models.DuoGroup
	err := s.db.WithContext(ctx).
		Where("enterprise_id IN ? AND disabled = ?", enterpriseIDs, false).
		Find(&out).Error
	return out, err
}

func (s *Store) ActiveMembers(ctx context.Context, groupIDs []uint) ([]uint, error) {
	if len(groupIDs) == 0 {
		return nil, nil
	}
	var ids []uint
	err := s.db.WithContext(ctx).
		Model(&models.GroupMember{}).
		Where("group_id IN ? AND member_status > ?", groupIDs, models.MemberStatusPending).
		Distinct().
		Pluck("user_id", &ids).Error
	return ids, err
}

// OpenPairings lists pairings touching the given reservations where both
// sides are still in a non-terminal status.
func (s *Store) OpenPairings(ctx context.Context, reservationIDs []uint) ([]models.DuoReservation, error) {
	if len(reservationIDs) == 0 {
		return nil, nil
	}
	terminal := []models.ReservationStatus{models.ReservationCompleted, models.ReservationCanceled}
	var out []models.DuoReservation
	err := s.db.WithContext(ctx).
		Model(&models.DuoReservation{}).
		Joins("JOIN reservations inviter ON inviter.id = duo_reservations.reservation_id AND inviter.deleted_at IS NULL").
		Joins("JOIN reservations invited ON invited.id = duo_reservations.offer_id AND invited.deleted_at IS NULL").
		Where("inviter.status NOT IN ? AND invited.status NOT IN ?", terminal, terminal).
		Where("duo_reservations.reservation_id IN ? OR duo_reservations.offer_id IN ?", reservationIDs, reservationIDs).
		Find(&out).Error
	return out, err
}

func (s *Store) SelfPairing(ctx context.Context, offerID uint) (*models.DuoReservation, error) {
	var p models.DuoReservation
	err := s.db.WithContext(ctx).
		Where("offer_id = ? AND reservation_id = ?", offerID, offerID).
		First(&p).Error
	if err != nil {
		return nil, mapErr(err)
	}
	return &p, nil
}

func (s *Store) NonSelfPairingCount(ctx context.Context, offerID uint) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).
		Model(&models.DuoReservation{}).
		Where("offer_id = ? AND reservation_id <> offer_id", offerID).
		Count(&n).Error
	return n, err
}

func (s *Store) DeletePairing(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Delete(&models.DuoReservation{}, id).Error
}

// CompletedUnsettledTrips finds rider reservations whose trip completed but
// whose escrow is still open, the input to the periodic settlement sweep.
func (s *Store) CompletedUnsettledTrips(ctx context.Context, limit int) ([]models.Reservation, error) {
	var out []models.Reservation
	err := s.db.WithContext(ctx).
		Model(&models.Reservation{}).
		Joins("JOIN escrows ON escrows.reservation_id = reservations.id AND escrows.user_id = reservations.user_id AND escrows.deleted_at IS NULL").
		Where("reservations.status = ? AND reservations.role = ?", models.ReservationCompleted, models.RoleRider).
		Where("escrows.status = ?", models.EscrowOpen).
		Order("reservations.id").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// CanceledUnrefundedTrips finds canceled reservations whose escrow still
// holds funds, the input to the periodic refund sweep.
func (s *Store) CanceledUnrefundedTrips(ctx context.Context, limit int) ([]models.Reservation, error) {
	var out []models.Reservation
	err := s.db.WithContext(ctx).
		Model(&models.Reservation{}).
		Joins("JOIN escrows ON escrows.reservation_id = reservations.id AND escrows.user_id = reservations.user_id AND escrows.deleted_at IS NULL").
		Where("reservations.status = ?", models.ReservationCanceled).
		Where("escrows.status = ?", models.EscrowOpen).
		Order("reservations.id").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// ActiveReservationIDs lists reservations still in play, the scope of the
// periodic group-hygiene sweep.
func (s *Store) ActiveReservationIDs(ctx context.Context, limit int) ([]uint, error) {
	terminal := []models.ReservationStatus{models.ReservationCompleted, models.ReservationCanceled}
	var ids []uint
	err := s.db.WithContext(ctx).
		Model(&models.Reservation{}).
		Where("status NOT IN ?", terminal).
		Order("id").
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}

// DetailsBetween returns every ledger row written in [from, to), oldest
// first, for report export.
func (s *Store) DetailsBetween(ctx context.Context, from, to time.Time) ([]models.EscrowDetail, error) {
	var details []models.EscrowDetail
	err := s.db.WithContext(ctx).
		Where("created_on >= ? AND created_on < ?", from, to).
		Order("created_on, id").
		Find(&details).Error
	return details, err
}
