package models

// Memberships with a status above MemberStatusPending take part in carpool
// eligibility.
const MemberStatusPending = 1

// GroupMember links a user to an enterprise carpool group.
type GroupMember struct {
	UserID       uint `json:"userId" gorm:"primaryKey;autoIncrement:false"`
	GroupID      uint `json:"groupId" gorm:"primaryKey;autoIncrement:false"`
	MemberStatus int  `json:"memberStatus" gorm:"not null"`
}

// TableName specifies the table name
func (GroupMember) TableName() string {
	return "group_members"
}

// DuoGroup is an enterprise carpool group. Disabled groups confer no
// eligibility.
type DuoGroup struct {
	ID           uint `json:"id" gorm:"primaryKey"`
	EnterpriseID uint `json:"enterpriseId" gorm:"index"`
	Disabled     bool `json:"disabled" gorm:"not null;default:false"`
}

// TableName specifies the table name
func (DuoGroup) TableName() string {
	return "duo_groups"
}

// MegaCarpoolOrganization aliases several enterprise accounts into one shared
// carpool eligibility pool. Eligibility crosses a mega id exactly once;
// sibling enterprises do not chain further.
type MegaCarpoolOrganization struct {
	MegaID uint `json:"megaId" gorm:"primaryKey;autoIncrement:false"`
	OrgID  uint `json:"orgId" gorm:"primaryKey;autoIncrement:false"`
}

// TableName specifies the table name
func (MegaCarpoolOrganization) TableName() string {
	return "mega_carpool_organizations"
}
