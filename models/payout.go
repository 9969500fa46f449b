package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Payout statuses. A row is written before the first chain interaction and
// updated at every lifecycle transition, so a restarted process can find
// unresolved submissions and reconcile them.
const (
	StatusCreated      = "created"
	StatusSubmitted    = "submitted"
	StatusRetryPending = "retry_pending"
	StatusCompleted    = "completed"
	StatusCancelled    = "cancelled"
	StatusFailed       = "failed"
)

type Payout struct {
	ID                string         `gorm:"primaryKey;size:36" json:"id"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
	DeletedAt         gorm.DeletedAt `gorm:"index" json:"-"`
	Identifier        string         `gorm:"uniqueIndex;size:64" json:"identifier"` // platform payment identifier
	UID               string         `gorm:"size:64" json:"uid"`
	SourceAccount     string         `gorm:"size:56" json:"source_account"`
	RecipientAccount  string         `gorm:"size:56" json:"recipient_account"`
	AmountUnits       int64          `gorm:"not null" json:"amount_units"`
	Memo              string         `gorm:"size:255" json:"memo"`
	Status            string         `gorm:"size:20;default:'created'" json:"status"`
	TxHash            string         `gorm:"size:64" json:"tx_hash"`
	SequenceNumber    int64          `json:"sequence_number"`
	Attempts          int            `gorm:"default:0" json:"attempts"`
	LastErrorCode     string         `gorm:"size:64" json:"last_error_code"`
	FeePlausiblySpent bool           `gorm:"default:false" json:"fee_plausibly_spent"`
}

// TableName overrides the table name
func (Payout) TableName() string {
	return "payouts"
}

func (p *Payout) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}
