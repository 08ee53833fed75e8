package ledger

import (
	"time"

	"sealedmsg/internal/domain"
	"sealedmsg/internal/msgjson"
)

type Message struct {
	ID              uint64                           `gorm:"primaryKey;autoIncrement"`
	Sender          string                           `gorm:"size:64;not null;index"`
	Receiver        string                           `gorm:"size:64;not null;index:idx_messages_receiver_created,priority:1"`
	Mask            uint8                            `gorm:"not null"`
	UnlockTime      int64                            `gorm:"not null;default:0"`
	RequiredPayment uint64                           `gorm:"not null;default:0"`
	PaidAmount      uint64                           `gorm:"not null;default:0"`
	ContentHandle   string                           `gorm:"not null;uniqueIndex"`
	IsRead          bool                             `gorm:"not null;default:false"`
	ReadAt          *time.Time
	Preview         msgjson.Column[domain.PreviewMeta]
	CreatedAt       time.Time `gorm:"not null;index:idx_messages_receiver_created,priority:2"`
}

// Payment is one accepted payment. Rows are never updated or deleted.
type Payment struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement"`
	MessageID uint64    `gorm:"not null;index"`
	Payer     string    `gorm:"size:64;not null"`
	Amount    uint64    `gorm:"not null"`
	PaidAt    time.Time `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
}
