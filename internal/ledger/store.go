package ledger

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrRecordNotFound = errors.New("ledger: record not found")

type Store struct {
	DB *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{DB: db}
}

func (s *Store) AutoMigrate(ctx context.Context) error {
	return s.DB.WithContext(ctx).AutoMigrate(&Message{}, &Payment{})
}

// WithTx runs fn inside a transaction on a store bound to it.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Store) error) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{DB: tx})
	})
}

func (s *Store) CreateMessage(ctx context.Context, msg *Message) error {
	return s.DB.WithContext(ctx).Create(msg).Error
}

func (s *Store) GetMessage(ctx context.Context, id uint64) (*Message, error) {
	return s.first(s.DB.WithContext(ctx), "id = ?", id)
}

// LockMessage loads a message with a row lock, so the caller's transaction
// sees the latest paid amount and read flag.
func (s *Store) LockMessage(ctx context.Context, id uint64) (*Message, error) {
	return s.first(s.DB.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), "id = ?", id)
}

func (s *Store) MessageByHandle(ctx context.Context, handle string) (*Message, error) {
	return s.first(s.DB.WithContext(ctx), "content_handle = ?", handle)
}

func (s *Store) first(tx *gorm.DB, query string, args ...any) (*Message, error) {
	var msg Message
	if err := tx.Where(query, args...).First(&msg).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &msg, nil
}

func (s *Store) AddPayment(ctx context.Context, msgID uint64, payer string, amount uint64, paidAt time.Time) (uint64, error) {
	var msg Message
	res := s.DB.WithContext(ctx).Model(&msg).
		Where("id = ?", msgID).
		Update("paid_amount", gorm.Expr("paid_amount + ?", amount))
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		return 0, ErrRecordNotFound
	}
	p := Payment{MessageID: msgID, Payer: payer, Amount: amount, PaidAt: paidAt, CreatedAt: time.Now().UTC()}
	if err := s.DB.WithContext(ctx).Create(&p).Error; err != nil {
		return 0, err
	}
	return p.ID, nil
}

func (s *Store) Payments(ctx context.Context, msgID uint64) ([]Payment, error) {
	var out []Payment
	err := s.DB.WithContext(ctx).Where("message_id = ?", msgID).Order("id asc").Find(&out).Error
	return out, err
}

// MarkRead sets the read latch. It reports false when the message was
// already read.
func (s *Store) MarkRead(ctx context.Context, id uint64, at time.Time) (bool, error) {
	res := s.DB.WithContext(ctx).Model(&Message{}).
		Where("id = ? AND is_read = ?", id, false).
		Updates(map[string]any{"is_read": true, "read_at": at})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *Store) Inbox(ctx context.Context, receiver string, limit int) ([]Message, error) {
	var msgs []Message
	tx := s.DB.WithContext(ctx).Where("receiver = ?", receiver).Order("created_at desc, id desc")
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	if err := tx.Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}
