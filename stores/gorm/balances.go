package gorm

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	ct "github.com/dennislee928/carbontrade"
)

// BalanceStore implements ct.BalanceStore using GORM
type BalanceStore struct {
	db *gorm.DB
}

func NewBalanceStore(db *gorm.DB) *BalanceStore {
	return &BalanceStore{db: db}
}

// forUpdate row-locks the rows read through the returned query. SQLite has
// no FOR UPDATE and serializes writers on its single connection instead.
func forUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

// loadBalance fetches and locks the user's balance row inside tx, creating
// it if absent. Callers may write the returned points back as an absolute
// value until tx ends.
func loadBalance(tx *gorm.DB, userID string) (*BalanceModel, error) {
	var model BalanceModel
	err := forUpdate(tx).First(&model, "user_id = ?", userID).Error
	if err == nil {
		return &model, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	var count int64
	if err := tx.Model(&UserModel{}).Where("id = ?", userID).Count(&count).Error; err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, ct.ErrUserNotFound
	}

	now := time.Now()
	model = BalanceModel{ID: uuid.NewString(), UserID: userID, CreatedAt: now, UpdatedAt: now}
	err = tx.Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, DoNothing: true}).
		Create(&model).Error
	if err != nil {
		return nil, err
	}
	// A concurrent transaction may have created the row first
	model = BalanceModel{}
	if err := forUpdate(tx).First(&model, "user_id = ?", userID).Error; err != nil {
		return nil, err
	}
	return &model, nil
}

func (s *BalanceStore) GetBalance(userID string) (*ct.Balance, error) {
	var out *ct.Balance
	err := s.db.Transaction(func(tx *gorm.DB) error {
		model, err := loadBalance(tx, userID)
		if err != nil {
			return err
		}
		out = model.ToBalance()
		return nil
	})
	return out, err
}

func (s *BalanceStore) SetBalance(userID string, points float64) (*ct.Balance, error) {
	return s.update(userID, func(current float64) (float64, error) {
		if points < 0 {
			return 0, ct.ErrInsufficientBalance
		}
		return points, nil
	})
}

// AddBalance adjusts the balance by delta; the result may not go negative
func (s *BalanceStore) AddBalance(userID string, delta float64) (*ct.Balance, error) {
	return s.update(userID, func(current float64) (float64, error) {
		if current+delta < 0 {
			return 0, ct.ErrInsufficientBalance
		}
		return current + delta, nil
	})
}

func (s *BalanceStore) update(userID string, apply func(current float64) (float64, error)) (*ct.Balance, error) {
	var out *ct.Balance
	err := s.db.Transaction(func(tx *gorm.DB) error {
		model, err := loadBalance(tx, userID)
		if err != nil {
			return err
		}
		points, err := apply(model.Points)
		if err != nil {
			return err
		}
		model.Points = points
		model.UpdatedAt = time.Now()
		if err := tx.Model(&BalanceModel{}).Where("id = ?", model.ID).
			Updates(map[string]any{"points": model.Points, "updated_at": model.UpdatedAt}).Error; err != nil {
			return err
		}
		out = model.ToBalance()
		return nil
	})
	return out, err
}

type balanceRow struct {
	BalanceModel
	UserEmail  string
	UserName   string
	UserRole   string
	UserStatus string
}

func (s *BalanceStore) ListBalances(p ct.Pagination) ([]*ct.BalanceWithUser, int64, error) {
	p = ct.NewPagination(p.Page, p.Limit)

	var total int64
	if err := s.db.Model(&BalanceModel{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []balanceRow
	err := s.db.Table("user_balances AS b").
		Select("b.*, u.email AS user_email, u.name AS user_name, u.role AS user_role, u.status AS user_status").
		Joins("LEFT JOIN users u ON u.id = b.user_id").
		Order("b.points DESC").
		Offset(p.Offset()).Limit(p.Limit).
		Scan(&rows).Error
	if err != nil {
		return nil, 0, err
	}

	out := make([]*ct.BalanceWithUser, len(rows))
	for i, r := range rows {
		out[i] = &ct.BalanceWithUser{
			Balance:    *r.BalanceModel.ToBalance(),
			UserEmail:  r.UserEmail,
			UserName:   r.UserName,
			UserRole:   r.UserRole,
			UserStatus: r.UserStatus,
		}
	}
	return out, total, nil
}
