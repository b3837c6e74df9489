package gorm

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	ct "github.com/dennislee928/carbontrade"
)

// OTPStore implements ct.OTPStore using GORM
type OTPStore struct {
	db *gorm.DB
}

func NewOTPStore(db *gorm.DB) *OTPStore {
	return &OTPStore{db: db}
}

// SaveOTP replaces any outstanding code for the same email and purpose
func (s *OTPStore) SaveOTP(otp *ct.OTPCode) error {
	if otp.ID == "" {
		otp.ID = uuid.NewString()
	}
	if otp.CreatedAt.IsZero() {
		otp.CreatedAt = time.Now()
	}
	model := &OTPModel{
		ID:        otp.ID,
		Email:     otp.Email,
		Purpose:   otp.Purpose,
		CodeHash:  otp.CodeHash,
		Attempts:  otp.Attempts,
		ExpiresAt: otp.ExpiresAt,
		UsedAt:    otp.UsedAt,
		CreatedAt: otp.CreatedAt,
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "email"}, {Name: "purpose"}},
		DoUpdates: clause.AssignmentColumns([]string{"id", "code_hash", "attempts", "expires_at", "used_at", "created_at"}),
	}).Create(model).Error
}

func (s *OTPStore) GetOTP(email, purpose string) (*ct.OTPCode, error) {
	var model OTPModel
	if err := s.db.First(&model, "email = ? AND purpose = ?", email, purpose).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ct.ErrOTPNotFound
		}
		return nil, err
	}
	return model.ToOTP(), nil
}

func (s *OTPStore) IncrementOTPAttempts(id string) error {
	return s.db.Model(&OTPModel{}).Where("id = ?", id).
		UpdateColumn("attempts", gorm.Expr("attempts + 1")).Error
}

func (s *OTPStore) MarkOTPUsed(id string) error {
	return s.db.Model(&OTPModel{}).Where("id = ?", id).Update("used_at", time.Now()).Error
}

func (s *OTPStore) DeleteOTP(email, purpose string) error {
	return s.db.Delete(&OTPModel{}, "email = ? AND purpose = ?", email, purpose).Error
}
