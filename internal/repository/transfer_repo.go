package repository

import (
	"context"
	"errors"
	"time"

	"budgetledger/internal/model"

	"gorm.io/gorm"
)

var (
	ErrTransferNotFound      = errors.New("预算调拨单不存在")
	ErrTransferStatusInvalid = errors.New("预算调拨单状态不合法")
)

type TransferRepository struct {
	db *gorm.DB
}

func NewTransferRepository(db *gorm.DB) *TransferRepository {
	return &TransferRepository{db: db}
}

func (r *TransferRepository) Create(ctx context.Context, tx *gorm.DB, transfer *model.Transfer) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(transfer).Error
}

func (r *TransferRepository) GetByNo(ctx context.Context, transferNo string) (*model.Transfer, error) {
	var transfer model.Transfer
	err := r.db.WithContext(ctx).Where("transfer_no = ?", transferNo).First(&transfer).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransferNotFound
		}
		return nil, err
	}
	return &transfer, nil
}

// UpdateStatus 调拨单状态 CAS 流转
func (r *TransferRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, transferNo string, fromStatus, toStatus string) error {
	if !model.CanTransferTransitionTo(fromStatus, toStatus) {
		return ErrTransferStatusInvalid
	}

	if tx == nil {
		tx = r.db
	}

	updates := map[string]interface{}{
		"status": toStatus,
	}

	if toStatus == model.TransferStatusApproved {
		now := time.Now()
		updates["executed_at"] = &now
	}

	result := tx.WithContext(ctx).
		Model(&model.Transfer{}).
		Where("transfer_no = ? AND status = ?", transferNo, fromStatus).
		Updates(updates)

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrTransferStatusInvalid
	}

	return nil
}

// MarkRejected 驳回调拨单并记录原因
func (r *TransferRepository) MarkRejected(ctx context.Context, tx *gorm.DB, transferNo, reason string) error {
	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Model(&model.Transfer{}).
		Where("transfer_no = ? AND status = ?", transferNo, model.TransferStatusPending).
		Updates(map[string]interface{}{
			"status":        model.TransferStatusRejected,
			"reject_reason": reason,
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrTransferStatusInvalid
	}
	return nil
}

func (r *TransferRepository) ListByBudgetCode(ctx context.Context, budgetCodeID int64, page, pageSize int) ([]*model.Transfer, int64, error) {
	var transfers []*model.Transfer
	var total int64

	query := r.db.WithContext(ctx).
		Model(&model.Transfer{}).
		Where("from_code_id = ? OR to_code_id = ?", budgetCodeID, budgetCodeID)

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&transfers).Error

	return transfers, total, err
}
