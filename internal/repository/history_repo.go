package repository

import (
	"context"

	"budgetledger/internal/model"

	"gorm.io/gorm"
)

type HistoryRepository struct {
	db *gorm.DB
}

func NewHistoryRepository(db *gorm.DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

func (r *HistoryRepository) Create(ctx context.Context, tx *gorm.DB, entry *model.BudgetHistory) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(entry).Error
}

func (r *HistoryRepository) ListByBudgetCode(ctx context.Context, budgetCodeID int64, page, pageSize int) ([]*model.BudgetHistory, int64, error) {
	var entries []*model.BudgetHistory
	var total int64

	query := r.db.WithContext(ctx).Model(&model.BudgetHistory{}).Where("budget_code_id = ?", budgetCodeID)

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&entries).Error

	return entries, total, err
}
