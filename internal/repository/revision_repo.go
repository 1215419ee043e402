package repository

import (
	"context"
	"errors"
	"time"

	"budgetledger/internal/model"

	"gorm.io/gorm"
)

var (
	ErrRevisionNotFound      = errors.New("预算调整单不存在")
	ErrRevisionStatusInvalid = errors.New("预算调整单状态不合法")
)

type RevisionRepository struct {
	db *gorm.DB
}

func NewRevisionRepository(db *gorm.DB) *RevisionRepository {
	return &RevisionRepository{db: db}
}

func (r *RevisionRepository) Create(ctx context.Context, tx *gorm.DB, revision *model.Revision) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(revision).Error
}

func (r *RevisionRepository) GetByNo(ctx context.Context, revisionNo string) (*model.Revision, error) {
	var revision model.Revision
	err := r.db.WithContext(ctx).Where("revision_no = ?", revisionNo).First(&revision).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRevisionNotFound
		}
		return nil, err
	}
	return &revision, nil
}

// MarkApproved 调整单落账成功后置为 APPROVED，带原状态 CAS
func (r *RevisionRepository) MarkApproved(ctx context.Context, tx *gorm.DB, revisionNo string) error {
	if tx == nil {
		tx = r.db
	}

	now := time.Now()
	result := tx.WithContext(ctx).
		Model(&model.Revision{}).
		Where("revision_no = ? AND status = ?", revisionNo, model.RevisionStatusPending).
		Updates(map[string]interface{}{
			"status":      model.RevisionStatusApproved,
			"approved_at": &now,
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrRevisionStatusInvalid
	}
	return nil
}

// MarkRejected 驳回调整单，记录驳回原因
func (r *RevisionRepository) MarkRejected(ctx context.Context, tx *gorm.DB, revisionNo, reason string) error {
	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Model(&model.Revision{}).
		Where("revision_no = ? AND status = ?", revisionNo, model.RevisionStatusPending).
		Updates(map[string]interface{}{
			"status":           model.RevisionStatusRejected,
			"rejection_reason": reason,
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrRevisionStatusInvalid
	}
	return nil
}

func (r *RevisionRepository) ListByBudgetCode(ctx context.Context, budgetCodeID int64, page, pageSize int) ([]*model.Revision, int64, error) {
	var revisions []*model.Revision
	var total int64

	query := r.db.WithContext(ctx).Model(&model.Revision{}).Where("budget_code_id = ?", budgetCodeID)

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&revisions).Error

	return revisions, total, err
}

// HasPendingByBudgetCode 某编码是否存在在途调整单
func (r *RevisionRepository) HasPendingByBudgetCode(ctx context.Context, budgetCodeID int64) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.Revision{}).
		Where("budget_code_id = ? AND status = ?", budgetCodeID, model.RevisionStatusPending).
		Count(&count).Error
	return count > 0, err
}
