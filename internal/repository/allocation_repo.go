package repository

import (
	"context"
	"errors"
	"time"

	"budgetledger/internal/model"

	"gorm.io/gorm"
)

var (
	ErrAllocationNotFound      = errors.New("资金占用记录不存在")
	ErrAllocationStatusInvalid = errors.New("资金占用状态不合法")
	ErrDuplicateRequisition    = errors.New("该请购单已存在占用记录")
)

type AllocationRepository struct {
	db *gorm.DB
}

func NewAllocationRepository(db *gorm.DB) *AllocationRepository {
	return &AllocationRepository{db: db}
}

func (r *AllocationRepository) Create(ctx context.Context, tx *gorm.DB, allocation *model.Allocation) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(allocation).Error
}

func (r *AllocationRepository) GetByNo(ctx context.Context, allocationNo string) (*model.Allocation, error) {
	var allocation model.Allocation
	err := r.db.WithContext(ctx).Where("allocation_no = ?", allocationNo).First(&allocation).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAllocationNotFound
		}
		return nil, err
	}
	return &allocation, nil
}

// GetActiveByRequisition 查询某请购单在某编码下未终结的占用
// 不存在时返回 nil 而非错误，调用方用于幂等判断
func (r *AllocationRepository) GetActiveByRequisition(ctx context.Context, budgetCodeID int64, requisitionID string) (*model.Allocation, error) {
	var allocation model.Allocation
	err := r.db.WithContext(ctx).
		Where("budget_code_id = ? AND requisition_id = ? AND status = ?",
			budgetCodeID, requisitionID, model.AllocationStatusAllocated).
		First(&allocation).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &allocation, nil
}

// UpdateStatus 占用状态 CAS 流转
// 只有 ALLOCATED 可以流出；落账与释放（含超期清理）竞争同一条记录时，
// WHERE 条件保证只有一个赢家，输家拿到 ErrAllocationStatusInvalid
func (r *AllocationRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, allocationNo string, fromStatus, toStatus, reason string) error {
	if !model.CanAllocationTransitionTo(fromStatus, toStatus) {
		return ErrAllocationStatusInvalid
	}

	if tx == nil {
		tx = r.db
	}

	now := time.Now()
	updates := map[string]interface{}{
		"status": toStatus,
	}
	switch toStatus {
	case model.AllocationStatusSpent:
		updates["spent_at"] = &now
	case model.AllocationStatusReleased:
		updates["released_at"] = &now
		updates["released_reason"] = reason
	}

	result := tx.WithContext(ctx).
		Model(&model.Allocation{}).
		Where("allocation_no = ? AND status = ?", allocationNo, fromStatus).
		Updates(updates)

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrAllocationStatusInvalid
	}

	return nil
}

// GetStale 查询超期未落账的占用
func (r *AllocationRepository) GetStale(ctx context.Context, budgetCodeID int64, cutoff time.Time, limit int) ([]*model.Allocation, error) {
	var allocations []*model.Allocation
	err := r.db.WithContext(ctx).
		Where("budget_code_id = ? AND status = ? AND allocated_at < ?",
			budgetCodeID, model.AllocationStatusAllocated, cutoff).
		Limit(limit).
		Find(&allocations).Error
	return allocations, err
}

func (r *AllocationRepository) ListByBudgetCode(ctx context.Context, budgetCodeID int64, status string, page, pageSize int) ([]*model.Allocation, int64, error) {
	var allocations []*model.Allocation
	var total int64

	query := r.db.WithContext(ctx).Model(&model.Allocation{}).Where("budget_code_id = ?", budgetCodeID)
	if status != "" {
		query = query.Where("status = ?", status)
	}

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = query.
		Order("allocated_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&allocations).Error

	return allocations, total, err
}

// ListSpentSince 查询某编码一段时间内已落账的占用（月度消耗统计用）
func (r *AllocationRepository) ListSpentSince(ctx context.Context, budgetCodeID int64, since time.Time) ([]*model.Allocation, error) {
	var allocations []*model.Allocation
	err := r.db.WithContext(ctx).
		Where("budget_code_id = ? AND status = ? AND spent_at >= ?",
			budgetCodeID, model.AllocationStatusSpent, since).
		Order("spent_at ASC").
		Find(&allocations).Error
	return allocations, err
}

func (r *AllocationRepository) CountByBudgetCode(ctx context.Context, budgetCodeID int64) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.Allocation{}).
		Where("budget_code_id = ?", budgetCodeID).
		Count(&count).Error
	return count, err
}
