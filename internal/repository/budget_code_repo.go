package repository

import (
	"context"
	"errors"

	"budgetledger/internal/model"

	"gorm.io/gorm"
)

var (
	ErrBudgetCodeNotFound  = errors.New("预算编码不存在")
	ErrInsufficientBudget  = errors.New("预算余额不足")
	ErrOptimisticLock      = errors.New("乐观锁冲突，请重试")
	ErrBudgetStatusInvalid = errors.New("预算编码状态不合法")
	ErrConstraintViolation = errors.New("调整后的预算不能低于已使用金额")
	ErrDuplicateBudgetCode = errors.New("预算编码已存在")
)

type BudgetCodeRepository struct {
	db *gorm.DB
}

func NewBudgetCodeRepository(db *gorm.DB) *BudgetCodeRepository {
	return &BudgetCodeRepository{db: db}
}

func (r *BudgetCodeRepository) Create(ctx context.Context, tx *gorm.DB, code *model.BudgetCode) error {
	if tx == nil {
		tx = r.db
	}
	err := tx.WithContext(ctx).Create(code).Error
	if err != nil && errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateBudgetCode
	}
	return err
}

func (r *BudgetCodeRepository) GetByCode(ctx context.Context, code string) (*model.BudgetCode, error) {
	var bc model.BudgetCode
	err := r.db.WithContext(ctx).Where("code = ?", code).First(&bc).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBudgetCodeNotFound
		}
		return nil, err
	}
	return &bc, nil
}

func (r *BudgetCodeRepository) GetByID(ctx context.Context, id int64) (*model.BudgetCode, error) {
	var bc model.BudgetCode
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&bc).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBudgetCodeNotFound
		}
		return nil, err
	}
	return &bc, nil
}

func (r *BudgetCodeRepository) List(ctx context.Context, department, status string, page, pageSize int) ([]*model.BudgetCode, int64, error) {
	var codes []*model.BudgetCode
	var total int64

	query := r.db.WithContext(ctx).Model(&model.BudgetCode{})
	if department != "" {
		query = query.Where("department = ?", department)
	}
	if status != "" {
		query = query.Where("status = ?", status)
	}

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&codes).Error

	return codes, total, err
}

func (r *BudgetCodeRepository) ListByStatuses(ctx context.Context, statuses []string) ([]*model.BudgetCode, error) {
	var codes []*model.BudgetCode
	err := r.db.WithContext(ctx).
		Where("status IN ?", statuses).
		Find(&codes).Error
	return codes, err
}

// UpdateStatus 预算编码状态 CAS 流转
// WHERE 带上原状态，保证并发下只有一个状态流转成功
func (r *BudgetCodeRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, id int64, fromStatus, toStatus string) error {
	if !model.CanBudgetTransitionTo(fromStatus, toStatus) {
		return ErrBudgetStatusInvalid
	}

	if tx == nil {
		tx = r.db
	}

	updates := map[string]interface{}{
		"status": toStatus,
		"active": toStatus == model.BudgetStatusActive,
	}

	result := tx.WithContext(ctx).
		Model(&model.BudgetCode{}).
		Where("id = ? AND status = ?", id, fromStatus).
		Updates(updates)

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrBudgetStatusInvalid
	}

	return nil
}

// UpdateProfile 更新非金额字段
// 金额字段（budget/used/reserved）不允许走这里，只能通过调整单/调拨单/占用流转变更
func (r *BudgetCodeRepository) UpdateProfile(ctx context.Context, id int64, updates map[string]interface{}) error {
	result := r.db.WithContext(ctx).
		Model(&model.BudgetCode{}).
		Where("id = ?", id).
		Updates(updates)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrBudgetCodeNotFound
	}
	return nil
}

func (r *BudgetCodeRepository) Delete(ctx context.Context, tx *gorm.DB, id int64) error {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).Where("id = ?", id).Delete(&model.BudgetCode{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrBudgetCodeNotFound
	}
	return nil
}

// Reserve 占用资金（check-then-act 的原子版本）
// 余额校验放进 WHERE 条件，配合版本号，两个并发占用不可能同时超扣
func (r *BudgetCodeRepository) Reserve(ctx context.Context, tx *gorm.DB, id int64, amount int64, version int) error {
	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Model(&model.BudgetCode{}).
		Where("id = ? AND version = ? AND budget - used - reserved >= ?", id, version, amount).
		Updates(map[string]interface{}{
			"reserved": gorm.Expr("reserved + ?", amount),
			"version":  gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		// 失败原因有两种：余额不足 / 版本冲突，重读区分
		bc, err := r.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if bc.Remaining() < amount {
			return ErrInsufficientBudget
		}
		return ErrOptimisticLock
	}

	return nil
}

// Settle 占用落账：reserved 转入 used，remaining 不变
func (r *BudgetCodeRepository) Settle(ctx context.Context, tx *gorm.DB, id int64, amount int64, version int) error {
	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Model(&model.BudgetCode{}).
		Where("id = ? AND version = ? AND reserved >= ?", id, version, amount).
		Updates(map[string]interface{}{
			"used":     gorm.Expr("used + ?", amount),
			"reserved": gorm.Expr("reserved - ?", amount),
			"version":  gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrOptimisticLock
	}
	return nil
}

// Unreserve 释放占用：reserved 归还，资金回到 remaining
func (r *BudgetCodeRepository) Unreserve(ctx context.Context, tx *gorm.DB, id int64, amount int64, version int) error {
	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Model(&model.BudgetCode{}).
		Where("id = ? AND version = ? AND reserved >= ?", id, version, amount).
		Updates(map[string]interface{}{
			"reserved": gorm.Expr("reserved - ?", amount),
			"version":  gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrOptimisticLock
	}
	return nil
}

// SetBudget 调整预算总额（调整单落账专用）
// requested >= used + reserved 的约束放进 WHERE 条件，在落账时二次生效
//
// 【重要】必须把 reserved 一并算进去：在途占用最终会通过 Settle 转成 used，
// 只卡 used 的话，调整到 [used, used+reserved) 区间后存量占用落账就会把池子打穿
func (r *BudgetCodeRepository) SetBudget(ctx context.Context, tx *gorm.DB, id int64, newBudget int64, version int) error {
	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Model(&model.BudgetCode{}).
		Where("id = ? AND version = ? AND used + reserved <= ?", id, version, newBudget).
		Updates(map[string]interface{}{
			"budget":  newBudget,
			"version": gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		bc, err := r.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if bc.Used+bc.Reserved > newBudget {
			return ErrConstraintViolation
		}
		return ErrOptimisticLock
	}

	return nil
}

// Debit 调拨划出：budget 减少，余额校验在 WHERE 条件里
func (r *BudgetCodeRepository) Debit(ctx context.Context, tx *gorm.DB, id int64, amount int64, version int) error {
	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Model(&model.BudgetCode{}).
		Where("id = ? AND version = ? AND budget - used - reserved >= ?", id, version, amount).
		Updates(map[string]interface{}{
			"budget":  gorm.Expr("budget - ?", amount),
			"version": gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		bc, err := r.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if bc.Remaining() < amount {
			return ErrInsufficientBudget
		}
		return ErrOptimisticLock
	}

	return nil
}

// Credit 调拨划入：budget 增加
func (r *BudgetCodeRepository) Credit(ctx context.Context, tx *gorm.DB, id int64, amount int64, version int) error {
	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Model(&model.BudgetCode{}).
		Where("id = ? AND version = ?", id, version).
		Updates(map[string]interface{}{
			"budget":  gorm.Expr("budget + ?", amount),
			"version": gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrOptimisticLock
	}
	return nil
}
