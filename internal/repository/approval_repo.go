package repository

import (
	"context"
	"errors"
	"time"

	"budgetledger/internal/model"

	"gorm.io/gorm"
)

var (
	ErrChainNotFound      = errors.New("审批链不存在")
	ErrChainStateConflict = errors.New("审批链状态已变更，请重试")
	ErrAlreadyDecided     = errors.New("审批链已到终态，不可再决策")
	ErrNotCurrentApprover = errors.New("不是当前待审批人")
)

type ApprovalRepository struct {
	db *gorm.DB
}

func NewApprovalRepository(db *gorm.DB) *ApprovalRepository {
	return &ApprovalRepository{db: db}
}

// CreateChain 创建审批链及全部步骤（同事务）
func (r *ApprovalRepository) CreateChain(ctx context.Context, tx *gorm.DB, chain *model.ApprovalChain) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(chain).Error
}

// GetByEntity 按实体查审批链，带全部步骤（按层级升序）
func (r *ApprovalRepository) GetByEntity(ctx context.Context, entityType, entityNo string) (*model.ApprovalChain, error) {
	var chain model.ApprovalChain
	err := r.db.WithContext(ctx).
		Preload("Steps", func(db *gorm.DB) *gorm.DB {
			return db.Order("level ASC")
		}).
		Where("entity_type = ? AND entity_no = ?", entityType, entityNo).
		First(&chain).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrChainNotFound
		}
		return nil, err
	}
	return &chain, nil
}

// DecideStep 给步骤写入决策结果，CAS 保证同一步骤只能决策一次
func (r *ApprovalRepository) DecideStep(ctx context.Context, tx *gorm.DB, chainID int64, level int, toStatus, comments string) error {
	if tx == nil {
		tx = r.db
	}

	now := time.Now()
	result := tx.WithContext(ctx).
		Model(&model.ApprovalStep{}).
		Where("chain_id = ? AND level = ? AND status = ?", chainID, level, model.StepStatusPending).
		Updates(map[string]interface{}{
			"status":    toStatus,
			"action_at": &now,
			"comments":  comments,
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrAlreadyDecided
	}
	return nil
}

// Advance 审批链前进一级
// WHERE 同时带 state 和 current_level，两个并发推进只有一个成功
func (r *ApprovalRepository) Advance(ctx context.Context, tx *gorm.DB, chainID int64, fromLevel int) error {
	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Model(&model.ApprovalChain{}).
		Where("id = ? AND state = ? AND current_level = ?", chainID, model.ChainStateAwaiting, fromLevel).
		Update("current_level", gorm.Expr("current_level + 1"))

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrChainStateConflict
	}
	return nil
}

// Finish 审批链收尾到终态（APPROVED / REJECTED）
// 终态流转的 CAS 同时是激活回调的幂等护栏：只有赢得这次更新的调用方才执行回调
func (r *ApprovalRepository) Finish(ctx context.Context, tx *gorm.DB, chainID int64, fromLevel int, terminalState string) error {
	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Model(&model.ApprovalChain{}).
		Where("id = ? AND state = ? AND current_level = ?", chainID, model.ChainStateAwaiting, fromLevel).
		Update("state", terminalState)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrChainStateConflict
	}
	return nil
}

// PendingApproval 待办事项（"全部待审" 与 "我的待审" 共用的查询投影）
type PendingApproval struct {
	EntityType    string    `json:"entity_type"`
	EntityNo      string    `json:"entity_no"`
	Level         int       `json:"level"`
	TotalLevels   int       `json:"total_levels"`
	ApproverName  string    `json:"approver_name"`
	ApproverRole  string    `json:"approver_role"`
	ApproverEmail string    `json:"approver_email"`
	CreatedAt     time.Time `json:"created_at"`
}

// ListPending 全部待审事项
// 当前步骤 = 链 AWAITING 且 step.level = chain.current_level，纯查询不落缓存
func (r *ApprovalRepository) ListPending(ctx context.Context, approverEmail string) ([]*PendingApproval, error) {
	var items []*PendingApproval

	query := r.db.WithContext(ctx).
		Table("approval_step AS s").
		Select("c.entity_type, c.entity_no, s.level, c.total_levels, s.approver_name, s.approver_role, s.approver_email, c.created_at").
		Joins("JOIN approval_chain AS c ON c.id = s.chain_id AND c.state = ? AND s.level = c.current_level", model.ChainStateAwaiting)

	if approverEmail != "" {
		query = query.Where("LOWER(s.approver_email) = LOWER(?)", approverEmail)
	}

	err := query.Order("c.created_at ASC").Scan(&items).Error
	return items, err
}
