package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"budgetledger/internal/config"
	"budgetledger/internal/model"
	"budgetledger/internal/repository"

	"gorm.io/gorm"
)

// BudgetCodeService 预算编码的创建与生命周期管理
type BudgetCodeService struct {
	db        *gorm.DB
	cfg       *config.Config
	codeRepo  *repository.BudgetCodeRepository
	allocRepo *repository.AllocationRepository
	approval  *ApprovalService
}

func NewBudgetCodeService(db *gorm.DB, cfg *config.Config, approval *ApprovalService) *BudgetCodeService {
	return &BudgetCodeService{
		db:        db,
		cfg:       cfg,
		codeRepo:  repository.NewBudgetCodeRepository(db),
		allocRepo: repository.NewAllocationRepository(db),
		approval:  approval,
	}
}

type CreateBudgetCodeRequest struct {
	Code         string
	Name         string
	Department   string
	BudgetType   string
	BudgetPeriod string
	FiscalYear   int
	Budget       int64
	OwnerName    string
	OwnerEmail   string
	StartDate    time.Time
	EndDate      *time.Time
}

// CreateBudgetCode 创建预算编码并挂上创建审批链
// 新编码停留在第一级审批人的等待状态，终审通过后才激活
func (s *BudgetCodeService) CreateBudgetCode(ctx context.Context, req *CreateBudgetCodeRequest) (*model.BudgetCode, error) {
	if !model.IsValidBudgetCode(req.Code) {
		return nil, NewValidationError("预算编码格式不合法，要求 [A-Z0-9_-]{3,20}")
	}
	if strings.TrimSpace(req.Name) == "" {
		return nil, NewValidationError("名称不能为空")
	}
	if strings.TrimSpace(req.Department) == "" {
		return nil, NewValidationError("所属部门不能为空")
	}
	if !model.IsValidBudgetType(req.BudgetType) {
		return nil, NewValidationError("预算类型不合法")
	}
	if !model.IsValidBudgetPeriod(req.BudgetPeriod) {
		return nil, NewValidationError("预算周期不合法")
	}
	if req.Budget <= 0 {
		return nil, NewValidationError("预算总额必须大于0")
	}
	if req.FiscalYear < 2000 || req.FiscalYear > 2100 {
		return nil, NewValidationError("财年不合法")
	}
	if req.EndDate != nil && !req.EndDate.After(req.StartDate) {
		return nil, NewValidationError("失效日期必须晚于生效日期")
	}

	code := &model.BudgetCode{
		Code:         req.Code,
		Name:         req.Name,
		Department:   req.Department,
		BudgetType:   req.BudgetType,
		BudgetPeriod: req.BudgetPeriod,
		FiscalYear:   req.FiscalYear,
		Budget:       req.Budget,
		Status:       model.BudgetStatusPending,
		OwnerName:    req.OwnerName,
		OwnerEmail:   req.OwnerEmail,
		StartDate:    req.StartDate,
		EndDate:      req.EndDate,
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.codeRepo.Create(ctx, tx, code); err != nil {
			return err
		}

		chain, err := s.approval.BuildChain(ctx, tx, model.EntityTypeBudgetCode, code.Code)
		if err != nil {
			return err
		}

		// 编码状态切到第一级审批人的等待状态
		firstStatus := model.PendingStatusForRole(chain.Steps[0].ApproverRole)
		if firstStatus != model.BudgetStatusPending {
			return s.codeRepo.UpdateStatus(ctx, tx, code.ID, model.BudgetStatusPending, firstStatus)
		}
		return nil
	})

	if err != nil {
		return nil, err
	}

	log.Printf("[BudgetCode] 预算编码创建成功: code=%s, budget=%d, department=%s",
		code.Code, code.Budget, code.Department)

	return s.codeRepo.GetByCode(ctx, code.Code)
}

// BudgetCodeDetail 编码详情（带审批链和余额）
type BudgetCodeDetail struct {
	*model.BudgetCode
	Remaining     int64                `json:"remaining"`
	ApprovalChain *model.ApprovalChain `json:"approval_chain,omitempty"`
}

func (s *BudgetCodeService) GetBudgetCode(ctx context.Context, code string) (*BudgetCodeDetail, error) {
	bc, err := s.codeRepo.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}

	chain, err := s.approval.GetChain(ctx, model.EntityTypeBudgetCode, code)
	if err != nil && err != repository.ErrChainNotFound {
		return nil, err
	}

	return &BudgetCodeDetail{
		BudgetCode:    bc,
		Remaining:     bc.Remaining(),
		ApprovalChain: chain,
	}, nil
}

func (s *BudgetCodeService) ListBudgetCodes(ctx context.Context, department, status string, page, pageSize int) ([]*model.BudgetCode, int64, error) {
	return s.codeRepo.List(ctx, department, status, page, pageSize)
}

type UpdateBudgetCodeRequest struct {
	Name       string
	OwnerName  string
	OwnerEmail string
	EndDate    *time.Time
}

// UpdateBudgetCode 更新非金额字段
// budget/used/reserved 不在可更新范围内，金额变更只能走调整单和调拨单
func (s *BudgetCodeService) UpdateBudgetCode(ctx context.Context, code string, req *UpdateBudgetCodeRequest) (*model.BudgetCode, error) {
	bc, err := s.codeRepo.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	if strings.TrimSpace(req.Name) != "" {
		updates["name"] = req.Name
	}
	if strings.TrimSpace(req.OwnerName) != "" {
		updates["owner_name"] = req.OwnerName
	}
	if strings.TrimSpace(req.OwnerEmail) != "" {
		updates["owner_email"] = req.OwnerEmail
	}
	if req.EndDate != nil {
		if !req.EndDate.After(bc.StartDate) {
			return nil, NewValidationError("失效日期必须晚于生效日期")
		}
		updates["end_date"] = req.EndDate
	}

	if len(updates) == 0 {
		return bc, nil
	}

	if err := s.codeRepo.UpdateProfile(ctx, bc.ID, updates); err != nil {
		return nil, err
	}
	return s.codeRepo.GetByCode(ctx, code)
}

// DeleteBudgetCode 删除预算编码
// 只允许删除从未激活的编码（审批中或已驳回）且名下没有任何占用记录
func (s *BudgetCodeService) DeleteBudgetCode(ctx context.Context, code string) error {
	bc, err := s.codeRepo.GetByCode(ctx, code)
	if err != nil {
		return err
	}

	switch bc.Status {
	case model.BudgetStatusActive, model.BudgetStatusSuspended, model.BudgetStatusExpired:
		return fmt.Errorf("已激活过的预算编码不允许删除: %w", repository.ErrBudgetStatusInvalid)
	}

	count, err := s.allocRepo.CountByBudgetCode(ctx, bc.ID)
	if err != nil {
		return err
	}
	if count > 0 {
		return fmt.Errorf("存在资金占用记录的预算编码不允许删除: %w", repository.ErrBudgetStatusInvalid)
	}

	return s.codeRepo.Delete(ctx, nil, bc.ID)
}

// ToggleSuspend 挂起/恢复
// 挂起冻结新的资金占用，但存量占用仍可落账或释放，超期清理也照常进行
func (s *BudgetCodeService) ToggleSuspend(ctx context.Context, code string) (*model.BudgetCode, error) {
	bc, err := s.codeRepo.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}

	var target string
	switch bc.Status {
	case model.BudgetStatusActive:
		target = model.BudgetStatusSuspended
	case model.BudgetStatusSuspended:
		target = model.BudgetStatusActive
	default:
		return nil, fmt.Errorf("当前状态 %s 不支持挂起/恢复: %w", bc.Status, repository.ErrBudgetStatusInvalid)
	}

	if err := s.codeRepo.UpdateStatus(ctx, nil, bc.ID, bc.Status, target); err != nil {
		return nil, err
	}

	log.Printf("[BudgetCode] 预算编码状态切换: code=%s, %s -> %s", code, bc.Status, target)
	return s.codeRepo.GetByCode(ctx, code)
}
