package service

import (
	"context"
	"fmt"
	"log"
	"strings"

	"budgetledger/internal/config"
	"budgetledger/internal/model"
	"budgetledger/internal/repository"
	"budgetledger/pkg/idgen"

	"gorm.io/gorm"
)

// RevisionService 预算调整单的提交与查询
// 落账动作在 LedgerService.ApplyRevision，由审批引擎在终审时调用
type RevisionService struct {
	db       *gorm.DB
	cfg      *config.Config
	codeRepo *repository.BudgetCodeRepository
	revRepo  *repository.RevisionRepository
	approval *ApprovalService
}

func NewRevisionService(db *gorm.DB, cfg *config.Config, approval *ApprovalService) *RevisionService {
	return &RevisionService{
		db:       db,
		cfg:      cfg,
		codeRepo: repository.NewBudgetCodeRepository(db),
		revRepo:  repository.NewRevisionRepository(db),
		approval: approval,
	}
}

type CreateRevisionRequest struct {
	Code            string
	RequestedBudget int64
	Reason          string
	RequestedBy     string
}

// CreateRevision 提交预算调整单
//
// requested >= used + reserved 在提交时就拦截（还没进审批链），落账时还会二次校验
func (s *RevisionService) CreateRevision(ctx context.Context, req *CreateRevisionRequest) (*model.Revision, error) {
	if len(strings.TrimSpace(req.Reason)) < model.MinReasonLength {
		return nil, NewValidationError(fmt.Sprintf("调整理由不能少于%d个字符", model.MinReasonLength))
	}
	if strings.TrimSpace(req.RequestedBy) == "" {
		return nil, NewValidationError("申请人不能为空")
	}
	if req.RequestedBudget < 0 {
		return nil, NewValidationError("申请预算不能为负数")
	}

	bc, err := s.codeRepo.GetByCode(ctx, req.Code)
	if err != nil {
		return nil, err
	}

	if bc.Status != model.BudgetStatusActive && bc.Status != model.BudgetStatusSuspended {
		return nil, fmt.Errorf("预算编码 %s 当前状态 %s 不允许调整: %w",
			req.Code, bc.Status, repository.ErrBudgetStatusInvalid)
	}
	if req.RequestedBudget == bc.Budget {
		return nil, NewValidationError("申请预算不能与当前预算相同")
	}
	// 占用中的金额最终会落账成已使用，调减下限是 used + reserved 而不是 used
	if req.RequestedBudget < bc.Used+bc.Reserved {
		return nil, fmt.Errorf("申请预算 %d 低于已使用与占用中金额之和 %d: %w",
			req.RequestedBudget, bc.Used+bc.Reserved, repository.ErrConstraintViolation)
	}

	// 同一编码同时只允许一张在途调整单，避免两张单先后落账互相覆盖
	hasPending, err := s.revRepo.HasPendingByBudgetCode(ctx, bc.ID)
	if err != nil {
		return nil, err
	}
	if hasPending {
		return nil, NewValidationError("该预算编码已有在途调整单")
	}

	revision := &model.Revision{
		RevisionNo:      idgen.GenerateRevisionNo(),
		BudgetCodeID:    bc.ID,
		PreviousBudget:  bc.Budget,
		RequestedBudget: req.RequestedBudget,
		ChangeAmount:    req.RequestedBudget - bc.Budget,
		Reason:          req.Reason,
		RequestedBy:     req.RequestedBy,
		Status:          model.RevisionStatusPending,
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.revRepo.Create(ctx, tx, revision); err != nil {
			return err
		}
		_, err := s.approval.BuildChain(ctx, tx, model.EntityTypeRevision, revision.RevisionNo)
		return err
	})

	if err != nil {
		return nil, err
	}

	log.Printf("[Revision] 预算调整单提交成功: revisionNo=%s, code=%s, %d -> %d",
		revision.RevisionNo, req.Code, revision.PreviousBudget, revision.RequestedBudget)
	return revision, nil
}

// RevisionDetail 调整单详情（带审批链）
type RevisionDetail struct {
	*model.Revision
	ApprovalChain *model.ApprovalChain `json:"approval_chain,omitempty"`
}

func (s *RevisionService) GetRevision(ctx context.Context, revisionNo string) (*RevisionDetail, error) {
	revision, err := s.revRepo.GetByNo(ctx, revisionNo)
	if err != nil {
		return nil, err
	}

	chain, err := s.approval.GetChain(ctx, model.EntityTypeRevision, revisionNo)
	if err != nil && err != repository.ErrChainNotFound {
		return nil, err
	}

	return &RevisionDetail{Revision: revision, ApprovalChain: chain}, nil
}

func (s *RevisionService) ListRevisions(ctx context.Context, code string, page, pageSize int) ([]*model.Revision, int64, error) {
	bc, err := s.codeRepo.GetByCode(ctx, code)
	if err != nil {
		return nil, 0, err
	}
	return s.revRepo.ListByBudgetCode(ctx, bc.ID, page, pageSize)
}
