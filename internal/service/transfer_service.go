package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"budgetledger/internal/config"
	"budgetledger/internal/infrastructure/lock"
	"budgetledger/internal/model"
	"budgetledger/internal/repository"
	"budgetledger/pkg/idgen"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// TransferService 预算划拨单的提交、取消与查询
// 真正的扣减/入账在 LedgerService.ExecuteTransfer，由审批引擎在终审时调用
type TransferService struct {
	db           *gorm.DB
	redisClient  *redis.Client
	cfg          *config.Config
	codeRepo     *repository.BudgetCodeRepository
	transRepo    *repository.TransferRepository
	approvalRepo *repository.ApprovalRepository
	approval     *ApprovalService
}

func NewTransferService(db *gorm.DB, redisClient *redis.Client, cfg *config.Config, approval *ApprovalService) *TransferService {
	return &TransferService{
		db:           db,
		redisClient:  redisClient,
		cfg:          cfg,
		codeRepo:     repository.NewBudgetCodeRepository(db),
		transRepo:    repository.NewTransferRepository(db),
		approvalRepo: repository.NewApprovalRepository(db),
		approval:     approval,
	}
}

type CreateTransferRequest struct {
	FromCode    string
	ToCode      string
	Amount      int64
	Reason      string
	RequestedBy string
}

// CreateTransfer 提交预算划拨单
//
// 提交时校验转出方可用余额充足，但不冻结额度；
// 审批期间余额可能被其他消费占用，落账时会在事务内二次校验
func (s *TransferService) CreateTransfer(ctx context.Context, req *CreateTransferRequest) (*model.Transfer, error) {
	if req.FromCode == req.ToCode {
		return nil, NewValidationError("转出方和转入方不能是同一个预算编码")
	}
	if req.Amount <= 0 {
		return nil, NewValidationError("划拨金额必须大于0")
	}
	if len(strings.TrimSpace(req.Reason)) < model.MinReasonLength {
		return nil, NewValidationError(fmt.Sprintf("划拨理由不能少于%d个字符", model.MinReasonLength))
	}
	if strings.TrimSpace(req.RequestedBy) == "" {
		return nil, NewValidationError("申请人不能为空")
	}

	fromCode, err := s.codeRepo.GetByCode(ctx, req.FromCode)
	if err != nil {
		return nil, err
	}
	toCode, err := s.codeRepo.GetByCode(ctx, req.ToCode)
	if err != nil {
		return nil, err
	}

	if fromCode.Status != model.BudgetStatusActive {
		return nil, fmt.Errorf("转出方 %s 当前状态 %s 不允许划拨: %w",
			req.FromCode, fromCode.Status, repository.ErrBudgetStatusInvalid)
	}
	if toCode.Status != model.BudgetStatusActive {
		return nil, fmt.Errorf("转入方 %s 当前状态 %s 不允许划拨: %w",
			req.ToCode, toCode.Status, repository.ErrBudgetStatusInvalid)
	}
	if req.Amount > fromCode.Remaining() {
		return nil, fmt.Errorf("转出方 %s 可用余额不足: 可用=%d, 申请=%d: %w",
			req.FromCode, fromCode.Remaining(), req.Amount, repository.ErrInsufficientBudget)
	}

	transfer := &model.Transfer{
		TransferNo:  idgen.GenerateTransferNo(),
		FromCodeID:  fromCode.ID,
		ToCodeID:    toCode.ID,
		Amount:      req.Amount,
		Reason:      req.Reason,
		RequestedBy: req.RequestedBy,
		Status:      model.TransferStatusPending,
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.transRepo.Create(ctx, tx, transfer); err != nil {
			return err
		}
		_, err := s.approval.BuildChain(ctx, tx, model.EntityTypeTransfer, transfer.TransferNo)
		return err
	})

	if err != nil {
		return nil, err
	}

	log.Printf("[Transfer] 预算划拨单提交成功: transferNo=%s, %s -> %s, amount=%d",
		transfer.TransferNo, req.FromCode, req.ToCode, req.Amount)
	return transfer, nil
}

// CancelTransfer 申请人撤销在途划拨单
//
// 只允许撤销 PENDING 状态的单，且只能由申请人本人撤销；
// 撤销时将审批链一并置为 REJECTED，避免悬空的待办
func (s *TransferService) CancelTransfer(ctx context.Context, transferNo, operator string) error {
	// 撤销和终审落账竞争同一张单，先串行化，状态 CAS 兜底
	transferLock := lock.NewTransferLock(s.redisClient, transferNo)
	if err := transferLock.Lock(ctx, 100*time.Millisecond, 30); err != nil {
		return fmt.Errorf("系统繁忙，请稍后重试: %w", err)
	}
	defer transferLock.Unlock(ctx)

	transfer, err := s.transRepo.GetByNo(ctx, transferNo)
	if err != nil {
		return err
	}

	if transfer.Status != model.TransferStatusPending {
		return fmt.Errorf("划拨单 %s 当前状态 %s 不允许撤销: %w",
			transferNo, transfer.Status, repository.ErrTransferStatusInvalid)
	}
	if !strings.EqualFold(transfer.RequestedBy, operator) {
		return NewValidationError("只有申请人本人可以撤销划拨单")
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.transRepo.UpdateStatus(ctx, tx, transferNo,
			model.TransferStatusPending, model.TransferStatusCancelled); err != nil {
			return err
		}

		chain, err := s.approvalRepo.GetByEntity(ctx, model.EntityTypeTransfer, transferNo)
		if err != nil {
			if err == repository.ErrChainNotFound {
				return nil
			}
			return err
		}
		if chain.IsTerminal() {
			return nil
		}
		return s.approvalRepo.Finish(ctx, tx, chain.ID, chain.CurrentLevel, model.ChainStateRejected)
	})
}

// TransferDetail 划拨单详情（带审批链）
type TransferDetail struct {
	*model.Transfer
	ApprovalChain *model.ApprovalChain `json:"approval_chain,omitempty"`
}

func (s *TransferService) GetTransfer(ctx context.Context, transferNo string) (*TransferDetail, error) {
	transfer, err := s.transRepo.GetByNo(ctx, transferNo)
	if err != nil {
		return nil, err
	}

	chain, err := s.approval.GetChain(ctx, model.EntityTypeTransfer, transferNo)
	if err != nil && err != repository.ErrChainNotFound {
		return nil, err
	}

	return &TransferDetail{Transfer: transfer, ApprovalChain: chain}, nil
}

func (s *TransferService) ListTransfers(ctx context.Context, code string, page, pageSize int) ([]*model.Transfer, int64, error) {
	bc, err := s.codeRepo.GetByCode(ctx, code)
	if err != nil {
		return nil, 0, err
	}
	return s.transRepo.ListByBudgetCode(ctx, bc.ID, page, pageSize)
}
