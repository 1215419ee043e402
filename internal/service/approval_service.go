package service

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"budgetledger/internal/config"
	"budgetledger/internal/infrastructure/lock"
	"budgetledger/internal/model"
	"budgetledger/internal/repository"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// ApprovalService 审批工作流引擎
// 负责三件事：判断轮到谁审、落一次决策、在链到达终态时触发实体侧的落账动作
//
// 【关键点】决策处理需要保证：
// 1. 串行化：同一条链上两个并发决策只有一个成功，输家看到链已流转
// 2. 幂等：链到终态后再提交决策只会拿到 AlreadyDecided
// 3. 原子：终态流转和实体落账（激活/调整/调拨）在同一事务里提交
type ApprovalService struct {
	db           *gorm.DB
	redisClient  *redis.Client
	cfg          *config.Config
	approvalRepo *repository.ApprovalRepository
	codeRepo     *repository.BudgetCodeRepository
	resolver     ApproverResolver
	ledger       *LedgerService
}

func NewApprovalService(db *gorm.DB, redisClient *redis.Client, cfg *config.Config, resolver ApproverResolver, ledger *LedgerService) *ApprovalService {
	return &ApprovalService{
		db:           db,
		redisClient:  redisClient,
		cfg:          cfg,
		approvalRepo: repository.NewApprovalRepository(db),
		codeRepo:     repository.NewBudgetCodeRepository(db),
		resolver:     resolver,
		ledger:       ledger,
	}
}

// BuildChain 为新实体实例化审批链
// 审批人顺序由注入的 ApproverResolver 决定，链创建后不可变
func (s *ApprovalService) BuildChain(ctx context.Context, tx *gorm.DB, entityType, entityNo string) (*model.ApprovalChain, error) {
	approvers, err := s.resolver.Resolve(ctx, entityType)
	if err != nil {
		return nil, NewValidationError(err.Error())
	}

	chain := &model.ApprovalChain{
		EntityType:   entityType,
		EntityNo:     entityNo,
		State:        model.ChainStateAwaiting,
		CurrentLevel: 1,
		TotalLevels:  len(approvers),
	}
	for i, approver := range approvers {
		chain.Steps = append(chain.Steps, model.ApprovalStep{
			Level:         i + 1,
			ApproverName:  approver.Name,
			ApproverRole:  approver.Role,
			ApproverEmail: approver.Email,
			Department:    approver.Department,
			Status:        model.StepStatusPending,
		})
	}

	if err := s.approvalRepo.CreateChain(ctx, tx, chain); err != nil {
		return nil, err
	}
	return chain, nil
}

// GetChain 查询实体的审批链（带全部步骤）
func (s *ApprovalService) GetChain(ctx context.Context, entityType, entityNo string) (*model.ApprovalChain, error) {
	return s.approvalRepo.GetByEntity(ctx, entityType, entityNo)
}

// DecisionRequest 一次审批决策
type DecisionRequest struct {
	EntityType string
	EntityNo   string
	ActorEmail string
	Decision   string // approved / rejected
	Comments   string // 驳回时必填
}

// SubmitDecision 提交一次审批决策并推进审批链
func (s *ApprovalService) SubmitDecision(ctx context.Context, req *DecisionRequest) (*model.ApprovalChain, error) {
	if req.Decision != model.DecisionApproved && req.Decision != model.DecisionRejected {
		return nil, NewValidationError("decision 必须是 approved 或 rejected")
	}
	if req.Decision == model.DecisionRejected && strings.TrimSpace(req.Comments) == "" {
		return nil, NewValidationError("驳回时必须填写审批意见")
	}

	// 同一条链上的决策串行化；锁之下还有链状态 CAS 兜底
	decisionLock := lock.NewDecisionLock(s.redisClient, req.EntityType, req.EntityNo, req.ActorEmail)
	if err := decisionLock.Lock(ctx, 100*time.Millisecond, 30); err != nil {
		return nil, errors.New("系统繁忙，请稍后重试")
	}
	defer decisionLock.Unlock(ctx)

	for attempt := 0; attempt < maxOptimisticRetries; attempt++ {
		chain, err := s.approvalRepo.GetByEntity(ctx, req.EntityType, req.EntityNo)
		if err != nil {
			return nil, err
		}

		if chain.IsTerminal() {
			return nil, repository.ErrAlreadyDecided
		}

		step := chain.CurrentStep()
		if step == nil {
			return nil, repository.ErrAlreadyDecided
		}
		// 身份匹配按邮箱不区分大小写
		if !strings.EqualFold(step.ApproverEmail, req.ActorEmail) {
			return nil, repository.ErrNotCurrentApprover
		}

		if req.Decision == model.DecisionApproved {
			err = s.approve(ctx, chain, step, req)
		} else {
			err = s.reject(ctx, chain, step, req)
		}

		if err == nil {
			return s.approvalRepo.GetByEntity(ctx, req.EntityType, req.EntityNo)
		}
		// 落账时的版本冲突回滚了整个决策事务，链状态未变，安全重试
		if errors.Is(err, repository.ErrOptimisticLock) || errors.Is(err, repository.ErrChainStateConflict) {
			continue
		}
		return nil, err
	}

	return nil, repository.ErrChainStateConflict
}

// approve 通过当前步骤
// 最后一级通过时，链的终态流转（CAS）和实体落账在同一事务里，
// 赢得这次 CAS 的调用方才执行落账回调，保证回调至多触发一次
func (s *ApprovalService) approve(ctx context.Context, chain *model.ApprovalChain, step *model.ApprovalStep, req *DecisionRequest) error {
	isLast := step.Level == chain.TotalLevels

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.approvalRepo.DecideStep(ctx, tx, chain.ID, step.Level, model.StepStatusApproved, req.Comments); err != nil {
			return err
		}

		if isLast {
			if err := s.approvalRepo.Finish(ctx, tx, chain.ID, step.Level, model.ChainStateApproved); err != nil {
				return err
			}
			if err := s.applyTerminalApproval(ctx, tx, chain.EntityType, chain.EntityNo); err != nil {
				return err
			}
		} else {
			if err := s.approvalRepo.Advance(ctx, tx, chain.ID, step.Level); err != nil {
				return err
			}
			if err := s.advanceEntityStatus(ctx, tx, chain, step.Level+1); err != nil {
				return err
			}
		}

		return s.ledger.writeOutbox(ctx, tx, s.cfg.Kafka.Topic.ApprovalResult, chain.EntityNo, map[string]interface{}{
			"event":       "approval_decided",
			"entity_type": chain.EntityType,
			"entity_no":   chain.EntityNo,
			"level":       step.Level,
			"decision":    model.DecisionApproved,
			"approver":    step.ApproverEmail,
			"terminal":    isLast,
			"occurred_at": time.Now().Format(time.RFC3339),
		})
	})

	if err == nil {
		log.Printf("[Approval] 审批通过: entity=%s/%s, level=%d/%d, approver=%s",
			chain.EntityType, chain.EntityNo, step.Level, chain.TotalLevels, step.ApproverEmail)
	}
	return err
}

// reject 驳回当前步骤：链到 REJECTED 终态，后续层级永远停留在 PENDING
func (s *ApprovalService) reject(ctx context.Context, chain *model.ApprovalChain, step *model.ApprovalStep, req *DecisionRequest) error {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.approvalRepo.DecideStep(ctx, tx, chain.ID, step.Level, model.StepStatusRejected, req.Comments); err != nil {
			return err
		}
		if err := s.approvalRepo.Finish(ctx, tx, chain.ID, step.Level, model.ChainStateRejected); err != nil {
			return err
		}
		if err := s.applyTerminalRejection(ctx, tx, chain.EntityType, chain.EntityNo, req.Comments); err != nil {
			return err
		}

		return s.ledger.writeOutbox(ctx, tx, s.cfg.Kafka.Topic.ApprovalResult, chain.EntityNo, map[string]interface{}{
			"event":       "approval_decided",
			"entity_type": chain.EntityType,
			"entity_no":   chain.EntityNo,
			"level":       step.Level,
			"decision":    model.DecisionRejected,
			"approver":    step.ApproverEmail,
			"comments":    req.Comments,
			"terminal":    true,
			"occurred_at": time.Now().Format(time.RFC3339),
		})
	})

	if err == nil {
		log.Printf("[Approval] 审批驳回: entity=%s/%s, level=%d, approver=%s",
			chain.EntityType, chain.EntityNo, step.Level, step.ApproverEmail)
	}
	return err
}

// applyTerminalApproval 链全部通过后的实体落账
func (s *ApprovalService) applyTerminalApproval(ctx context.Context, tx *gorm.DB, entityType, entityNo string) error {
	switch entityType {
	case model.EntityTypeBudgetCode:
		return s.ledger.Activate(ctx, tx, entityNo)
	case model.EntityTypeRevision:
		return s.ledger.ApplyRevision(ctx, tx, entityNo)
	case model.EntityTypeTransfer:
		return s.ledger.ExecuteTransfer(ctx, tx, entityNo)
	case model.EntityTypeRequisition:
		// 请购单归外部系统所有，对方消费审批结论事件自行落账
		return nil
	}
	return NewValidationError("未知的审批实体类型: " + entityType)
}

// applyTerminalRejection 链被驳回后的实体状态收尾
func (s *ApprovalService) applyTerminalRejection(ctx context.Context, tx *gorm.DB, entityType, entityNo, comments string) error {
	switch entityType {
	case model.EntityTypeBudgetCode:
		return s.ledger.RejectBudgetCode(ctx, tx, entityNo)
	case model.EntityTypeRevision:
		return s.ledger.RejectRevision(ctx, tx, entityNo, comments)
	case model.EntityTypeTransfer:
		return s.ledger.RejectTransfer(ctx, tx, entityNo, comments)
	case model.EntityTypeRequisition:
		return nil
	}
	return NewValidationError("未知的审批实体类型: " + entityType)
}

// advanceEntityStatus 链前进一级后，预算编码的状态跟着切到下一级的等待状态
// 调整单/调拨单没有逐级状态，整个审批期间停留在 PENDING
func (s *ApprovalService) advanceEntityStatus(ctx context.Context, tx *gorm.DB, chain *model.ApprovalChain, nextLevel int) error {
	if chain.EntityType != model.EntityTypeBudgetCode {
		return nil
	}

	var nextStep *model.ApprovalStep
	for i := range chain.Steps {
		if chain.Steps[i].Level == nextLevel {
			nextStep = &chain.Steps[i]
			break
		}
	}
	if nextStep == nil {
		return nil
	}

	bc, err := s.codeRepo.GetByCode(ctx, chain.EntityNo)
	if err != nil {
		return err
	}

	nextStatus := model.PendingStatusForRole(nextStep.ApproverRole)
	// 角色没有对应的等待状态（如自定义角色）时维持现状
	if nextStatus == model.BudgetStatusPending || nextStatus == bc.Status {
		return nil
	}
	return s.codeRepo.UpdateStatus(ctx, tx, bc.ID, bc.Status, nextStatus)
}

// PendingAll 全部待审事项
func (s *ApprovalService) PendingAll(ctx context.Context) ([]*repository.PendingApproval, error) {
	return s.approvalRepo.ListPending(ctx, "")
}

// PendingForApprover 某审批人的待审事项
// 与 PendingAll 是同一份链状态上的两个查询投影，不维护独立缓存
func (s *ApprovalService) PendingForApprover(ctx context.Context, email string) ([]*repository.PendingApproval, error) {
	if strings.TrimSpace(email) == "" {
		return nil, NewValidationError("email 参数不能为空")
	}
	return s.approvalRepo.ListPending(ctx, email)
}
