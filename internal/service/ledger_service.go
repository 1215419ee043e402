package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"budgetledger/internal/config"
	"budgetledger/internal/infrastructure/lock"
	"budgetledger/internal/model"
	"budgetledger/internal/repository"
	"budgetledger/pkg/idgen"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// 乐观锁冲突的本地重试次数上限
const maxOptimisticRetries = 3

// LedgerService 预算台账服务
// 所有涉及 budget/used/reserved 的资金变更都收口在这里，每个操作都是
// 一个短事务，要么全部成功要么全部失败
//
// 【关键点】并发控制分两层：
// 1. Redis 分布式锁压低同一编码上的冲突概率
// 2. 版本号 CAS 兜底正确性：两个并发占用不可能同时通过余额校验
type LedgerService struct {
	db          *gorm.DB
	redisClient *redis.Client
	cfg         *config.Config
	codeRepo    *repository.BudgetCodeRepository
	allocRepo   *repository.AllocationRepository
	revRepo     *repository.RevisionRepository
	transRepo   *repository.TransferRepository
	historyRepo *repository.HistoryRepository
	outboxRepo  *repository.OutboxRepository
}

func NewLedgerService(db *gorm.DB, redisClient *redis.Client, cfg *config.Config) *LedgerService {
	return &LedgerService{
		db:          db,
		redisClient: redisClient,
		cfg:         cfg,
		codeRepo:    repository.NewBudgetCodeRepository(db),
		allocRepo:   repository.NewAllocationRepository(db),
		revRepo:     repository.NewRevisionRepository(db),
		transRepo:   repository.NewTransferRepository(db),
		historyRepo: repository.NewHistoryRepository(db),
		outboxRepo:  repository.NewOutboxRepository(db),
	}
}

// ============================================================
// 资金占用
// ============================================================

// Reserve 为外部请购单占用资金
//
// 余额校验和占用在同一条带版本号的 UPDATE 里完成，
// 两个并发占用不可能都通过 amount <= remaining 的检查后一起超扣
func (s *LedgerService) Reserve(ctx context.Context, code, requisitionID string, amount int64) (*model.Allocation, error) {
	if amount <= 0 {
		return nil, NewValidationError("占用金额必须大于0")
	}

	bc, err := s.codeRepo.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}

	// 只有 ACTIVE 的编码接受新占用；挂起的编码冻结新占用但不影响存量
	if bc.Status != model.BudgetStatusActive {
		return nil, fmt.Errorf("预算编码 %s 当前状态 %s 不允许新的资金占用: %w",
			code, bc.Status, repository.ErrBudgetStatusInvalid)
	}

	reserveLock := lock.NewReserveLock(s.redisClient, code, requisitionID)
	if err := reserveLock.Lock(ctx, 100*time.Millisecond, 30); err != nil {
		return nil, fmt.Errorf("系统繁忙，请稍后重试: %w", err)
	}
	defer reserveLock.Unlock(ctx)

	// 幂等：同一请购单在同一编码下的在途占用只会有一条
	existing, err := s.allocRepo.GetActiveByRequisition(ctx, bc.ID, requisitionID)
	if err != nil {
		return nil, fmt.Errorf("查询占用记录失败: %w", err)
	}
	if existing != nil {
		return existing, nil
	}

	for attempt := 0; attempt < maxOptimisticRetries; attempt++ {
		bc, err = s.codeRepo.GetByID(ctx, bc.ID)
		if err != nil {
			return nil, err
		}

		allocation := &model.Allocation{
			AllocationNo:  idgen.GenerateAllocationNo(),
			BudgetCodeID:  bc.ID,
			RequisitionID: requisitionID,
			Amount:        amount,
			Status:        model.AllocationStatusAllocated,
			AllocatedAt:   time.Now(),
		}

		err = s.db.Transaction(func(tx *gorm.DB) error {
			if err := s.codeRepo.Reserve(ctx, tx, bc.ID, amount, bc.Version); err != nil {
				return err
			}
			return s.allocRepo.Create(ctx, tx, allocation)
		})

		if err == nil {
			log.Printf("[Ledger] 资金占用成功: code=%s, requisition=%s, amount=%d, allocationNo=%s",
				code, requisitionID, amount, allocation.AllocationNo)
			return allocation, nil
		}
		if !errors.Is(err, repository.ErrOptimisticLock) {
			return nil, err
		}
		// 版本冲突，重读后重试
	}

	return nil, repository.ErrOptimisticLock
}

// Spend 占用落账：ALLOCATED -> SPENT，used 增加，remaining 不变
//
// 占用状态 CAS 和编码金额更新在同一事务里：
// 与释放/超期清理竞争同一条占用时只有一个赢家，输家整个事务回滚
func (s *LedgerService) Spend(ctx context.Context, code, allocationNo string) (*model.Allocation, error) {
	bc, err := s.codeRepo.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}

	allocation, err := s.allocRepo.GetByNo(ctx, allocationNo)
	if err != nil {
		return nil, err
	}
	// 占用必须挂在路径里的编码下，不允许跨编码落账
	if allocation.BudgetCodeID != bc.ID {
		return nil, fmt.Errorf("占用 %s 不属于预算编码 %s: %w",
			allocationNo, code, repository.ErrAllocationStatusInvalid)
	}
	if allocation.Status != model.AllocationStatusAllocated {
		return nil, repository.ErrAllocationStatusInvalid
	}

	for attempt := 0; attempt < maxOptimisticRetries; attempt++ {
		bc, err := s.codeRepo.GetByID(ctx, allocation.BudgetCodeID)
		if err != nil {
			return nil, err
		}

		err = s.db.Transaction(func(tx *gorm.DB) error {
			if err := s.allocRepo.UpdateStatus(ctx, tx, allocationNo,
				model.AllocationStatusAllocated, model.AllocationStatusSpent, ""); err != nil {
				return err
			}
			return s.codeRepo.Settle(ctx, tx, bc.ID, allocation.Amount, bc.Version)
		})

		if err == nil {
			log.Printf("[Ledger] 占用落账成功: allocationNo=%s, code=%d, amount=%d",
				allocationNo, bc.ID, allocation.Amount)
			return s.allocRepo.GetByNo(ctx, allocationNo)
		}
		if !errors.Is(err, repository.ErrOptimisticLock) {
			return nil, err
		}
	}

	return nil, repository.ErrOptimisticLock
}

// ReleaseByRequisition 释放某请购单的在途占用，资金回到可用余额
func (s *LedgerService) ReleaseByRequisition(ctx context.Context, code, requisitionID, reason string) (*model.Allocation, error) {
	bc, err := s.codeRepo.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}

	allocation, err := s.allocRepo.GetActiveByRequisition(ctx, bc.ID, requisitionID)
	if err != nil {
		return nil, fmt.Errorf("查询占用记录失败: %w", err)
	}
	if allocation == nil {
		return nil, repository.ErrAllocationNotFound
	}

	if err := s.release(ctx, allocation, reason); err != nil {
		return nil, err
	}
	return s.allocRepo.GetByNo(ctx, allocation.AllocationNo)
}

// release 单条占用的释放：ALLOCATED -> RELEASED，reserved 归还
func (s *LedgerService) release(ctx context.Context, allocation *model.Allocation, reason string) error {
	for attempt := 0; attempt < maxOptimisticRetries; attempt++ {
		bc, err := s.codeRepo.GetByID(ctx, allocation.BudgetCodeID)
		if err != nil {
			return err
		}

		err = s.db.Transaction(func(tx *gorm.DB) error {
			if err := s.allocRepo.UpdateStatus(ctx, tx, allocation.AllocationNo,
				model.AllocationStatusAllocated, model.AllocationStatusReleased, reason); err != nil {
				return err
			}
			return s.codeRepo.Unreserve(ctx, tx, bc.ID, allocation.Amount, bc.Version)
		})

		if err == nil {
			log.Printf("[Ledger] 占用释放成功: allocationNo=%s, amount=%d, reason=%s",
				allocation.AllocationNo, allocation.Amount, reason)
			return nil
		}
		if !errors.Is(err, repository.ErrOptimisticLock) {
			return err
		}
	}

	return repository.ErrOptimisticLock
}

// ReleaseStale 批量释放超期未落账的占用
//
// 管理性回收操作，不走审批链。单条失败（比如和落账竞争输了）
// 吞掉并计入 skipped，不中断整批清理
func (s *LedgerService) ReleaseStale(ctx context.Context, code string, maxAgeDays, batchSize int) (released, skipped int, err error) {
	if maxAgeDays <= 0 {
		maxAgeDays = s.cfg.Business.StaleReservationDays
	}

	bc, err := s.codeRepo.GetByCode(ctx, code)
	if err != nil {
		return 0, 0, err
	}

	cutoff := time.Now().AddDate(0, 0, -maxAgeDays)
	allocations, err := s.allocRepo.GetStale(ctx, bc.ID, cutoff, batchSize)
	if err != nil {
		return 0, 0, fmt.Errorf("查询超期占用失败: %w", err)
	}

	for _, allocation := range allocations {
		releaseErr := s.release(ctx, allocation, fmt.Sprintf("超期自动释放（超过%d天未落账）", maxAgeDays))
		if releaseErr != nil {
			skipped++
			log.Printf("[Ledger] 超期占用释放跳过: allocationNo=%s, err=%v", allocation.AllocationNo, releaseErr)
			continue
		}
		released++
	}

	return released, skipped, nil
}

// ============================================================
// 终审回调（仅由审批引擎在链到达终态的同一事务里调用）
// ============================================================

// Activate 预算编码创建链终审通过：状态置为 ACTIVE，开始接受资金占用
func (s *LedgerService) Activate(ctx context.Context, tx *gorm.DB, code string) error {
	bc, err := s.codeRepo.GetByCode(ctx, code)
	if err != nil {
		return err
	}

	if err := s.codeRepo.UpdateStatus(ctx, tx, bc.ID, bc.Status, model.BudgetStatusActive); err != nil {
		return err
	}

	return s.writeOutbox(ctx, tx, s.cfg.Kafka.Topic.BudgetEvent, code, map[string]interface{}{
		"event":       "budget_code_activated",
		"code":        code,
		"budget":      bc.Budget,
		"fiscal_year": bc.FiscalYear,
		"occurred_at": time.Now().Format(time.RFC3339),
	})
}

// RejectBudgetCode 创建链被驳回：编码置为 REJECTED（终态，需重新创建）
func (s *LedgerService) RejectBudgetCode(ctx context.Context, tx *gorm.DB, code string) error {
	bc, err := s.codeRepo.GetByCode(ctx, code)
	if err != nil {
		return err
	}
	return s.codeRepo.UpdateStatus(ctx, tx, bc.ID, bc.Status, model.BudgetStatusRejected)
}

// ApplyRevision 调整单终审通过：预算总额落账
//
// requested >= used 在这里二次校验（放在 UPDATE 的 WHERE 条件里）：
// 审批窗口期内预算可能被继续消耗，提交时的校验不足以保证落账时仍然成立
func (s *LedgerService) ApplyRevision(ctx context.Context, tx *gorm.DB, revisionNo string) error {
	revision, err := s.revRepo.GetByNo(ctx, revisionNo)
	if err != nil {
		return err
	}
	if revision.Status != model.RevisionStatusPending {
		return repository.ErrRevisionStatusInvalid
	}

	bc, err := s.codeRepo.GetByID(ctx, revision.BudgetCodeID)
	if err != nil {
		return err
	}

	if err := s.codeRepo.SetBudget(ctx, tx, bc.ID, revision.RequestedBudget, bc.Version); err != nil {
		return err
	}

	entry := &model.BudgetHistory{
		BudgetCodeID:   bc.ID,
		PreviousBudget: revision.PreviousBudget,
		NewBudget:      revision.RequestedBudget,
		ChangeAmount:   revision.ChangeAmount,
		Reason:         revision.Reason,
		ChangedBy:      revision.RequestedBy,
		Source:         model.HistorySourceRevision,
		RefNo:          revision.RevisionNo,
	}
	if err := s.historyRepo.Create(ctx, tx, entry); err != nil {
		return fmt.Errorf("写入预算变更记录失败: %w", err)
	}

	if err := s.revRepo.MarkApproved(ctx, tx, revisionNo); err != nil {
		return err
	}

	return s.writeOutbox(ctx, tx, s.cfg.Kafka.Topic.BudgetEvent, revisionNo, map[string]interface{}{
		"event":            "budget_revision_applied",
		"revision_no":      revisionNo,
		"code":             bc.Code,
		"previous_budget":  revision.PreviousBudget,
		"requested_budget": revision.RequestedBudget,
		"change_amount":    revision.ChangeAmount,
		"occurred_at":      time.Now().Format(time.RFC3339),
	})
}

// RejectRevision 调整单被驳回
func (s *LedgerService) RejectRevision(ctx context.Context, tx *gorm.DB, revisionNo, reason string) error {
	return s.revRepo.MarkRejected(ctx, tx, revisionNo, reason)
}

// ExecuteTransfer 调拨单终审通过：划出和划入在同一事务里原子执行
//
// 【关键点】
// 1. amount <= from.remaining 在执行时二次校验，提交时有效不代表现在有效
// 2. 两个编码的更新按编码字典序执行，避免两笔方向相反的调拨互相死锁
// 3. 任一步失败整个事务回滚，不会出现只扣不加
func (s *LedgerService) ExecuteTransfer(ctx context.Context, tx *gorm.DB, transferNo string) error {
	transfer, err := s.transRepo.GetByNo(ctx, transferNo)
	if err != nil {
		return err
	}
	if transfer.Status != model.TransferStatusPending {
		return repository.ErrTransferStatusInvalid
	}

	from, err := s.codeRepo.GetByID(ctx, transfer.FromCodeID)
	if err != nil {
		return err
	}
	to, err := s.codeRepo.GetByID(ctx, transfer.ToCodeID)
	if err != nil {
		return err
	}

	debit := func() error {
		return s.codeRepo.Debit(ctx, tx, from.ID, transfer.Amount, from.Version)
	}
	credit := func() error {
		return s.codeRepo.Credit(ctx, tx, to.ID, transfer.Amount, to.Version)
	}

	// 字典序小的编码先更新
	if from.Code < to.Code {
		if err := debit(); err != nil {
			return err
		}
		if err := credit(); err != nil {
			return err
		}
	} else {
		if err := credit(); err != nil {
			return err
		}
		if err := debit(); err != nil {
			return err
		}
	}

	outEntry := &model.BudgetHistory{
		BudgetCodeID:   from.ID,
		PreviousBudget: from.Budget,
		NewBudget:      from.Budget - transfer.Amount,
		ChangeAmount:   -transfer.Amount,
		Reason:         transfer.Reason,
		ChangedBy:      transfer.RequestedBy,
		Source:         model.HistorySourceTransferOut,
		RefNo:          transfer.TransferNo,
	}
	inEntry := &model.BudgetHistory{
		BudgetCodeID:   to.ID,
		PreviousBudget: to.Budget,
		NewBudget:      to.Budget + transfer.Amount,
		ChangeAmount:   transfer.Amount,
		Reason:         transfer.Reason,
		ChangedBy:      transfer.RequestedBy,
		Source:         model.HistorySourceTransferIn,
		RefNo:          transfer.TransferNo,
	}
	if err := s.historyRepo.Create(ctx, tx, outEntry); err != nil {
		return fmt.Errorf("写入预算变更记录失败: %w", err)
	}
	if err := s.historyRepo.Create(ctx, tx, inEntry); err != nil {
		return fmt.Errorf("写入预算变更记录失败: %w", err)
	}

	if err := s.transRepo.UpdateStatus(ctx, tx, transferNo,
		model.TransferStatusPending, model.TransferStatusApproved); err != nil {
		return err
	}

	return s.writeOutbox(ctx, tx, s.cfg.Kafka.Topic.BudgetEvent, transferNo, map[string]interface{}{
		"event":       "budget_transfer_executed",
		"transfer_no": transferNo,
		"from_code":   from.Code,
		"to_code":     to.Code,
		"amount":      transfer.Amount,
		"occurred_at": time.Now().Format(time.RFC3339),
	})
}

// RejectTransfer 调拨单被驳回
func (s *LedgerService) RejectTransfer(ctx context.Context, tx *gorm.DB, transferNo, reason string) error {
	return s.transRepo.MarkRejected(ctx, tx, transferNo, reason)
}

// History 查询预算编码的变更历史（审批通过的调整与划拨）
func (s *LedgerService) History(ctx context.Context, code string, page, pageSize int) ([]*model.BudgetHistory, int64, error) {
	bc, err := s.codeRepo.GetByCode(ctx, code)
	if err != nil {
		return nil, 0, err
	}
	return s.historyRepo.ListByBudgetCode(ctx, bc.ID, page, pageSize)
}

// writeOutbox 事件与业务数据同事务写入发件箱
func (s *LedgerService) writeOutbox(ctx context.Context, tx *gorm.DB, topic, key string, payload map[string]interface{}) error {
	payloadBytes, _ := json.Marshal(payload)
	msg := &model.OutboxMessage{
		MessageKey: key,
		Topic:      topic,
		Payload:    string(payloadBytes),
		Status:     model.OutboxStatusPending,
	}
	if err := s.outboxRepo.Create(ctx, tx, msg); err != nil {
		return fmt.Errorf("写入消息失败: %w", err)
	}
	return nil
}
