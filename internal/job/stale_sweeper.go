package job

import (
	"context"
	"log"
	"time"

	"budgetledger/internal/config"
	"budgetledger/internal/model"
	"budgetledger/internal/repository"
	"budgetledger/internal/service"

	"gorm.io/gorm"
)

// StaleSweeperJob 定期扫描超期未落账的资金占用，释放回资金池
//
// 单条释放走正常的 CAS 流程，失败只记日志跳过，下一轮会重新扫到
type StaleSweeperJob struct {
	db        *gorm.DB
	codeRepo  *repository.BudgetCodeRepository
	ledger    *service.LedgerService
	cfg       *config.Config
	stopCh    chan struct{}
	interval  time.Duration
	batchSize int
}

func NewStaleSweeperJob(db *gorm.DB, cfg *config.Config, ledger *service.LedgerService) *StaleSweeperJob {
	interval := time.Duration(cfg.Business.SweepIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 60 * time.Second
	}
	batchSize := cfg.Business.SweepBatchSize
	if batchSize <= 0 {
		batchSize = 100
	}

	return &StaleSweeperJob{
		db:        db,
		codeRepo:  repository.NewBudgetCodeRepository(db),
		ledger:    ledger,
		cfg:       cfg,
		stopCh:    make(chan struct{}),
		interval:  interval,
		batchSize: batchSize,
	}
}

func (j *StaleSweeperJob) Start(ctx context.Context) {
	log.Println("[StaleSweeperJob] 超期占用清理任务启动")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[StaleSweeperJob] 收到停止信号，任务退出")
			return
		case <-j.stopCh:
			log.Println("[StaleSweeperJob] 任务停止")
			return
		case <-ticker.C:
			j.sweep(ctx)
		}
	}
}

func (j *StaleSweeperJob) Stop() {
	close(j.stopCh)
}

// sweep 逐个预算编码清理超期占用
// SUSPENDED 的编码虽然不接受新占用，存量占用一样会超期，所以也要扫
func (j *StaleSweeperJob) sweep(ctx context.Context) {
	codes, err := j.codeRepo.ListByStatuses(ctx, []string{
		model.BudgetStatusActive,
		model.BudgetStatusSuspended,
	})
	if err != nil {
		log.Printf("[StaleSweeperJob] 查询预算编码失败: %v", err)
		return
	}

	totalReleased := 0
	totalSkipped := 0
	for _, bc := range codes {
		released, skipped, err := j.ledger.ReleaseStale(ctx, bc.Code, j.cfg.Business.StaleReservationDays, j.batchSize)
		if err != nil {
			log.Printf("[StaleSweeperJob] 清理失败: code=%s, err=%v", bc.Code, err)
			continue
		}
		totalReleased += released
		totalSkipped += skipped
	}

	if totalReleased > 0 || totalSkipped > 0 {
		log.Printf("[StaleSweeperJob] 本轮清理完成: released=%d, skipped=%d", totalReleased, totalSkipped)
	}
}
