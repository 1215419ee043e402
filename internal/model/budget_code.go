package model

import (
	"regexp"
	"time"
)

// ============================================================================
// 预算编码状态常量
// ============================================================================

const (
	BudgetStatusPending             = "PENDING"               // 已创建，审批链尚未开始流转
	BudgetStatusPendingDeptHead     = "PENDING_DEPT_HEAD"     // 等待部门负责人审批
	BudgetStatusPendingBusinessHead = "PENDING_BUSINESS_HEAD" // 等待业务负责人审批
	BudgetStatusPendingFinance      = "PENDING_FINANCE"       // 等待财务审批
	BudgetStatusActive              = "ACTIVE"                // 审批通过，可以占用资金
	BudgetStatusRejected            = "REJECTED"              // 审批被驳回（终态）
	BudgetStatusSuspended           = "SUSPENDED"             // 已挂起，冻结新的资金占用
	BudgetStatusExpired             = "EXPIRED"               // 已过期
)

const (
	BudgetTypeOpex        = "OPEX"
	BudgetTypeCapex       = "CAPEX"
	BudgetTypeProject     = "PROJECT"
	BudgetTypeOperational = "OPERATIONAL"
)

const (
	BudgetPeriodMonthly   = "MONTHLY"
	BudgetPeriodQuarterly = "QUARTERLY"
	BudgetPeriodYearly    = "YEARLY"
	BudgetPeriodProject   = "PROJECT"
)

var ValidBudgetStatusTransitions = map[string][]string{
	BudgetStatusPending:             {BudgetStatusPendingDeptHead, BudgetStatusPendingBusinessHead, BudgetStatusPendingFinance, BudgetStatusActive, BudgetStatusRejected},
	BudgetStatusPendingDeptHead:     {BudgetStatusPendingBusinessHead, BudgetStatusPendingFinance, BudgetStatusActive, BudgetStatusRejected},
	BudgetStatusPendingBusinessHead: {BudgetStatusPendingFinance, BudgetStatusActive, BudgetStatusRejected},
	BudgetStatusPendingFinance:      {BudgetStatusActive, BudgetStatusRejected},
	BudgetStatusActive:              {BudgetStatusSuspended, BudgetStatusExpired},
	BudgetStatusSuspended:           {BudgetStatusActive, BudgetStatusExpired},
}

func CanBudgetTransitionTo(currentStatus, targetStatus string) bool {
	allowedStatuses, exists := ValidBudgetStatusTransitions[currentStatus]
	if !exists {
		return false
	}
	for _, s := range allowedStatuses {
		if s == targetStatus {
			return true
		}
	}
	return false
}

// PendingStatusForRole 审批角色对应的等待状态
// 审批链每前进一级，预算编码的状态跟着切换到下一级审批人的等待状态
func PendingStatusForRole(role string) string {
	switch role {
	case ApproverRoleDeptHead:
		return BudgetStatusPendingDeptHead
	case ApproverRoleBusinessHead:
		return BudgetStatusPendingBusinessHead
	case ApproverRoleFinance:
		return BudgetStatusPendingFinance
	default:
		return BudgetStatusPending
	}
}

var budgetCodePattern = regexp.MustCompile(`^[A-Z0-9_-]{3,20}$`)

// IsValidBudgetCode 校验预算编码格式
func IsValidBudgetCode(code string) bool {
	return budgetCodePattern.MatchString(code)
}

func IsValidBudgetType(t string) bool {
	switch t {
	case BudgetTypeOpex, BudgetTypeCapex, BudgetTypeProject, BudgetTypeOperational:
		return true
	}
	return false
}

func IsValidBudgetPeriod(p string) bool {
	switch p {
	case BudgetPeriodMonthly, BudgetPeriodQuarterly, BudgetPeriodYearly, BudgetPeriodProject:
		return true
	}
	return false
}

// ============================================================================
// 预算编码实体
// ============================================================================

// BudgetCode 预算编码表
// 每个编码是一个部门/项目/财年维度的资金池，是整个台账系统的核心数据
//
// 【重要】金额字段设计原则：
// 1. budget 只能通过审批通过的调整单或已执行的调拨单变更
// 2. used 只会随占用记录落账（SPENT）单调递增
// 3. reserved 是未落账的占用金额之和，落账时转入 used，释放时归还
// 4. 任何时刻 remaining = budget - used - reserved >= 0
type BudgetCode struct {
	ID           int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	Code         string     `gorm:"type:varchar(20);uniqueIndex;not null" json:"code"`         // 预算编码，业务主键，格式 [A-Z0-9_-]{3,20}
	Name         string     `gorm:"type:varchar(128);not null" json:"name"`                    // 名称
	Department   string     `gorm:"type:varchar(64);index;not null" json:"department"`         // 所属部门
	BudgetType   string     `gorm:"type:varchar(20);not null" json:"budget_type"`              // 预算类型
	BudgetPeriod string     `gorm:"type:varchar(20);not null" json:"budget_period"`            // 预算周期
	FiscalYear   int        `gorm:"not null" json:"fiscal_year"`                               // 财年
	Budget       int64      `gorm:"not null;default:0" json:"budget"`                          // 预算总额
	Used         int64      `gorm:"not null;default:0" json:"used"`                            // 已使用金额（只增）
	Reserved     int64      `gorm:"not null;default:0" json:"reserved"`                        // 占用中金额（未落账的 ALLOCATED 之和）
	Version      int        `gorm:"not null;default:0" json:"version"`                         // 乐观锁版本号
	Active       bool       `gorm:"not null;default:false" json:"active"`                      // 是否可用
	Status       string     `gorm:"type:varchar(32);index;not null" json:"status"`             // 状态
	OwnerName    string     `gorm:"type:varchar(64);not null" json:"owner_name"`               // 预算负责人
	OwnerEmail   string     `gorm:"type:varchar(128);not null" json:"owner_email"`             // 负责人邮箱
	StartDate    time.Time  `gorm:"not null" json:"start_date"`                                // 生效日期
	EndDate      *time.Time `json:"end_date,omitempty"`                                        // 失效日期（可选）
	CreatedAt    time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (BudgetCode) TableName() string {
	return "budget_code"
}

// Remaining 可用余额（扣除已落账和占用中金额）
func (b *BudgetCode) Remaining() int64 {
	return b.Budget - b.Used - b.Reserved
}