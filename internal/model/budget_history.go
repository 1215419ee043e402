package model

import (
	"time"
)

// 预算总额变更来源
const (
	HistorySourceRevision    = "REVISION"     // 调整单落账
	HistorySourceTransferIn  = "TRANSFER_IN"  // 调拨划入
	HistorySourceTransferOut = "TRANSFER_OUT" // 调拨划出
)

// BudgetHistory 预算总额变更记录表
// 记录预算总额的每一次变动，是审计追溯的核心依据
//
// 【重要】变更记录设计原则：
// 1. 只追加，不修改，不删除
// 2. 每条记录关联来源单号（调整单/调拨单）
// 3. 记录变更前后总额，便于校验一致性
type BudgetHistory struct {
	ID             int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	BudgetCodeID   int64     `gorm:"index;not null" json:"budget_code_id"`            // 预算编码
	PreviousBudget int64     `gorm:"not null" json:"previous_budget"`                 // 变更前总额
	NewBudget      int64     `gorm:"not null" json:"new_budget"`                      // 变更后总额
	ChangeAmount   int64     `gorm:"not null" json:"change_amount"`                   // 变更金额
	Reason         string    `gorm:"type:varchar(512);not null" json:"reason"`        // 变更原因
	ChangedBy      string    `gorm:"type:varchar(128);not null" json:"changed_by"`    // 操作人
	Source         string    `gorm:"type:varchar(20);not null" json:"source"`         // 变更来源
	RefNo          string    `gorm:"type:varchar(64);index;not null" json:"ref_no"`   // 来源单号
	CreatedAt      time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (BudgetHistory) TableName() string {
	return "budget_history"
}
