package model

import (
	"time"
)

const (
	RevisionStatusPending  = "PENDING"
	RevisionStatusApproved = "APPROVED"
	RevisionStatusRejected = "REJECTED"
)

// MinReasonLength 调整/调拨理由的最小长度
const MinReasonLength = 20

// Revision 预算调整单
// 对某个预算编码总额的一次变更申请，审批通过后由台账服务落账
//
// 【重要】requested_budget >= used 在提交时和落账时都要校验：
// 审批窗口期内预算可能被继续占用，落账时的二次校验防止总额降到已用金额以下
type Revision struct {
	ID              int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	RevisionNo      string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"revision_no"` // 调整单号（全局唯一）
	BudgetCodeID    int64      `gorm:"index;not null" json:"budget_code_id"`                     // 目标预算编码
	PreviousBudget  int64      `gorm:"not null" json:"previous_budget"`                          // 调整前总额
	RequestedBudget int64      `gorm:"not null" json:"requested_budget"`                         // 申请调整到的总额
	ChangeAmount    int64      `gorm:"not null" json:"change_amount"`                            // 变更金额 = requested - previous
	Reason          string     `gorm:"type:varchar(512);not null" json:"reason"`                 // 调整理由（>=20字符）
	RequestedBy     string     `gorm:"type:varchar(128);not null" json:"requested_by"`           // 申请人
	Status          string     `gorm:"type:varchar(20);index;not null" json:"status"`            // 状态
	ApprovedAt      *time.Time `json:"approved_at,omitempty"`                                    // 审批通过时间
	RejectionReason string     `gorm:"type:varchar(512)" json:"rejection_reason,omitempty"`      // 驳回原因
	CreatedAt       time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Revision) TableName() string {
	return "budget_revision"
}
