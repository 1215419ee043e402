package model

import (
	"time"
)

const (
	TransferStatusPending   = "PENDING"
	TransferStatusApproved  = "APPROVED"
	TransferStatusRejected  = "REJECTED"
	TransferStatusCancelled = "CANCELLED"
)

var ValidTransferStatusTransitions = map[string][]string{
	TransferStatusPending: {TransferStatusApproved, TransferStatusRejected, TransferStatusCancelled},
}

func CanTransferTransitionTo(currentStatus, targetStatus string) bool {
	allowedStatuses, exists := ValidTransferStatusTransitions[currentStatus]
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

// Transfer 预算调拨单
// 把资金从一个预算编码划转到另一个预算编码，审批通过后原子执行
//
// 【重要】执行时必须二次校验 amount <= from.remaining：
// 提交时校验通过不代表执行时仍然成立，审批窗口期内源编码可能被继续占用
type Transfer struct {
	ID           int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	TransferNo   string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"transfer_no"` // 调拨单号（全局唯一）
	FromCodeID   int64      `gorm:"index;not null" json:"from_code_id"`                       // 调出方预算编码
	ToCodeID     int64      `gorm:"index;not null" json:"to_code_id"`                         // 调入方预算编码（与调出方不同）
	Amount       int64      `gorm:"not null" json:"amount"`                                   // 调拨金额（>0）
	Reason       string     `gorm:"type:varchar(512);not null" json:"reason"`                 // 调拨理由（>=20字符）
	RequestedBy  string     `gorm:"type:varchar(128);not null" json:"requested_by"`           // 申请人
	Status       string     `gorm:"type:varchar(20);index;not null" json:"status"`            // 状态
	ExecutedAt   *time.Time `json:"executed_at,omitempty"`                                    // 执行时间
	RejectReason string     `gorm:"type:varchar(512)" json:"reject_reason,omitempty"`         // 驳回原因
	CreatedAt    time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Transfer) TableName() string {
	return "budget_transfer"
}
