package model

import (
	"time"
)

const (
	AllocationStatusAllocated = "ALLOCATED" // 已占用，等待落账或释放
	AllocationStatusSpent     = "SPENT"     // 已落账（终态）
	AllocationStatusReleased  = "RELEASED"  // 已释放回资金池（终态）
)

var ValidAllocationStatusTransitions = map[string][]string{
	AllocationStatusAllocated: {AllocationStatusSpent, AllocationStatusReleased},
}

func CanAllocationTransitionTo(currentStatus, targetStatus string) bool {
	allowedStatuses, exists := ValidAllocationStatusTransitions[currentStatus]
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

// Allocation 资金占用表
// 一条记录对应一个外部请购单对某个预算编码的资金预留
//
// 状态机：ALLOCATED -> SPENT（采购完成落账，used 增加）
//                  -> RELEASED（取消/超期/手工释放，资金回到 remaining）
// SPENT 和 RELEASED 均为终态，状态流转必须走 CAS 更新
type Allocation struct {
	ID             int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	AllocationNo   string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"allocation_no"` // 占用单号（全局唯一）
	BudgetCodeID   int64     `gorm:"index;not null" json:"budget_code_id"`                       // 所属预算编码
	RequisitionID  string    `gorm:"type:varchar(64);index;not null" json:"requisition_id"`      // 外部请购单ID
	Amount         int64     `gorm:"not null" json:"amount"`                                     // 占用金额（>0）
	Status         string    `gorm:"type:varchar(20);index;not null" json:"status"`              // 状态
	AllocatedAt    time.Time `gorm:"not null;index" json:"allocated_at"`                         // 占用时间
	SpentAt        *time.Time `json:"spent_at,omitempty"`                                        // 落账时间
	ReleasedAt     *time.Time `json:"released_at,omitempty"`                                     // 释放时间
	ReleasedReason string    `gorm:"type:varchar(256)" json:"released_reason,omitempty"`         // 释放原因
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Allocation) TableName() string {
	return "allocation"
}
