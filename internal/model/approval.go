package model

import (
	"time"
)

// ============================================================================
// 审批链状态常量
// ============================================================================
//
// 审批链是一条显式的状态机，current_level 指向当前待审的层级，
// 不通过扫描步骤列表推导"轮到谁"，推进和驳回都走 CAS 更新

const (
	ChainStateAwaiting = "AWAITING" // 等待 current_level 层审批人决策
	ChainStateApproved = "APPROVED" // 全部层级通过（终态）
	ChainStateRejected = "REJECTED" // 任一层级驳回（终态）
)

const (
	StepStatusPending  = "PENDING"
	StepStatusApproved = "APPROVED"
	StepStatusRejected = "REJECTED"
)

// 可挂审批链的实体类型
const (
	EntityTypeBudgetCode  = "BUDGET_CODE"
	EntityTypeRevision    = "REVISION"
	EntityTypeTransfer    = "TRANSFER"
	EntityTypeRequisition = "REQUISITION"
)

// 审批角色
const (
	ApproverRoleDeptHead     = "DEPT_HEAD"
	ApproverRoleBusinessHead = "BUSINESS_HEAD"
	ApproverRoleFinance      = "FINANCE"
)

const (
	DecisionApproved = "approved"
	DecisionRejected = "rejected"
)

// ApprovalChain 审批链表
// 每条链归属于唯一一个待审实体（entity_type + entity_no）
type ApprovalChain struct {
	ID           int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	EntityType   string    `gorm:"type:varchar(20);not null;uniqueIndex:uk_entity,priority:1" json:"entity_type"` // 实体类型
	EntityNo     string    `gorm:"type:varchar(64);not null;uniqueIndex:uk_entity,priority:2" json:"entity_no"`   // 实体业务单号
	State        string    `gorm:"type:varchar(20);index;not null" json:"state"`                                  // 链状态
	CurrentLevel int       `gorm:"not null;default:1" json:"current_level"`                                       // 当前待审层级（1起）
	TotalLevels  int       `gorm:"not null" json:"total_levels"`                                                  // 总层级数
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	Steps []ApprovalStep `gorm:"foreignKey:ChainID" json:"steps,omitempty"`
}

func (ApprovalChain) TableName() string {
	return "approval_chain"
}

// IsTerminal 链是否已到终态
func (c *ApprovalChain) IsTerminal() bool {
	return c.State == ChainStateApproved || c.State == ChainStateRejected
}

// CurrentStep 当前待审步骤
// 链处于终态或步骤未加载时返回 nil
func (c *ApprovalChain) CurrentStep() *ApprovalStep {
	if c.State != ChainStateAwaiting {
		return nil
	}
	for i := range c.Steps {
		if c.Steps[i].Level == c.CurrentLevel {
			return &c.Steps[i]
		}
	}
	return nil
}

// ApprovalStep 审批步骤表
// level 从 1 开始连续递增；链未到达的层级永远停留在 PENDING
type ApprovalStep struct {
	ID            int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	ChainID       int64      `gorm:"not null;uniqueIndex:uk_chain_level,priority:1" json:"chain_id"` // 所属审批链
	Level         int        `gorm:"not null;uniqueIndex:uk_chain_level,priority:2" json:"level"`    // 层级（1起，连续）
	ApproverName  string     `gorm:"type:varchar(64);not null" json:"approver_name"`                 // 审批人姓名
	ApproverRole  string     `gorm:"type:varchar(32);not null" json:"approver_role"`                 // 审批角色
	ApproverEmail string     `gorm:"type:varchar(128);index;not null" json:"approver_email"`         // 审批人邮箱（身份匹配依据）
	Department    string     `gorm:"type:varchar(64)" json:"department"`                             // 审批人部门
	Status        string     `gorm:"type:varchar(20);index;not null" json:"status"`                  // 状态
	ActionAt      *time.Time `json:"action_at,omitempty"`                                            // 决策时间
	Comments      string     `gorm:"type:varchar(512)" json:"comments,omitempty"`                    // 审批意见（驳回时必填）
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (ApprovalStep) TableName() string {
	return "approval_step"
}
