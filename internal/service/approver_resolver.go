package service

import (
	"context"
	"fmt"

	"budgetledger/internal/config"
	"budgetledger/internal/model"
)

// Approver 审批人身份
type Approver struct {
	Name       string
	Role       string
	Email      string
	Department string
}

// ApproverResolver 审批人解析能力
// 审批链构建时注入，引擎本身不关心审批人来自配置、HR系统还是别的身份源
type ApproverResolver interface {
	// Resolve 返回某实体类型的有序审批人列表（第一个元素是第一级）
	Resolve(ctx context.Context, entityType string) ([]Approver, error)
}

// ConfigApproverResolver 基于配置文件的默认实现
type ConfigApproverResolver struct {
	cfg *config.ApprovalConfig
}

func NewConfigApproverResolver(cfg *config.ApprovalConfig) *ConfigApproverResolver {
	return &ConfigApproverResolver{cfg: cfg}
}

func (r *ConfigApproverResolver) Resolve(ctx context.Context, entityType string) ([]Approver, error) {
	var approvers []config.ApproverConfig

	switch entityType {
	case model.EntityTypeBudgetCode:
		approvers = r.cfg.BudgetCode
	case model.EntityTypeRevision:
		approvers = r.cfg.Revision
	case model.EntityTypeTransfer:
		approvers = r.cfg.Transfer
	case model.EntityTypeRequisition:
		approvers = r.cfg.Requisition
	default:
		return nil, fmt.Errorf("未知的审批实体类型: %s", entityType)
	}

	if len(approvers) == 0 {
		return nil, fmt.Errorf("实体类型 %s 未配置审批链", entityType)
	}

	result := make([]Approver, 0, len(approvers))
	for _, a := range approvers {
		result = append(result, Approver{
			Name:       a.Name,
			Role:       a.Role,
			Email:      a.Email,
			Department: a.Department,
		})
	}
	return result, nil
}
