package service

import (
	"context"
	"testing"

	"budgetledger/internal/config"
	"budgetledger/internal/model"

	"github.com/stretchr/testify/require"
)

func TestConfigApproverResolver(t *testing.T) {
	cfg := &config.ApprovalConfig{
		BudgetCode: []config.ApproverConfig{
			{Name: "王磊", Role: model.ApproverRoleDeptHead, Email: "wanglei@example.com", Department: "ENGINEERING"},
			{Name: "陈静", Role: model.ApproverRoleBusinessHead, Email: "chenjing@example.com", Department: "OPERATIONS"},
			{Name: "刘芳", Role: model.ApproverRoleFinance, Email: "liufang@example.com", Department: "FINANCE"},
		},
		Revision: []config.ApproverConfig{
			{Name: "王磊", Role: model.ApproverRoleDeptHead, Email: "wanglei@example.com"},
			{Name: "刘芳", Role: model.ApproverRoleFinance, Email: "liufang@example.com"},
		},
	}
	resolver := NewConfigApproverResolver(cfg)

	// 顺序必须和配置一致，第一个元素是第一级
	approvers, err := resolver.Resolve(context.Background(), model.EntityTypeBudgetCode)
	require.NoError(t, err)
	require.Len(t, approvers, 3)
	require.Equal(t, model.ApproverRoleDeptHead, approvers[0].Role)
	require.Equal(t, model.ApproverRoleBusinessHead, approvers[1].Role)
	require.Equal(t, model.ApproverRoleFinance, approvers[2].Role)

	approvers, err = resolver.Resolve(context.Background(), model.EntityTypeRevision)
	require.NoError(t, err)
	require.Len(t, approvers, 2)

	// 未配置审批链的实体类型报错而不是空链
	_, err = resolver.Resolve(context.Background(), model.EntityTypeTransfer)
	require.Error(t, err)

	_, err = resolver.Resolve(context.Background(), "SOMETHING_ELSE")
	require.Error(t, err)
}
