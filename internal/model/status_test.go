package model

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBudgetStatusTransitions(t *testing.T) {
	// 审批流转
	require.True(t, CanBudgetTransitionTo(BudgetStatusPending, BudgetStatusPendingDeptHead))
	require.True(t, CanBudgetTransitionTo(BudgetStatusPendingDeptHead, BudgetStatusPendingBusinessHead))
	require.True(t, CanBudgetTransitionTo(BudgetStatusPendingBusinessHead, BudgetStatusPendingFinance))
	require.True(t, CanBudgetTransitionTo(BudgetStatusPendingFinance, BudgetStatusActive))
	require.True(t, CanBudgetTransitionTo(BudgetStatusPendingDeptHead, BudgetStatusRejected))

	// 挂起与恢复
	require.True(t, CanBudgetTransitionTo(BudgetStatusActive, BudgetStatusSuspended))
	require.True(t, CanBudgetTransitionTo(BudgetStatusSuspended, BudgetStatusActive))
	require.True(t, CanBudgetTransitionTo(BudgetStatusSuspended, BudgetStatusExpired))

	// 不允许的流转
	require.False(t, CanBudgetTransitionTo(BudgetStatusActive, BudgetStatusPending))
	require.False(t, CanBudgetTransitionTo(BudgetStatusRejected, BudgetStatusActive))
	require.False(t, CanBudgetTransitionTo(BudgetStatusExpired, BudgetStatusActive))
	require.False(t, CanBudgetTransitionTo(BudgetStatusPendingFinance, BudgetStatusPendingDeptHead))
}

func TestAllocationStatusTransitions(t *testing.T) {
	require.True(t, CanAllocationTransitionTo(AllocationStatusAllocated, AllocationStatusSpent))
	require.True(t, CanAllocationTransitionTo(AllocationStatusAllocated, AllocationStatusReleased))

	// SPENT / RELEASED 是终态
	require.False(t, CanAllocationTransitionTo(AllocationStatusSpent, AllocationStatusReleased))
	require.False(t, CanAllocationTransitionTo(AllocationStatusReleased, AllocationStatusAllocated))
	require.False(t, CanAllocationTransitionTo(AllocationStatusSpent, AllocationStatusAllocated))
}

func TestTransferStatusTransitions(t *testing.T) {
	require.True(t, CanTransferTransitionTo(TransferStatusPending, TransferStatusApproved))
	require.True(t, CanTransferTransitionTo(TransferStatusPending, TransferStatusRejected))
	require.True(t, CanTransferTransitionTo(TransferStatusPending, TransferStatusCancelled))

	require.False(t, CanTransferTransitionTo(TransferStatusApproved, TransferStatusCancelled))
	require.False(t, CanTransferTransitionTo(TransferStatusCancelled, TransferStatusApproved))
	require.False(t, CanTransferTransitionTo(TransferStatusRejected, TransferStatusPending))
}

func TestPendingStatusForRole(t *testing.T) {
	require.Equal(t, BudgetStatusPendingDeptHead, PendingStatusForRole(ApproverRoleDeptHead))
	require.Equal(t, BudgetStatusPendingBusinessHead, PendingStatusForRole(ApproverRoleBusinessHead))
	require.Equal(t, BudgetStatusPendingFinance, PendingStatusForRole(ApproverRoleFinance))
	require.Equal(t, BudgetStatusPending, PendingStatusForRole("UNKNOWN_ROLE"))
}

func TestIsValidBudgetCode(t *testing.T) {
	require.True(t, IsValidBudgetCode("ENG-2026-OPEX"))
	require.True(t, IsValidBudgetCode("MKT_Q1"))
	require.True(t, IsValidBudgetCode("ABC"))

	require.False(t, IsValidBudgetCode("AB"))                        // 太短
	require.False(t, IsValidBudgetCode("THIS_CODE_IS_WAY_TOO_LONG")) // 超过20位
	require.False(t, IsValidBudgetCode("eng-2026"))                  // 小写
	require.False(t, IsValidBudgetCode("ENG 2026"))                  // 空格
	require.False(t, IsValidBudgetCode(""))
}

func TestBudgetCodeRemaining(t *testing.T) {
	bc := &BudgetCode{Budget: 100000, Used: 30000, Reserved: 20000}
	require.Equal(t, int64(50000), bc.Remaining())

	// 落账：reserved 转入 used，remaining 不变
	bc.Used += 20000
	bc.Reserved -= 20000
	require.Equal(t, int64(50000), bc.Remaining())
}

func TestChainCurrentStep(t *testing.T) {
	chain := &ApprovalChain{
		State:        ChainStateAwaiting,
		CurrentLevel: 2,
		TotalLevels:  3,
		Steps: []ApprovalStep{
			{Level: 1, ApproverEmail: "a@example.com", Status: StepStatusApproved},
			{Level: 2, ApproverEmail: "b@example.com", Status: StepStatusPending},
			{Level: 3, ApproverEmail: "c@example.com", Status: StepStatusPending},
		},
	}

	step := chain.CurrentStep()
	require.NotNil(t, step)
	require.Equal(t, 2, step.Level)
	require.Equal(t, "b@example.com", step.ApproverEmail)

	require.False(t, chain.IsTerminal())

	chain.State = ChainStateApproved
	require.True(t, chain.IsTerminal())
	require.Nil(t, chain.CurrentStep())

	chain.State = ChainStateRejected
	require.True(t, chain.IsTerminal())
	require.Nil(t, chain.CurrentStep())
}
