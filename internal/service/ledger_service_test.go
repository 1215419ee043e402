package service

import (
	"context"
	"testing"

	"budgetledger/internal/repository"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

func TestSpendRejectsAllocationFromOtherCode(t *testing.T) {
	gdb, mock := newMockDB(t)
	svc := NewLedgerService(gdb, nil, nil)

	// 路径里的编码和占用实际挂的编码不一致时直接拒绝，不产生任何资金变更
	mock.ExpectQuery("SELECT \\* FROM `budget_code`").
		WithArgs("ENG-2026-OPEX").
		WillReturnRows(sqlmock.NewRows([]string{"id", "code", "budget", "used", "reserved", "version", "status"}).
			AddRow(1, "ENG-2026-OPEX", 100000, 30000, 20000, 3, "ACTIVE"))
	mock.ExpectQuery("SELECT \\* FROM `allocation`").
		WithArgs("ALC20260831120000001234").
		WillReturnRows(sqlmock.NewRows([]string{"id", "allocation_no", "budget_code_id", "requisition_id", "amount", "status"}).
			AddRow(7, "ALC20260831120000001234", 2, "REQ-1001", 5000, "ALLOCATED"))

	_, err := svc.Spend(context.Background(), "ENG-2026-OPEX", "ALC20260831120000001234")
	require.ErrorIs(t, err, repository.ErrAllocationStatusInvalid)
	require.NoError(t, mock.ExpectationsWereMet())
}
