package service

import (
	"context"
	"strings"
	"testing"

	"budgetledger/internal/repository"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()

	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	gdb, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)

	return gdb, mock
}

// 校验失败必须发生在任何数据库访问之前，
// 这里用空依赖构造服务，只要走到仓储层就会 panic，测试即失败

func requireValidationError(t *testing.T, err error) {
	t.Helper()
	require.Error(t, err)
	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
}

func TestCreateRevisionRejectsShortReason(t *testing.T) {
	svc := NewRevisionService(nil, nil, nil)

	_, err := svc.CreateRevision(context.Background(), &CreateRevisionRequest{
		Code:            "ENG-2026-OPEX",
		RequestedBudget: 200000,
		Reason:          "太短",
		RequestedBy:     "zhangsan@example.com",
	})
	requireValidationError(t, err)
}

func TestCreateRevisionRejectsNegativeBudget(t *testing.T) {
	svc := NewRevisionService(nil, nil, nil)

	_, err := svc.CreateRevision(context.Background(), &CreateRevisionRequest{
		Code:            "ENG-2026-OPEX",
		RequestedBudget: -1,
		Reason:          strings.Repeat("预算不足需要追加", 3),
		RequestedBy:     "zhangsan@example.com",
	})
	requireValidationError(t, err)
}

func TestCreateRevisionRejectsEmptyRequester(t *testing.T) {
	svc := NewRevisionService(nil, nil, nil)

	_, err := svc.CreateRevision(context.Background(), &CreateRevisionRequest{
		Code:            "ENG-2026-OPEX",
		RequestedBudget: 200000,
		Reason:          strings.Repeat("预算不足需要追加", 3),
		RequestedBy:     "  ",
	})
	requireValidationError(t, err)
}

func TestCreateRevisionRejectsBudgetBelowUsedPlusReserved(t *testing.T) {
	gdb, mock := newMockDB(t)
	svc := NewRevisionService(gdb, nil, nil)

	// 目标值卡在 used 和 used+reserved 之间：占用落账后余额会变成负数，提交阶段就要拦截
	mock.ExpectQuery("SELECT \\* FROM `budget_code`").
		WithArgs("ENG-2026-OPEX").
		WillReturnRows(sqlmock.NewRows([]string{"id", "code", "budget", "used", "reserved", "version", "status"}).
			AddRow(1, "ENG-2026-OPEX", 1000, 100, 300, 2, "ACTIVE"))

	_, err := svc.CreateRevision(context.Background(), &CreateRevisionRequest{
		Code:            "ENG-2026-OPEX",
		RequestedBudget: 150,
		Reason:          strings.Repeat("项目缩减需要调减预算", 3),
		RequestedBy:     "zhangsan@example.com",
	})
	require.ErrorIs(t, err, repository.ErrConstraintViolation)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateTransferRejectsSameCode(t *testing.T) {
	svc := NewTransferService(nil, nil, nil, nil)

	_, err := svc.CreateTransfer(context.Background(), &CreateTransferRequest{
		FromCode:    "ENG-2026-OPEX",
		ToCode:      "ENG-2026-OPEX",
		Amount:      10000,
		Reason:      strings.Repeat("部门间预算重新分配", 3),
		RequestedBy: "zhangsan@example.com",
	})
	requireValidationError(t, err)
}

func TestCreateTransferRejectsNonPositiveAmount(t *testing.T) {
	svc := NewTransferService(nil, nil, nil, nil)

	for _, amount := range []int64{0, -500} {
		_, err := svc.CreateTransfer(context.Background(), &CreateTransferRequest{
			FromCode:    "ENG-2026-OPEX",
			ToCode:      "MKT-2026-OPEX",
			Amount:      amount,
			Reason:      strings.Repeat("部门间预算重新分配", 3),
			RequestedBy: "zhangsan@example.com",
		})
		requireValidationError(t, err)
	}
}

func TestCreateTransferRejectsShortReason(t *testing.T) {
	svc := NewTransferService(nil, nil, nil, nil)

	_, err := svc.CreateTransfer(context.Background(), &CreateTransferRequest{
		FromCode:    "ENG-2026-OPEX",
		ToCode:      "MKT-2026-OPEX",
		Amount:      10000,
		Reason:      "调一下",
		RequestedBy: "zhangsan@example.com",
	})
	requireValidationError(t, err)
}
