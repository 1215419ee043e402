package repository

import (
	"context"
	"testing"

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

func TestReserveSuccess(t *testing.T) {
	gdb, mock := newMockDB(t)
	repo := NewBudgetCodeRepository(gdb)

	// 余额校验和版本号都在 WHERE 条件里，命中即占用成功
	mock.ExpectExec("UPDATE `budget_code` SET").
		WithArgs(int64(5000), sqlmock.AnyArg(), int64(1), 3, int64(5000)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Reserve(context.Background(), nil, 1, 5000, 3)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReserveInsufficientBudget(t *testing.T) {
	gdb, mock := newMockDB(t)
	repo := NewBudgetCodeRepository(gdb)

	// CAS 没命中，重读发现余额确实不够
	mock.ExpectExec("UPDATE `budget_code` SET").
		WithArgs(int64(80000), sqlmock.AnyArg(), int64(1), 3, int64(80000)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT \\* FROM `budget_code`").
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "code", "budget", "used", "reserved", "version", "status"}).
			AddRow(1, "ENG-2026-OPEX", 100000, 30000, 20000, 4, "ACTIVE"))

	err := repo.Reserve(context.Background(), nil, 1, 80000, 3)
	require.ErrorIs(t, err, ErrInsufficientBudget)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReserveOptimisticLockConflict(t *testing.T) {
	gdb, mock := newMockDB(t)
	repo := NewBudgetCodeRepository(gdb)

	// CAS 没命中但余额其实够，说明版本号被并发更新挤掉了
	mock.ExpectExec("UPDATE `budget_code` SET").
		WithArgs(int64(5000), sqlmock.AnyArg(), int64(1), 3, int64(5000)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT \\* FROM `budget_code`").
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "code", "budget", "used", "reserved", "version", "status"}).
			AddRow(1, "ENG-2026-OPEX", 100000, 30000, 20000, 4, "ACTIVE"))

	err := repo.Reserve(context.Background(), nil, 1, 5000, 3)
	require.ErrorIs(t, err, ErrOptimisticLock)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetBudgetBelowUsed(t *testing.T) {
	gdb, mock := newMockDB(t)
	repo := NewBudgetCodeRepository(gdb)

	// used + reserved <= newBudget 的约束在落账时二次生效
	mock.ExpectExec("UPDATE `budget_code` SET").
		WithArgs(int64(20000), sqlmock.AnyArg(), int64(1), 3, int64(20000)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT \\* FROM `budget_code`").
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "code", "budget", "used", "reserved", "version", "status"}).
			AddRow(1, "ENG-2026-OPEX", 100000, 30000, 0, 3, "ACTIVE"))

	err := repo.SetBudget(context.Background(), nil, 1, 20000, 3)
	require.ErrorIs(t, err, ErrConstraintViolation)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetBudgetBelowUsedPlusReserved(t *testing.T) {
	gdb, mock := newMockDB(t)
	repo := NewBudgetCodeRepository(gdb)

	// 目标值高于 used 但低于 used + reserved：存量占用落账后会把池子打穿，必须拒绝
	mock.ExpectExec("UPDATE `budget_code` SET").
		WithArgs(int64(150), sqlmock.AnyArg(), int64(1), 2, int64(150)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT \\* FROM `budget_code`").
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "code", "budget", "used", "reserved", "version", "status"}).
			AddRow(1, "ENG-2026-OPEX", 1000, 100, 300, 2, "ACTIVE"))

	err := repo.SetBudget(context.Background(), nil, 1, 150, 2)
	require.ErrorIs(t, err, ErrConstraintViolation)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatusRejectsInvalidTransition(t *testing.T) {
	gdb, _ := newMockDB(t)
	repo := NewBudgetCodeRepository(gdb)

	// 非法流转在内存里就被拦截，不应产生任何 SQL
	err := repo.UpdateStatus(context.Background(), nil, 1, "REJECTED", "ACTIVE")
	require.ErrorIs(t, err, ErrBudgetStatusInvalid)
}

func TestUpdateStatusLosesRace(t *testing.T) {
	gdb, mock := newMockDB(t)
	repo := NewBudgetCodeRepository(gdb)

	mock.ExpectExec("UPDATE `budget_code` SET").
		WithArgs(true, "ACTIVE", sqlmock.AnyArg(), int64(1), "PENDING_FINANCE").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateStatus(context.Background(), nil, 1, "PENDING_FINANCE", "ACTIVE")
	require.ErrorIs(t, err, ErrBudgetStatusInvalid)
	require.NoError(t, mock.ExpectationsWereMet())
}
