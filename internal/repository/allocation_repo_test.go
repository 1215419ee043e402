package repository

import (
	"context"
	"testing"

	"budgetledger/internal/model"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

func TestAllocationUpdateStatusSpent(t *testing.T) {
	gdb, mock := newMockDB(t)
	repo := NewAllocationRepository(gdb)

	mock.ExpectExec("UPDATE `allocation` SET").
		WithArgs(sqlmock.AnyArg(), model.AllocationStatusSpent, sqlmock.AnyArg(), "ALC20260831001", model.AllocationStatusAllocated).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpdateStatus(context.Background(), nil, "ALC20260831001",
		model.AllocationStatusAllocated, model.AllocationStatusSpent, "")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAllocationUpdateStatusLosesRace(t *testing.T) {
	gdb, mock := newMockDB(t)
	repo := NewAllocationRepository(gdb)

	// 落账和释放竞争同一条占用，CAS 输家 0 行命中
	mock.ExpectExec("UPDATE `allocation` SET").
		WithArgs(sqlmock.AnyArg(), "超期释放", model.AllocationStatusReleased, sqlmock.AnyArg(), "ALC20260831001", model.AllocationStatusAllocated).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateStatus(context.Background(), nil, "ALC20260831001",
		model.AllocationStatusAllocated, model.AllocationStatusReleased, "超期释放")
	require.ErrorIs(t, err, ErrAllocationStatusInvalid)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAllocationUpdateStatusRejectsTerminalSource(t *testing.T) {
	gdb, _ := newMockDB(t)
	repo := NewAllocationRepository(gdb)

	// 终态不允许再流转，内存拦截，不产生 SQL
	err := repo.UpdateStatus(context.Background(), nil, "ALC20260831001",
		model.AllocationStatusSpent, model.AllocationStatusReleased, "")
	require.ErrorIs(t, err, ErrAllocationStatusInvalid)
}
