package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"budgetledger/internal/repository"
	"budgetledger/internal/service"
	"budgetledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) response.Response {
	t.Helper()
	var resp response.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestHandleErrorBusinessCodes(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cases := []struct {
		name string
		err  error
		code int
	}{
		{"校验失败", service.NewValidationError("占用金额必须大于0"), response.CodeValidationError},
		{"编码不存在", repository.ErrBudgetCodeNotFound, response.CodeEntityNotFound},
		{"余额不足", repository.ErrInsufficientBudget, response.CodeInsufficientBudget},
		{"状态不合法", repository.ErrBudgetStatusInvalid, response.CodeInvalidState},
		{"占用状态不合法", repository.ErrAllocationStatusInvalid, response.CodeInvalidState},
		{"不是当前审批人", repository.ErrNotCurrentApprover, response.CodeNotCurrentApprover},
		{"链已终态", repository.ErrAlreadyDecided, response.CodeAlreadyDecided},
		{"约束违反", repository.ErrConstraintViolation, response.CodeConstraintViolation},
		{"编码重复", repository.ErrDuplicateBudgetCode, response.CodeValidationError},
		{"乐观锁冲突", repository.ErrOptimisticLock, response.CodeConflict},
		{"包装后的错误", fmt.Errorf("占用失败: %w", repository.ErrInsufficientBudget), response.CodeInsufficientBudget},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)

			handleError(c, tc.err)

			// 调用方只看 success 字段，HTTP 状态码恒为 200
			require.Equal(t, http.StatusOK, w.Code)
			resp := decodeResponse(t, w)
			require.False(t, resp.Success)
			require.Equal(t, tc.code, resp.Code)
			require.NotEmpty(t, resp.Message)
		})
	}
}

func TestHandleErrorUnknownFallsBack(t *testing.T) {
	gin.SetMode(gin.TestMode)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	handleError(c, fmt.Errorf("连接中断"))

	resp := decodeResponse(t, w)
	require.False(t, resp.Success)
	require.Equal(t, response.CodeServerError, resp.Code)
}

func TestSuccessEnvelope(t *testing.T) {
	gin.SetMode(gin.TestMode)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	response.Success(c, gin.H{"code": "ENG-2026-OPEX"})

	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeResponse(t, w)
	require.True(t, resp.Success)
	require.Equal(t, response.CodeSuccess, resp.Code)
}
