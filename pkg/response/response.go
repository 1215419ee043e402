package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	CodeSuccess     = 0
	CodeParamError  = 400
	CodeNotFound    = 404
	CodeServerError = 500
)

// 业务错误码
// 调用方只依赖 success 字段判断成败，code 用于细分错误类别
const (
	CodeValidationError     = 1001 // 参数校验失败
	CodeInsufficientBudget  = 1002 // 预算余额不足
	CodeInvalidState        = 1003 // 当前状态不允许该操作
	CodeNotCurrentApprover  = 1004 // 不是当前待审批人
	CodeAlreadyDecided      = 1005 // 审批链已到终态
	CodeConstraintViolation = 1006 // 违反预算约束（如调整额低于已用金额）
	CodeEntityNotFound      = 1007 // 业务实体不存在
	CodeConflict            = 1008 // 并发冲突，请重试
)

type Response struct {
	Success bool        `json:"success"`
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Success: true,
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

func Error(c *gin.Context, code int, message string) {
	c.JSON(http.StatusOK, Response{
		Success: false,
		Code:    code,
		Message: message,
	})
}

func ParamError(c *gin.Context, message string) {
	Error(c, CodeParamError, message)
}

func ServerError(c *gin.Context, message string) {
	Error(c, CodeServerError, message)
}

func BusinessError(c *gin.Context, code int, message string) {
	Error(c, code, message)
}
