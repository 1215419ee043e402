package service

// ValidationError 参数/业务规则校验失败
// 在任何数据变更发生之前拦截，handler 层统一映射为校验错误码
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func NewValidationError(message string) error {
	return &ValidationError{Message: message}
}
