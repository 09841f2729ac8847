package errors

import (
	"errors"
	"fmt"
)

// ErrorCode 错误码类型 — the four kinds spec §7 distinguishes, plus the
// generic codes the original AppError carried for non-gateway callers.
type ErrorCode string

const (
	CodeInvalidInput   ErrorCode = "INVALID_INPUT"   // client-malformed (spec §7.1)
	CodeNotFound       ErrorCode = "NOT_FOUND"
	CodeAlreadyExists  ErrorCode = "ALREADY_EXISTS"
	CodeUnauthorized   ErrorCode = "UNAUTHORIZED"    // client-malformed: bad/missing API key
	CodeForbidden      ErrorCode = "FORBIDDEN"
	CodeInternal       ErrorCode = "INTERNAL_ERROR"  // internal-exception (spec §7.4)
	CodeServiceUnavail ErrorCode = "SERVICE_UNAVAILABLE" // no-capacity (spec §7.2)
	CodeUpstream       ErrorCode = "UPSTREAM_FAILURE"    // upstream-failure (spec §7.3)
)

// AppError 应用错误. Status/OAIType/OAICode let the HTTP surface render the
// OpenAI-shaped error body (spec §6) without re-deriving the mapping.
type AppError struct {
	Code    ErrorCode
	Status  int
	OAICode string
	Message string
	Err     error
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 实现 errors.Unwrap
func (e *AppError) Unwrap() error {
	return e.Err
}

// OAIType returns the OpenAI error `type` field for this code (spec §6).
func (c ErrorCode) OAIType() string {
	switch c {
	case CodeInvalidInput, CodeUnauthorized, CodeForbidden:
		return "invalid_request_error"
	case CodeServiceUnavail:
		return "service_unavailable_error"
	case CodeUpstream:
		return "api_error"
	default:
		return "internal_error"
	}
}

// NewInvalidInputError 创建无效输入错误 (400, spec §4.1).
func NewInvalidInputError(message string) *AppError {
	return &AppError{Code: CodeInvalidInput, Status: 400, Message: message}
}

// NewUnauthorizedError 创建未授权错误 (401 invalid_api_key, spec §4.1).
func NewUnauthorizedError(message string) *AppError {
	return &AppError{Code: CodeUnauthorized, Status: 401, OAICode: "invalid_api_key", Message: message}
}

// NewNotFoundError 创建未找到错误
func NewNotFoundError(message string) *AppError {
	return &AppError{Code: CodeNotFound, Status: 404, Message: message}
}

// NewAlreadyExistsError 创建已存在错误
func NewAlreadyExistsError(message string) *AppError {
	return &AppError{Code: CodeAlreadyExists, Status: 409, Message: message}
}

// NewNoCapacityError 创建无可用账号错误 (503, spec §4.3 / §7.2).
func NewNoCapacityError() *AppError {
	return &AppError{
		Code:    CodeServiceUnavail,
		Status:  503,
		OAICode: "no_available_account",
		Message: "no available account for the requested model",
	}
}

// NewUpstreamError 创建上游转发失败错误 (spec §7.3). status defaults to 500
// when the adapter didn't report one.
func NewUpstreamError(status int, message string, cause error) *AppError {
	if status == 0 {
		status = 500
	}
	return &AppError{Code: CodeUpstream, Status: status, Message: message, Err: cause}
}

// NewInternalError 创建内部错误
func NewInternalError(message string) *AppError {
	return &AppError{Code: CodeInternal, Status: 500, Message: message}
}

// NewInternalErrorWithCause 创建带原因的内部错误
func NewInternalErrorWithCause(message string, cause error) *AppError {
	return &AppError{Code: CodeInternal, Status: 500, Message: message, Err: cause}
}

// IsNotFound 判断是否为未找到错误
func IsNotFound(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == CodeNotFound
	}
	return false
}

// IsInvalidInput 判断是否为无效输入错误
func IsInvalidInput(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == CodeInvalidInput
	}
	return false
}

// As 从 err 中提取 *AppError，供上层一次性完成类型断言.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}
