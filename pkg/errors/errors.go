// Package errors 提供協作中繼服務的應用程式錯誤
package errors

import (
	"errors"
	"fmt"
)

// 定義錯誤碼
const (
	// ErrCodeInvalidInput 無效輸入（缺少必要欄位）
	ErrCodeInvalidInput = "INVALID_INPUT"
	// ErrCodeTimeout 外部呼叫超時
	ErrCodeTimeout = "TIMEOUT"
	// ErrCodeUnavailable 外部服務不可達
	ErrCodeUnavailable = "SERVICE_UNAVAILABLE"
	// ErrCodeUpstream 外部服務回應錯誤或格式不正確
	ErrCodeUpstream = "UPSTREAM_ERROR"
	// ErrCodeBindFailed 無法綁定監聽端口
	ErrCodeBindFailed = "BIND_FAILED"
	// ErrCodeRateLimited 請求過於頻繁
	ErrCodeRateLimited = "RATE_LIMITED"
	// ErrCodeInternal 內部錯誤
	ErrCodeInternal = "INTERNAL_ERROR"
)

// AppError 應用程式錯誤
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	Err     error  `json:"-"`
}

// Error 實現 error 介面
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 實現 errors.Unwrap
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is 以錯誤碼比對，讓 errors.Is(err, ErrExecutionTimeout) 對任何同碼錯誤成立
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New 創建新的應用程式錯誤
func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap 包裝錯誤
func Wrap(err error, code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WithDetails 返回帶有詳細資訊的副本（不修改預定義錯誤）
func (e *AppError) WithDetails(details string) *AppError {
	cp := *e
	cp.Details = details
	return &cp
}

// 預定義錯誤
var (
	// ErrExecutionTimeout 執行服務超時
	ErrExecutionTimeout = New(ErrCodeTimeout, "execution service timed out")

	// ErrExecutorUnavailable 執行服務不可達
	ErrExecutorUnavailable = New(ErrCodeUnavailable, "execution service unavailable")

	// ErrUpstreamResponse 執行服務回應異常
	ErrUpstreamResponse = New(ErrCodeUpstream, "execution service returned an error")

	// ErrNoFreePort 所有候選端口都被佔用
	ErrNoFreePort = New(ErrCodeBindFailed, "no free port available")

	// ErrRateLimited 執行請求過於頻繁
	ErrRateLimited = New(ErrCodeRateLimited, "too many execution requests")
)

// IsTimeout 檢查是否為超時錯誤
func IsTimeout(err error) bool {
	return hasCode(err, ErrCodeTimeout)
}

// IsUnavailable 檢查是否為服務不可達錯誤
func IsUnavailable(err error) bool {
	return hasCode(err, ErrCodeUnavailable)
}

// IsUpstream 檢查是否為上游回應錯誤
func IsUpstream(err error) bool {
	return hasCode(err, ErrCodeUpstream)
}

// IsBindFailed 檢查是否為端口綁定失敗
func IsBindFailed(err error) bool {
	return hasCode(err, ErrCodeBindFailed)
}

func hasCode(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}
