package internal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	apperrors "github.com/koopa0/collab-relay/pkg/errors"
)

// 系統設計問題：
//   房間裡任何人都能按「執行」，如何把程式碼交給外部沙箱並把結果還給整個房間？
//
// 設計方案：
//   ✅ 語言正規化 - 前端名稱對應到沙箱的語言識別碼，未知語言退回 javascript
//   ✅ Java 檔名 - 沙箱要求 public class 與檔名一致
//   ✅ 結果正規化 - 編譯錯誤優先，輸出依優先序擇一，永不回傳空字串
//   ✅ 錯誤轉結果 - 超時、不可達、上游錯誤都變成 exitCode 1 的結果，不會丟給呼叫者

const (
	// DefaultLanguage 無法識別語言時使用
	DefaultLanguage = "javascript"
	// DefaultEntryClass 找不到 public class 時的 Java 類別名稱
	DefaultEntryClass = "Main"

	noOutputReceived = "No output received from execution"
	noVisibleOutput  = "Code executed but produced no visible output."
	compileErrorHead = "Compilation Error:\n"
)

// languageIDs 前端語言名稱 -> 沙箱語言識別碼
var languageIDs = map[string]string{
	"javascript": "javascript",
	"python":     "python",
	"java":       "java",
	"cpp":        "cpp",
	"c++":        "cpp",
	"c":          "c",
	"typescript": "typescript",
	"go":         "go",
	"rust":       "rust",
	"ruby":       "ruby",
	"php":        "php",
}

var publicClassPattern = regexp.MustCompile(`public\s+class\s+(\w+)`)

// ExecRequest 一次執行請求
type ExecRequest struct {
	Code     string
	Language string
	Version  string
	Stdin    string
	RoomID   string
}

// Valid 程式碼、語言與房間都必須存在
func (r ExecRequest) Valid() bool {
	return r.Code != "" && r.Language != "" && r.RoomID != ""
}

// ExecResult 正規化後的執行結果（codeResponse.run）
type ExecResult struct {
	Output   string `json:"output"`
	ExitCode int    `json:"exitCode"`
}

// SourceFile 送往沙箱的原始碼檔案
type SourceFile struct {
	Name    string `json:"name,omitempty"`
	Content string `json:"content"`
}

// ExecutePayload 沙箱執行請求本體
type ExecutePayload struct {
	Language string       `json:"language"`
	Version  string       `json:"version"`
	Files    []SourceFile `json:"files"`
	Stdin    string       `json:"stdin"`
}

// StageResult 編譯或執行階段的結果
type StageResult struct {
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
	Output string `json:"output"`
	Code   *int   `json:"code"`
	Signal string `json:"signal,omitempty"`
}

// ExecuteResponse 沙箱回應
type ExecuteResponse struct {
	Language string       `json:"language,omitempty"`
	Version  string       `json:"version,omitempty"`
	Compile  *StageResult `json:"compile,omitempty"`
	Run      *StageResult `json:"run,omitempty"`
	Message  string       `json:"message,omitempty"`
}

// Executor 外部執行服務
type Executor interface {
	Execute(ctx context.Context, payload *ExecutePayload) (*ExecuteResponse, error)
}

// ResolveLanguage 把前端語言名稱轉成沙箱語言識別碼（大小寫不敏感）
func ResolveLanguage(language string) string {
	if id, ok := languageIDs[strings.ToLower(strings.TrimSpace(language))]; ok {
		return id
	}
	return DefaultLanguage
}

// EntryClassName 找出 Java 原始碼中第一個 public class 名稱
func EntryClassName(code string) string {
	if m := publicClassPattern.FindStringSubmatch(code); m != nil {
		return m[1]
	}
	return DefaultEntryClass
}

// BuildPayload 組出沙箱請求：Java 需要具名檔案，其他語言送一個匿名檔案
func BuildPayload(req ExecRequest, defaultVersion string) *ExecutePayload {
	language := ResolveLanguage(req.Language)

	version := req.Version
	if version == "" {
		version = defaultVersion
	}
	if version == "" {
		version = "*"
	}

	file := SourceFile{Content: req.Code}
	if language == "java" {
		file.Name = EntryClassName(req.Code) + ".java"
	}

	return &ExecutePayload{
		Language: language,
		Version:  version,
		Files:    []SourceFile{file},
		Stdin:    req.Stdin,
	}
}

// Normalize 把沙箱回應轉成單一輸出與結束碼
//
// 有編譯錯誤時忽略執行階段輸出；否則依 run.stdout、run.stderr、run.output、
// compile.stdout 的順序取第一個非空值。
func Normalize(resp *ExecuteResponse) ExecResult {
	if resp == nil {
		resp = &ExecuteResponse{}
	}
	compile, run := resp.Compile, resp.Run
	if compile == nil {
		compile = &StageResult{}
	}
	if run == nil {
		run = &StageResult{}
	}

	var result ExecResult

	if compile.Stderr != "" {
		result.Output = compileErrorHead + compile.Stderr
		result.ExitCode = 1
		if compile.Code != nil && *compile.Code != 0 {
			result.ExitCode = *compile.Code
		}
	} else {
		result.Output = firstNonEmpty(run.Stdout, run.Stderr, run.Output, compile.Stdout)
		if result.Output == "" {
			result.Output = noOutputReceived
		}
		switch {
		case run.Code != nil:
			result.ExitCode = *run.Code
		case compile.Code != nil:
			result.ExitCode = *compile.Code
		}
	}

	result.Output = strings.TrimSpace(result.Output)
	if result.Output == "" {
		result.Output = noVisibleOutput
	}
	return result
}

// ErrorResult 把執行錯誤轉成結果；包含底層原因與上游回應內容（若有）
func ErrorResult(err error) ExecResult {
	msg := err.Error()
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		msg = appErr.Message
		if appErr.Err != nil {
			msg += ": " + appErr.Err.Error()
		}
		if appErr.Details != "" {
			msg += "\n" + appErr.Details
		}
	}
	return ExecResult{
		Output:   "Execution Error: " + msg,
		ExitCode: 1,
	}
}

// RateLimitedResult 請求過於頻繁、未送出執行時的結果
func RateLimitedResult() ExecResult {
	return ErrorResult(apperrors.ErrRateLimited)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// PistonClient Piston 相容的 HTTP 執行服務客戶端
type PistonClient struct {
	url    string
	client *http.Client
}

// NewPistonClient 創建執行服務客戶端
func NewPistonClient(url string, timeout time.Duration) *PistonClient {
	return &PistonClient{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// Execute 送出執行請求
//
// 錯誤一律是 *apperrors.AppError：TIMEOUT、SERVICE_UNAVAILABLE 或 UPSTREAM_ERROR。
func (c *PistonClient) Execute(ctx context.Context, payload *ExecutePayload) (*ExecuteResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "encode execution request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "build execution request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if isTimeout(ctx, err) {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeTimeout, apperrors.ErrExecutionTimeout.Message)
		}
		return nil, apperrors.Wrap(err, apperrors.ErrCodeUnavailable, apperrors.ErrExecutorUnavailable.Message)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		if isTimeout(ctx, err) {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeTimeout, apperrors.ErrExecutionTimeout.Message)
		}
		return nil, apperrors.Wrap(err, apperrors.ErrCodeUnavailable, apperrors.ErrExecutorUnavailable.Message)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apperrors.ErrUpstreamResponse.WithDetails(
			fmt.Sprintf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(data))))
	}

	var out ExecuteResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeUpstream, "decode execution response")
	}
	return &out, nil
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// ExecutionProxy 執行代理：組請求、套超時、正規化結果
type ExecutionProxy struct {
	executor       Executor
	timeout        time.Duration
	defaultVersion string
	logger         *slog.Logger
}

// NewExecutionProxy 創建執行代理
func NewExecutionProxy(executor Executor, timeout time.Duration, defaultVersion string, logger *slog.Logger) *ExecutionProxy {
	return &ExecutionProxy{
		executor:       executor,
		timeout:        timeout,
		defaultVersion: defaultVersion,
		logger:         logger,
	}
}

// Execute 執行程式碼並返回正規化結果；錯誤也會轉成結果，永不失敗
func (p *ExecutionProxy) Execute(ctx context.Context, req ExecRequest) ExecResult {
	payload := BuildPayload(req, p.defaultVersion)

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := p.executor.Execute(ctx, payload)
	if err != nil {
		p.logger.WarnContext(ctx, "執行服務呼叫失敗",
			"room_id", req.RoomID,
			"language", payload.Language,
			"duration", time.Since(start),
			"error", err)
		return ErrorResult(err)
	}

	result := Normalize(resp)
	p.logger.InfoContext(ctx, "程式碼執行完成",
		"room_id", req.RoomID,
		"language", payload.Language,
		"version", payload.Version,
		"exit_code", result.ExitCode,
		"duration", time.Since(start))
	return result
}
