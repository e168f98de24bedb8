// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, application, storage, system
	Action   string // ユーザー向け対処方法

	Fields    []FieldError // 入力検証エラーの詳細
	Completed []string     // 部分完了時に完了済みのステップ
	Pending   []string     // 部分完了時に未完了のステップ

	// Err は原因となった内部エラー。レスポンスには含めずログにのみ出力する。
	Err error
}

// FieldError は1フィールド分の入力検証エラー。
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap は原因エラーを返す。
func (e *APIError) Unwrap() error {
	return e.Err
}

// 定義済みエラーコード
const (
	ErrCodeUnauthorized        = "UNAUTHORIZED"
	ErrCodeForbidden           = "FORBIDDEN"
	ErrCodeValidationFailed    = "VALIDATION_FAILED"
	ErrCodeInvalidRequest      = "INVALID_REQUEST"
	ErrCodeInvalidFile         = "INVALID_FILE"
	ErrCodeApplicationNotFound = "APPLICATION_NOT_FOUND"
	ErrCodeCVNotFound          = "CV_NOT_FOUND"
	ErrCodeDataAccess          = "DATA_ACCESS_ERROR"
	ErrCodeStorage             = "STORAGE_ERROR"
	ErrCodePartialCompletion   = "PARTIAL_COMPLETION"
)

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewForbiddenError は他ユーザーのリソースへのアクセスを拒否するエラーを生成する。
func NewForbiddenError() *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  "この応募にアクセスする権限がありません。",
		Category: "auth",
		Action:   "自分が登録した応募のみ操作できます。",
	}
}

// NewValidationError は入力検証エラーを生成する。
func NewValidationError(fields []FieldError) *APIError {
	return &APIError{
		Code:     ErrCodeValidationFailed,
		Message:  "入力内容に誤りがあります。",
		Category: "validation",
		Action:   "エラーのある項目を修正してから再度送信してください。",
		Fields:   fields,
	}
}

// NewInvalidRequestError はリクエスト形式の不正エラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	}
}

// NewInvalidFileError はアップロードファイルの検証エラーを生成する。
func NewInvalidFileError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidFile,
		Message:  fmt.Sprintf("ファイルを受け付けられません: %s", reason),
		Category: "validation",
		Action:   "5MB以下のPDFファイルを「cv」フィールドで送信してください。",
	}
}

// NewApplicationNotFoundError は応募未検出エラーを生成する。
func NewApplicationNotFoundError(id string) *APIError {
	return &APIError{
		Code:     ErrCodeApplicationNotFound,
		Message:  fmt.Sprintf("指定された応募が見つかりません: %s", id),
		Category: "application",
		Action:   "応募IDを確認してください。",
	}
}

// NewCVNotFoundError は履歴書ファイル未検出エラーを生成する。
func NewCVNotFoundError(id string) *APIError {
	return &APIError{
		Code:     ErrCodeCVNotFound,
		Message:  fmt.Sprintf("この応募には履歴書が登録されていません: %s", id),
		Category: "storage",
		Action:   "履歴書をアップロードしてから再度お試しください。",
	}
}

// NewDataAccessError はデータベース障害を表すエラーを生成する。
// 原因はErrに保持し、レスポンスには一般的なメッセージのみを返す。
func NewDataAccessError(err error) *APIError {
	return &APIError{
		Code:     ErrCodeDataAccess,
		Message:  "データの読み書きに失敗しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
		Err:      err,
	}
}

// NewStorageError はファイルストレージ障害を表すエラーを生成する。
func NewStorageError(err error) *APIError {
	return &APIError{
		Code:     ErrCodeStorage,
		Message:  "ファイルストレージの操作に失敗しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
		Err:      err,
	}
}

// NewPartialCompletionError は複数ステップの操作が途中で失敗したことを表すエラーを生成する。
func NewPartialCompletionError(completed, pending []string, err error) *APIError {
	return &APIError{
		Code:      ErrCodePartialCompletion,
		Message:   "操作の一部のみ完了しました。",
		Category:  "storage",
		Action:    "応募の状態を確認し、必要であれば再度お試しください。",
		Completed: completed,
		Pending:   pending,
		Err:       err,
	}
}
