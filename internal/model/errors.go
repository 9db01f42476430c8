// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, post, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidRequest      = "INVALID_REQUEST"
	ErrCodeInvalidProvider     = "INVALID_PROVIDER"
	ErrCodeInvalidCredentials  = "INVALID_CREDENTIALS"
	ErrCodeSignupRejected      = "SIGNUP_REJECTED"
	ErrCodeProviderUnavailable = "PROVIDER_UNAVAILABLE"
	ErrCodeUnauthorized        = "UNAUTHORIZED"
	ErrCodeUserNotFound        = "USER_NOT_FOUND"
	ErrCodePostNotFound        = "POST_NOT_FOUND"
	ErrCodePostForbidden       = "POST_FORBIDDEN"
	ErrCodeEmptyContent        = "EMPTY_CONTENT"
	ErrCodeContentTooLong      = "CONTENT_TOO_LONG"
	ErrCodeInvalidCursor       = "INVALID_CURSOR"
	ErrCodeCSRFInvalid         = "CSRF_TOKEN_INVALID"
	ErrCodeRateLimitExceeded   = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal            = "INTERNAL_ERROR"
)

// NewInvalidRequestError はリクエスト内容の不備を表すエラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewInvalidProviderError はPodプロバイダーのURLが利用できない場合のエラーを生成する。
func NewInvalidProviderError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidProvider,
		Message:  fmt.Sprintf("Podプロバイダーを利用できません: %s", reason),
		Category: "validation",
		Action:   "http:// または https:// で始まる公開されたPodプロバイダーのURLを指定してください。",
	}
}

// NewInvalidCredentialsError は認証情報がプロバイダーに拒否された場合のエラーを生成する。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "ユーザー名またはパスワードが正しくありません。",
		Category: "auth",
		Action:   "Podプロバイダーに登録したユーザー名とパスワードを確認してください。",
	}
}

// NewSignupRejectedError はプロバイダーがアカウント作成を拒否した場合のエラーを生成する。
// reasonにはプロバイダーが返したメッセージをそのまま含める。
func NewSignupRejectedError(reason string) *APIError {
	msg := "アカウントの作成がPodプロバイダーに拒否されました。"
	if reason != "" {
		msg = fmt.Sprintf("アカウントの作成がPodプロバイダーに拒否されました: %s", reason)
	}
	return &APIError{
		Code:     ErrCodeSignupRejected,
		Message:  msg,
		Category: "auth",
		Action:   "別のユーザー名またはメールアドレスで再度お試しください。",
	}
}

// NewProviderUnavailableError はプロバイダーとの通信に失敗した場合のエラーを生成する。
func NewProviderUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeProviderUnavailable,
		Message:  "Podプロバイダーとの通信に失敗しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewPostNotFoundError は投稿が見つからない場合のエラーを生成する。
func NewPostNotFoundError(postID string) *APIError {
	return &APIError{
		Code:     ErrCodePostNotFound,
		Message:  fmt.Sprintf("指定された投稿が見つかりません: %s", postID),
		Category: "post",
		Action:   "投稿IDを確認してください。",
	}
}

// NewPostForbiddenError は他人の投稿を操作しようとした場合のエラーを生成する。
func NewPostForbiddenError() *APIError {
	return &APIError{
		Code:     ErrCodePostForbidden,
		Message:  "この投稿を操作する権限がありません。",
		Category: "post",
		Action:   "自分の投稿のみ削除できます。",
	}
}

// NewEmptyContentError は投稿本文が空の場合のエラーを生成する。
func NewEmptyContentError() *APIError {
	return &APIError{
		Code:     ErrCodeEmptyContent,
		Message:  "投稿本文が空です。",
		Category: "validation",
		Action:   "本文を入力してください。",
	}
}

// NewContentTooLongError は投稿本文が上限文字数を超えた場合のエラーを生成する。
func NewContentTooLongError(max int) *APIError {
	return &APIError{
		Code:     ErrCodeContentTooLong,
		Message:  fmt.Sprintf("投稿本文が長すぎます（上限%d文字）。", max),
		Category: "validation",
		Action:   "本文を短くしてください。",
	}
}

// NewInvalidCursorError はページネーションカーソルが不正な場合のエラーを生成する。
func NewInvalidCursorError(cursor string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCursor,
		Message:  fmt.Sprintf("無効なカーソルです: %s", cursor),
		Category: "validation",
		Action:   "カーソルには前回のレスポンスのnext_cursorを指定してください。",
	}
}

// NewCSRFError はCSRFトークン検証に失敗した場合のエラーを生成する。
func NewCSRFError() *APIError {
	return &APIError{
		Code:     ErrCodeCSRFInvalid,
		Message:  "CSRFトークンの検証に失敗しました。",
		Category: "auth",
		Action:   "ページを再読み込みしてから再度お試しください。",
	}
}

// NewRateLimitError はレート制限超過のエラーを生成する。
func NewRateLimitError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimitExceeded,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログのみに記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
