package model

import (
	"errors"
	"fmt"
)

// ErrorKind はHTTPステータスに対応するエラー分類を表す。
type ErrorKind string

const (
	KindBadRequest   ErrorKind = "bad_request"
	KindUnauthorized ErrorKind = "unauthorized"
	KindForbidden    ErrorKind = "forbidden"
	KindNotFound     ErrorKind = "not_found"
	KindConflict     ErrorKind = "conflict"
	KindServerError  ErrorKind = "server_error"
)

// APIError は統一エラーフォーマットを表す。
// Message はクライアントにそのまま返却される。
type APIError struct {
	Kind     ErrorKind // エラー分類
	Code     string    // エラーコード
	Message  string    // エラーメッセージ
	Category string    // カテゴリ: auth, validation, project, task, tag, system
	Action   string    // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// KindOf は err に含まれるAPIErrorの分類を返す。APIErrorでなければ KindServerError。
func KindOf(err error) ErrorKind {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return KindServerError
}

// 定義済みエラーコード
const (
	ErrCodeForbidden              = "FORBIDDEN"
	ErrCodeRoleRequired           = "ROLE_REQUIRED"
	ErrCodeNotProjectOwner        = "NOT_PROJECT_OWNER"
	ErrCodeFieldRestricted        = "FIELD_RESTRICTED"
	ErrCodeUnauthorized           = "UNAUTHORIZED"
	ErrCodeInvalidCredentials     = "INVALID_CREDENTIALS"
	ErrCodeInvalidRequest         = "INVALID_REQUEST"
	ErrCodeWeakPassword           = "WEAK_PASSWORD"
	ErrCodeResourceNotFound       = "RESOURCE_NOT_FOUND"
	ErrCodeUserNotFound           = "USER_NOT_FOUND"
	ErrCodeProjectNotFound        = "PROJECT_NOT_FOUND"
	ErrCodeTaskNotFound           = "TASK_NOT_FOUND"
	ErrCodeTagNotFound            = "TAG_NOT_FOUND"
	ErrCodeMissingReference       = "MISSING_REFERENCE"
	ErrCodeAssigneeNotMember      = "ASSIGNEE_NOT_MEMBER"
	ErrCodeDueDateOutOfRange      = "DUE_DATE_OUT_OF_RANGE"
	ErrCodeProjectHasTasks        = "PROJECT_HAS_TASKS"
	ErrCodeMemberHasAssignedTasks = "MEMBER_HAS_ASSIGNED_TASKS"
	ErrCodeNotAMember             = "NOT_A_MEMBER"
	ErrCodeAlreadyMember          = "ALREADY_MEMBER"
	ErrCodeTagNotInProject        = "TAG_NOT_IN_PROJECT"
	ErrCodeDuplicateEmail         = "DUPLICATE_EMAIL"
	ErrCodeDuplicateTagName       = "DUPLICATE_TAG_NAME"
	ErrCodeIntegrityFailure       = "INTEGRITY_FAILURE"
)

// NewForbiddenError はアクセス権限エラーを生成する。
func NewForbiddenError() *APIError {
	return &APIError{
		Kind:     KindForbidden,
		Code:     ErrCodeForbidden,
		Message:  "Not authorized",
		Category: "auth",
		Action:   "このリソースを操作する権限がありません。",
	}
}

// NewRoleRequiredError は必要なロールを持たない場合のエラーを生成する。
func NewRoleRequiredError() *APIError {
	return &APIError{
		Kind:     KindForbidden,
		Code:     ErrCodeRoleRequired,
		Message:  "Access denied",
		Category: "auth",
		Action:   "この操作にはマネージャーロールが必要です。",
	}
}

// NewTaskCreationForbiddenError はプロジェクトオーナー以外がタスクを追加しようとした場合のエラーを生成する。
func NewTaskCreationForbiddenError() *APIError {
	return &APIError{
		Kind:     KindForbidden,
		Code:     ErrCodeNotProjectOwner,
		Message:  "Not authorized to add tasks to this project, only project's owner can do this action",
		Category: "auth",
		Action:   "プロジェクトのオーナーに依頼してください。",
	}
}

// NewFieldRestrictedError は担当者が状態以外のフィールドを更新しようとした場合のエラーを生成する。
func NewFieldRestrictedError() *APIError {
	return &APIError{
		Kind:     KindForbidden,
		Code:     ErrCodeFieldRestricted,
		Message:  "Only project owner can update these fields: title, description, due date, assignee, tags, priority",
		Category: "auth",
		Action:   "担当者が変更できるのは state のみです。",
	}
}

// NewUnauthorizedError は認証エラーを生成する。
func NewUnauthorizedError(message string) *APIError {
	return &APIError{
		Kind:     KindUnauthorized,
		Code:     ErrCodeUnauthorized,
		Message:  message,
		Category: "auth",
		Action:   "再度ログインしてください。",
	}
}

// NewInvalidCredentialsError はログイン失敗エラーを生成する。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Kind:     KindBadRequest,
		Code:     ErrCodeInvalidCredentials,
		Message:  "Credentials invalid",
		Category: "auth",
		Action:   "メールアドレスとパスワードを確認してください。",
	}
}

// NewValidationError はリクエスト内容の検証エラーを生成する。
func NewValidationError(message string) *APIError {
	return &APIError{
		Kind:     KindBadRequest,
		Code:     ErrCodeInvalidRequest,
		Message:  message,
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewWeakPasswordError はパスワードポリシー違反エラーを生成する。
func NewWeakPasswordError() *APIError {
	return &APIError{
		Kind:     KindBadRequest,
		Code:     ErrCodeWeakPassword,
		Message:  "Password must be 8 to 16 characters long and contain at least one uppercase letter, one lowercase letter, one digit and no spaces",
		Category: "validation",
		Action:   "パスワードの条件を満たすよう入力してください。",
	}
}

// NewResourceNotFoundError は不正な形式のIDなど、対象を特定できない場合のエラーを生成する。
func NewResourceNotFoundError() *APIError {
	return &APIError{
		Kind:     KindNotFound,
		Code:     ErrCodeResourceNotFound,
		Message:  "Resource not found",
		Category: "system",
		Action:   "IDを確認してください。",
	}
}

// NewUserNotFoundError はユーザー未検出エラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Kind:     KindNotFound,
		Code:     ErrCodeUserNotFound,
		Message:  "User not found",
		Category: "auth",
		Action:   "再度ログインしてください。",
	}
}

// NewProjectNotFoundError はプロジェクト未検出エラーを生成する。
func NewProjectNotFoundError() *APIError {
	return &APIError{
		Kind:     KindNotFound,
		Code:     ErrCodeProjectNotFound,
		Message:  "Project not found",
		Category: "project",
		Action:   "プロジェクトIDを確認してください。",
	}
}

// NewTaskNotFoundError はタスク未検出エラーを生成する。
func NewTaskNotFoundError() *APIError {
	return &APIError{
		Kind:     KindNotFound,
		Code:     ErrCodeTaskNotFound,
		Message:  "Task not found",
		Category: "task",
		Action:   "タスクIDを確認してください。",
	}
}

// NewTagNotFoundError はタグ未検出エラーを生成する。
func NewTagNotFoundError() *APIError {
	return &APIError{
		Kind:     KindNotFound,
		Code:     ErrCodeTagNotFound,
		Message:  "Tag not found",
		Category: "tag",
		Action:   "タグIDを確認してください。",
	}
}

// NewMissingReferenceError は参照先が存在しない場合のエラーを生成する。
// message には "Project does not exist" のような参照先ごとの文言を渡す。
func NewMissingReferenceError(message string) *APIError {
	return &APIError{
		Kind:     KindBadRequest,
		Code:     ErrCodeMissingReference,
		Message:  message,
		Category: "validation",
		Action:   "参照先のIDを確認してください。",
	}
}

// 参照先未存在エラーの文言。
const (
	MsgProjectDoesNotExist  = "Project does not exist"
	MsgAssigneeDoesNotExist = "Assignee does not exist"
	MsgTagsDoNotExist       = "One or several tags do not exist"
	MsgMembersDoNotExist    = "One or several members do not exist"
	MsgMemberDoesNotExist   = "Member does not exist"
)

// NewAssigneeNotMemberError は担当者がプロジェクトメンバーでない場合のエラーを生成する。
func NewAssigneeNotMemberError() *APIError {
	return &APIError{
		Kind:     KindBadRequest,
		Code:     ErrCodeAssigneeNotMember,
		Message:  "Assignee is not a member of the task's project",
		Category: "task",
		Action:   "先に担当者をプロジェクトのメンバーに追加してください。",
	}
}

// NewDueDateOutOfRangeError は期限がプロジェクト期間外の場合のエラーを生成する。
func NewDueDateOutOfRangeError() *APIError {
	return &APIError{
		Kind:     KindBadRequest,
		Code:     ErrCodeDueDateOutOfRange,
		Message:  "Task due date must be within the project's start and end dates",
		Category: "task",
		Action:   "プロジェクトの開始日から終了日までの日付を指定してください。",
	}
}

// NewProjectHasTasksError はタスクが残っているプロジェクトを削除しようとした場合のエラーを生成する。
func NewProjectHasTasksError() *APIError {
	return &APIError{
		Kind:     KindBadRequest,
		Code:     ErrCodeProjectHasTasks,
		Message:  "Cannot delete project with existing tasks",
		Category: "project",
		Action:   "先にプロジェクト内のタスクを全て削除してください。",
	}
}

// NewMemberHasAssignedTasksError は担当タスクが残っているメンバーを外そうとした場合のエラーを生成する。
func NewMemberHasAssignedTasksError() *APIError {
	return &APIError{
		Kind:     KindBadRequest,
		Code:     ErrCodeMemberHasAssignedTasks,
		Message:  "Member is still assigned to tasks of this project",
		Category: "project",
		Action:   "先に担当タスクを他のメンバーへ割り当て直してください。",
	}
}

// NewNotAMemberError はメンバーでないユーザーを外そうとした場合のエラーを生成する。
func NewNotAMemberError() *APIError {
	return &APIError{
		Kind:     KindBadRequest,
		Code:     ErrCodeNotAMember,
		Message:  "User is not a member of this project",
		Category: "project",
		Action:   "メンバー一覧を確認してください。",
	}
}

// NewAlreadyMemberError は既にメンバーのユーザーを追加しようとした場合のエラーを生成する。
func NewAlreadyMemberError() *APIError {
	return &APIError{
		Kind:     KindConflict,
		Code:     ErrCodeAlreadyMember,
		Message:  "User is already a member of this project",
		Category: "project",
		Action:   "メンバー一覧を確認してください。",
	}
}

// NewTagNotInProjectError はタスクと異なるプロジェクトのタグを関連付けようとした場合のエラーを生成する。
func NewTagNotInProjectError() *APIError {
	return &APIError{
		Kind:     KindBadRequest,
		Code:     ErrCodeTagNotInProject,
		Message:  "Tag does not belong to the task's project",
		Category: "tag",
		Action:   "タスクと同じプロジェクトのタグを指定してください。",
	}
}

// NewDuplicateEmailError はメールアドレス重複エラーを生成する。
func NewDuplicateEmailError(email string) *APIError {
	return &APIError{
		Kind:     KindConflict,
		Code:     ErrCodeDuplicateEmail,
		Message:  fmt.Sprintf("Can't create an account for %s, this email already used", email),
		Category: "auth",
		Action:   "別のメールアドレスを使用するか、ログインしてください。",
	}
}

// NewDuplicateTagNameError はタグ名重複エラーを生成する。
func NewDuplicateTagNameError(name string) *APIError {
	return &APIError{
		Kind:     KindConflict,
		Code:     ErrCodeDuplicateTagName,
		Message:  fmt.Sprintf("Tag %s already exists", name),
		Category: "tag",
		Action:   "別のタグ名を指定してください。",
	}
}

// NewIntegrityFailureError は参照整合性を保つための書き込みに失敗した場合のエラーを生成する。
func NewIntegrityFailureError() *APIError {
	return &APIError{
		Kind:     KindServerError,
		Code:     ErrCodeIntegrityFailure,
		Message:  "Failed to keep references consistent, please retry",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
