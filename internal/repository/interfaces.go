// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"

	"github.com/hitoshi/taskhub/internal/model"
)

// ErrDuplicate は一意制約違反を表す。
var ErrDuplicate = errors.New("duplicate key")

// ErrNotFound は更新対象のドキュメント・行が存在しないことを表す。
var ErrNotFound = errors.New("record not found")

// TxRunner はトランザクション境界を提供する。
// fn に渡される ctx を使ったリポジトリ操作は同一トランザクション内で実行される。
// 既にトランザクション内の ctx が渡された場合は新たな境界を作らず fn をそのまま実行する。
type TxRunner interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// UserRepository はユーザーデータの永続化インターフェース。
// Add* 系は対象ユーザーが存在しない場合 ErrNotFound を返す。Remove* 系は存在しなくてもエラーにしない。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)
	// FindByEmail はメールアドレスでユーザーを取得する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)
	// Create はユーザーを作成する。メールアドレスが重複する場合は ErrDuplicate を返す。
	Create(ctx context.Context, user *model.User) error
	// CountByIDs は ids のうち存在するユーザー数を返す。
	CountByIDs(ctx context.Context, ids []string) (int, error)

	AddOwnedProject(ctx context.Context, userID, projectID string) error
	RemoveOwnedProject(ctx context.Context, userID, projectID string) error
	AddMemberProject(ctx context.Context, userIDs []string, projectID string) error
	RemoveMemberProject(ctx context.Context, userIDs []string, projectID string) error
	AddAssignedTask(ctx context.Context, userID, taskID string) error
	RemoveAssignedTask(ctx context.Context, userID, taskID string) error

	// ListAll は整合性修復用に全ユーザーを取得する。
	ListAll(ctx context.Context) ([]*model.User, error)
}

// ProjectScope はプロジェクト一覧の可視範囲を表す。
// MemberID が空でなければ、そのユーザーがメンバーまたはオーナーのプロジェクトに限定する。
type ProjectScope struct {
	MemberID string
}

// ProjectRepository はプロジェクトデータの永続化インターフェース。
type ProjectRepository interface {
	// FindByID は指定IDのプロジェクトを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Project, error)
	// Lock はトランザクション内でプロジェクトを排他ロックする。存在しない場合は ErrNotFound を返す。
	Lock(ctx context.Context, id string) error
	// Create はプロジェクトを作成する。
	Create(ctx context.Context, project *model.Project) error
	// Update はタイトル・説明・期間・アーカイブ状態を更新する。
	Update(ctx context.Context, project *model.Project) error
	// Delete は指定IDのプロジェクトを削除する。
	Delete(ctx context.Context, id string) error
	// List は条件に一致するプロジェクトと総件数を返す。
	List(ctx context.Context, scope ProjectScope, q model.ListQuery) ([]*model.Project, int, error)

	AddMember(ctx context.Context, projectID, userID string) error
	RemoveMember(ctx context.Context, projectID, userID string) error
	AddTask(ctx context.Context, projectID, taskID string) error
	RemoveTask(ctx context.Context, projectID, taskID string) error
	AddTag(ctx context.Context, projectID, tagID string) error
	RemoveTag(ctx context.Context, projectID, tagID string) error

	// ListAll は整合性修復用に全プロジェクトを取得する。
	ListAll(ctx context.Context) ([]*model.Project, error)
	// ReplaceReferences はミラー参照（タスク、タグ）を置き換える。
	ReplaceReferences(ctx context.Context, project *model.Project) error
}

// TaskScope はタスク一覧の可視範囲を表す。
// AssigneeID が空でなければ、そのユーザーが担当するタスクに限定する。
type TaskScope struct {
	AssigneeID string
}

// TaskRepository はタスクデータの永続化インターフェース。
type TaskRepository interface {
	// FindByID は指定IDのタスクを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Task, error)
	// Create はタスクを作成する。
	Create(ctx context.Context, task *model.Task) error
	// Update はタスクの全属性（担当者・タグを含む）を更新する。
	Update(ctx context.Context, task *model.Task) error
	// Delete は指定IDのタスクを削除する。
	Delete(ctx context.Context, id string) error
	// List は条件に一致するタスクと総件数を返す。
	List(ctx context.Context, scope TaskScope, q model.ListQuery) ([]*model.Task, int, error)

	// ListByProject はプロジェクトに属するタスクを作成順で返す。
	ListByProject(ctx context.Context, projectID string) ([]*model.Task, error)
	// CountByProject はプロジェクトに属するタスク数を返す。
	CountByProject(ctx context.Context, projectID string) (int, error)
	// CountByProjectAndAssignee はプロジェクト内で指定ユーザーが担当するタスク数を返す。
	CountByProjectAndAssignee(ctx context.Context, projectID, userID string) (int, error)

	AddTag(ctx context.Context, taskID, tagID string) error
	RemoveTag(ctx context.Context, taskID, tagID string) error
	// RemoveTagFromAll は全タスクからタグ参照を取り除き、更新件数を返す。
	RemoveTagFromAll(ctx context.Context, tagID string) (int64, error)

	// ListAll は整合性修復用に全タスクを取得する。
	ListAll(ctx context.Context) ([]*model.Task, error)
}

// TagRepository はタグデータの永続化インターフェース。
type TagRepository interface {
	// FindByID は指定IDのタグを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Tag, error)
	// FindByName はタグ名でタグを取得する。見つからない場合はnilを返す。
	FindByName(ctx context.Context, name string) (*model.Tag, error)
	// Create はタグを作成する。名前が重複する場合は ErrDuplicate を返す。
	Create(ctx context.Context, tag *model.Tag) error
	// Update はタグ名を更新する。名前が重複する場合は ErrDuplicate を返す。
	Update(ctx context.Context, tag *model.Tag) error
	// Delete は指定IDのタグを削除する。
	Delete(ctx context.Context, id string) error
	// DeleteByProject はプロジェクトに属するタグを全て削除し、削除件数を返す。
	DeleteByProject(ctx context.Context, projectID string) (int64, error)
	// ListByProject はプロジェクトに属するタグを名前順で返す。
	ListByProject(ctx context.Context, projectID string) ([]*model.Tag, error)
	// FindByIDs は ids のうち存在するタグを返す。
	FindByIDs(ctx context.Context, ids []string) ([]*model.Tag, error)

	// AddTask は tagIDs の各タグにタスク参照を追加する。いずれかが存在しない場合は ErrNotFound を返す。
	AddTask(ctx context.Context, tagIDs []string, taskID string) error
	// RemoveTask は tagIDs の各タグからタスク参照を取り除く。
	RemoveTask(ctx context.Context, tagIDs []string, taskID string) error
	// RemoveTaskFromAll は全タグからタスク参照を取り除き、更新件数を返す。
	RemoveTaskFromAll(ctx context.Context, taskID string) (int64, error)

	// ListAll は整合性修復用に全タグを取得する。
	ListAll(ctx context.Context) ([]*model.Tag, error)
	// ReplaceReferences はミラー参照（タスク）を置き換える。
	ReplaceReferences(ctx context.Context, tag *model.Tag) error
}

// Pinger はストアへの疎通確認インターフェース。
type Pinger interface {
	Ping(ctx context.Context) error
}

// Store はストア実装ごとのリポジトリ一式をまとめたもの。
type Store struct {
	Users    UserRepository
	Projects ProjectRepository
	Tasks    TaskRepository
	Tags     TagRepository
	Tx       TxRunner
	Pinger   Pinger
	// Close はストアの接続を解放する。nil の場合は何もしない。
	Close func(ctx context.Context) error
}
