// Package integrity はエンティティ間の双方向参照を一貫させる書き込み操作を提供する。
//
// 各操作は「ガード検証 → 主書き込み → ミラー書き込み」を1トランザクション内で行い、
// いずれかが失敗した場合は何も反映しない。ガード違反は model.APIError で返す。
package integrity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/taskhub/internal/events"
	"github.com/hitoshi/taskhub/internal/model"
	"github.com/hitoshi/taskhub/internal/repository"
)

// ErrMirrorWrite はミラー参照の書き込み失敗を表す。
var ErrMirrorWrite = errors.New("mirror write failed")

// OperationRecorder は操作結果のメトリクス記録インターフェース。
type OperationRecorder interface {
	RecordIntegrityOperation(operation string, err error)
}

// Service は参照整合性を保つ書き込み操作のサービス層。
type Service struct {
	users     repository.UserRepository
	projects  repository.ProjectRepository
	tasks     repository.TaskRepository
	tags      repository.TagRepository
	tx        repository.TxRunner
	publisher events.Publisher
	recorder  OperationRecorder
	now       func() time.Time
}

// Option はServiceの任意設定。
type Option func(*Service)

// WithPublisher はコミット後のイベント発行先を設定する。
func WithPublisher(p events.Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithRecorder は操作結果の記録先を設定する。
func WithRecorder(r OperationRecorder) Option {
	return func(s *Service) { s.recorder = r }
}

// WithClock は現在時刻の取得関数を差し替える。
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(store *repository.Store, opts ...Option) *Service {
	s := &Service{
		users:     store.Users,
		projects:  store.Projects,
		tasks:     store.Tasks,
		tags:      store.Tags,
		tx:        store.Tx,
		publisher: events.NopPublisher{},
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// run は fn をトランザクション内で実行し、コミット後にイベントを発行する。
func (s *Service) run(ctx context.Context, op string, fn func(ctx context.Context, emit func(events.Event)) error) error {
	var pending []events.Event
	emit := func(e events.Event) { pending = append(pending, e) }

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		pending = pending[:0]
		return fn(ctx, emit)
	})
	if s.recorder != nil {
		s.recorder.RecordIntegrityOperation(op, err)
	}
	if err != nil {
		if errors.Is(err, ErrMirrorWrite) {
			slog.Error("ミラー参照の書き込みに失敗しました",
				slog.String("operation", op),
				slog.String("error", err.Error()),
			)
			return model.NewIntegrityFailureError()
		}
		return err
	}

	now := s.now()
	for _, e := range pending {
		e.OccurredAt = now
		if perr := s.publisher.Publish(ctx, e); perr != nil {
			slog.Warn("イベントの発行に失敗しました",
				slog.String("event", e.Type),
				slog.String("error", perr.Error()),
			)
		}
	}
	return nil
}

// mirror はミラー書き込みのエラーを ErrMirrorWrite で包む。
func mirror(what string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrMirrorWrite, what, err)
}

// lockProject はプロジェクトを排他ロックしたうえで最新状態を読み直す。
// 存在しない場合は nil を返す。
func (s *Service) lockProject(ctx context.Context, projectID string) (*model.Project, error) {
	if !model.IsValidID(projectID) {
		return nil, nil
	}
	if err := s.projects.Lock(ctx, projectID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("プロジェクトのロックに失敗しました: %w", err)
	}
	p, err := s.projects.FindByID(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("プロジェクトの取得に失敗しました: %w", err)
	}
	return p, nil
}

// allUsersExist は ids が全て既存ユーザーを指すかを返す。
func (s *Service) allUsersExist(ctx context.Context, ids []string) (bool, error) {
	if len(ids) == 0 {
		return true, nil
	}
	for _, id := range ids {
		if !model.IsValidID(id) {
			return false, nil
		}
	}
	n, err := s.users.CountByIDs(ctx, ids)
	if err != nil {
		return false, fmt.Errorf("ユーザーの存在確認に失敗しました: %w", err)
	}
	return n == len(ids), nil
}

// userExists は id が既存ユーザーを指すかを返す。
func (s *Service) userExists(ctx context.Context, id string) (bool, error) {
	return s.allUsersExist(ctx, []string{id})
}
