// Package events はドメインイベントの発行を提供する。
// 発行はコミット後に行い、失敗しても参照整合性の結果には影響させない。
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// イベント種別
const (
	ProjectCreated       = "project.created"
	ProjectUpdated       = "project.updated"
	ProjectDeleted       = "project.deleted"
	ProjectMemberAdded   = "project.member_added"
	ProjectMemberRemoved = "project.member_removed"
	TaskCreated          = "task.created"
	TaskUpdated          = "task.updated"
	TaskDeleted          = "task.deleted"
	TaskAssigned         = "task.assigned"
	TaskUnassigned       = "task.unassigned"
	TaskTagAssociated    = "task.tag_associated"
	TaskTagDissociated   = "task.tag_dissociated"
	TagCreated           = "tag.created"
	TagUpdated           = "tag.updated"
	TagDeleted           = "tag.deleted"
)

// Event は発行されるドメインイベントを表す。
type Event struct {
	Type       string    `json:"type"`
	ProjectID  string    `json:"projectId,omitempty"`
	TaskID     string    `json:"taskId,omitempty"`
	TagID      string    `json:"tagId,omitempty"`
	UserID     string    `json:"userId,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Publisher はイベント発行インターフェース。
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// NopPublisher は何も発行しないPublisher。NATS未設定時に使用する。
type NopPublisher struct{}

// Publish は何もしない。
func (NopPublisher) Publish(ctx context.Context, event Event) error {
	return nil
}

// Conn はNATS接続のうち発行に必要な操作。*nats.Conn が満たす。
type Conn interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher はNATSへイベントを発行する。
// サブジェクトは "<prefix>.<イベント種別>"。
type NATSPublisher struct {
	conn   Conn
	prefix string
}

// NewNATSPublisher はNATSPublisherを生成する。
func NewNATSPublisher(conn Conn, prefix string) *NATSPublisher {
	return &NATSPublisher{conn: conn, prefix: prefix}
}

// Connect はNATSサーバーへ接続する。
func Connect(url string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("taskhub"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("NATSへの接続に失敗しました: %w", err)
	}
	return nc, nil
}

// Subject はイベント種別に対応するサブジェクトを返す。
func (p *NATSPublisher) Subject(eventType string) string {
	if p.prefix == "" {
		return eventType
	}
	return p.prefix + "." + eventType
}

// Publish はイベントをJSONにしてNATSへ発行する。
func (p *NATSPublisher) Publish(ctx context.Context, event Event) error {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("イベントのエンコードに失敗しました: %w", err)
	}
	if err := p.conn.Publish(p.Subject(event.Type), data); err != nil {
		return fmt.Errorf("イベントの発行に失敗しました: %w", err)
	}
	return nil
}

var (
	_ Publisher = NopPublisher{}
	_ Publisher = (*NATSPublisher)(nil)
	_ Conn      = (*nats.Conn)(nil)
)
