package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockConn struct {
	subject string
	data    []byte
	err     error
}

func (m *mockConn) Publish(subject string, data []byte) error {
	m.subject = subject
	m.data = data
	return m.err
}

// TestNATSPublisher_Publish はサブジェクトとペイロードを検証する。
func TestNATSPublisher_Publish(t *testing.T) {
	conn := &mockConn{}
	p := NewNATSPublisher(conn, "taskhub")

	err := p.Publish(context.Background(), Event{Type: TaskAssigned, TaskID: "t-1", UserID: "u-1"})
	require.NoError(t, err)
	assert.Equal(t, "taskhub.task.assigned", conn.subject)

	var got Event
	require.NoError(t, json.Unmarshal(conn.data, &got))
	assert.Equal(t, "t-1", got.TaskID)
	assert.Equal(t, "u-1", got.UserID)
	assert.False(t, got.OccurredAt.IsZero())
}

// TestNATSPublisher_Publish_Error は発行エラーを返すことを検証する。
func TestNATSPublisher_Publish_Error(t *testing.T) {
	conn := &mockConn{err: errors.New("connection closed")}
	p := NewNATSPublisher(conn, "")

	err := p.Publish(context.Background(), Event{Type: TagDeleted})
	assert.Error(t, err)
	assert.Equal(t, "tag.deleted", conn.subject)
}

// TestNopPublisher は常に成功することを検証する。
func TestNopPublisher(t *testing.T) {
	assert.NoError(t, NopPublisher{}.Publish(context.Background(), Event{Type: ProjectCreated}))
}
