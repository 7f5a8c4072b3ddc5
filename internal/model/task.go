package model

import "time"

// Priority はタスクの優先度を表す。
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
)

// Valid は定義済みの優先度かを返す。
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// State はタスクの進捗状態を表す。
type State string

const (
	StateOpen       State = "OPEN"
	StateInProgress State = "IN_PROGRESS"
	StateClosed     State = "CLOSED"
)

// Valid は定義済みの状態かを返す。
func (s State) Valid() bool {
	switch s {
	case StateOpen, StateInProgress, StateClosed:
		return true
	}
	return false
}

// Task はプロジェクトに属するタスクを表す。
// ProjectID / AssigneeID / Tags は関係の正。AssigneeID が空文字の場合は未割当。
type Task struct {
	ID          string
	Title       string
	Description string
	DueAt       time.Time
	Priority    Priority
	State       State
	ProjectID   string
	AssigneeID  string
	Tags        []string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// HasTag は tagID がタスクに関連付いているかを返す。
func (t *Task) HasTag(tagID string) bool {
	return ContainsID(t.Tags, tagID)
}

// IsAssignee は userID がタスクの担当者かを返す。
func (t *Task) IsAssignee(userID string) bool {
	return t.AssigneeID != "" && SameID(t.AssigneeID, userID)
}
