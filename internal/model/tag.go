package model

import "time"

// Tag はプロジェクト内でタスクに付与するラベルを表す。
// Tasks はタスク側の Tags が正となるミラー参照。
type Tag struct {
	ID        string
	Name      string
	ProjectID string
	Tasks     []string
	CreatedAt time.Time
	UpdatedAt time.Time
}
