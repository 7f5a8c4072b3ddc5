package model

import "time"

// Project はプロジェクトを表す。
// Members はメンバーシップ関係の正。Tasks / Tags はタスク・タグ側が正となるミラー参照。
type Project struct {
	ID          string
	Title       string
	Description string
	StartAt     time.Time
	EndAt       *time.Time
	IsArchived  bool
	OwnerID     string
	Members     []string
	Tasks       []string
	Tags        []string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// IsOwner は userID がプロジェクトのオーナーかを返す。
func (p *Project) IsOwner(userID string) bool {
	return SameID(p.OwnerID, userID)
}

// HasMember は userID がメンバーに含まれるかを返す。
func (p *Project) HasMember(userID string) bool {
	return ContainsID(p.Members, userID)
}

// AcceptsDueAt は期限がプロジェクト期間内（両端を含む）かを返す。
// EndAt が未設定の場合は上限なしとして扱う。
func (p *Project) AcceptsDueAt(dueAt time.Time) bool {
	if dueAt.Before(p.StartAt) {
		return false
	}
	if p.EndAt != nil && dueAt.After(*p.EndAt) {
		return false
	}
	return true
}
