// Package access はプロジェクト・タスク・タグに対するアクセス可否を判定する。
// 判定は純粋関数で、ストアへの問い合わせは行わない。
package access

import "github.com/hitoshi/taskhub/internal/model"

// Strategy はアクセス判定の方式を表す。
type Strategy string

const (
	MembersAndManagers      Strategy = "MEMBERS_AND_MANAGERS"
	AllManagers             Strategy = "ALL_MANAGERS"
	OnlyManagerOwner        Strategy = "ONLY_MANAGER_OWNER"
	OnlyProjectOwner        Strategy = "ONLY_PROJECT_OWNER"
	MembersAndProjectOwner  Strategy = "MEMBERS_AND_PROJECT_OWNER"
	AssigneeAndManagers     Strategy = "ASSIGNEE_AND_MANAGERS"
	AssigneeAndProjectOwner Strategy = "ASSIGNEE_AND_PROJECT_OWNER"
)

// Actor は認証済みのリクエスト主体を表す。
type Actor struct {
	ID    string
	Roles []model.Role
}

// IsManager はMANAGERロールを持つかを返す。
func (a Actor) IsManager() bool {
	return model.HasRole(a.Roles, model.RoleManager)
}

// HasRole は指定ロールを持つかを返す。
func (a Actor) HasRole(role model.Role) bool {
	return model.HasRole(a.Roles, role)
}

// facts は判定に用いる事実。
type facts struct {
	manager  bool
	member   bool
	owner    bool
	assignee bool
}

func collect(actor Actor, project *model.Project, task *model.Task) facts {
	f := facts{manager: actor.IsManager()}
	if project != nil {
		f.member = project.HasMember(actor.ID)
		f.owner = project.IsOwner(actor.ID)
	}
	if task != nil {
		f.assignee = task.IsAssignee(actor.ID)
	}
	return f
}

// decide は strategy と事実からアクセス可否を決める。
// 未知の strategy は fallback（対象リソース種別のオーナー限定方式）として扱う。
func decide(strategy, fallback Strategy, f facts) bool {
	switch strategy {
	case MembersAndManagers:
		return f.member || f.manager
	case AllManagers:
		return f.manager
	case OnlyManagerOwner:
		return f.manager && f.owner
	case OnlyProjectOwner:
		return f.owner
	case MembersAndProjectOwner:
		return f.member || f.owner
	case AssigneeAndManagers:
		return f.assignee || f.manager
	case AssigneeAndProjectOwner:
		return f.assignee || f.owner
	}
	if fallback == "" || fallback == strategy {
		return f.owner
	}
	return decide(fallback, "", f)
}

// Allowed はプロジェクトに対するアクセス可否を返す。
func Allowed(actor Actor, project *model.Project, strategy Strategy) bool {
	return decide(strategy, OnlyManagerOwner, collect(actor, project, nil))
}

// CanAccessProject はプロジェクトへのアクセスを判定し、不許可なら Forbidden を返す。
func CanAccessProject(actor Actor, project *model.Project, strategy Strategy) error {
	if !Allowed(actor, project, strategy) {
		return model.NewForbiddenError()
	}
	return nil
}

// CanAccessTask はタスクへのアクセスを判定する。
// メンバー・オーナーの判定にはタスクの所属プロジェクトを用いる。
func CanAccessTask(actor Actor, task *model.Task, project *model.Project, strategy Strategy) error {
	if task != nil && project != nil && !model.SameID(task.ProjectID, project.ID) {
		return model.NewForbiddenError()
	}
	if !decide(strategy, OnlyProjectOwner, collect(actor, project, task)) {
		return model.NewForbiddenError()
	}
	return nil
}

// CanAccessTag はタグへのアクセスを判定する。
// メンバー・オーナーの判定にはタグの所属プロジェクトを用いる。
func CanAccessTag(actor Actor, tag *model.Tag, project *model.Project, strategy Strategy) error {
	if tag != nil && project != nil && !model.SameID(tag.ProjectID, project.ID) {
		return model.NewForbiddenError()
	}
	if !decide(strategy, OnlyProjectOwner, collect(actor, project, nil)) {
		return model.NewForbiddenError()
	}
	return nil
}

// AssigneeMayUpdate は担当者（オーナー以外）が更新してよいフィールドのみかを返す。
// 担当者に許されるのは state の変更のみ。
func AssigneeMayUpdate(fields []string) bool {
	for _, f := range fields {
		if f != "state" {
			return false
		}
	}
	return true
}
