// Package model はドメインモデルを定義する。
package model

import (
	"strings"
	"time"
)

// Role はユーザーに付与されるロールを表す。
type Role string

const (
	RoleUser    Role = "USER"
	RoleManager Role = "MANAGER"
)

// ParseRole は文字列をRoleに変換する。
// 旧来の "ROLE_" 接頭辞付きの表記も受け付ける。
func ParseRole(s string) (Role, bool) {
	switch strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(s)), "ROLE_") {
	case string(RoleUser):
		return RoleUser, true
	case string(RoleManager):
		return RoleManager, true
	}
	return "", false
}

// HasRole はroles に role が含まれるかを返す。
func HasRole(roles []Role, role Role) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

// User はサービス利用ユーザーを表す。
// ProjectsOwned / ProjectsMemberOf / TasksAssigned は他エンティティ側が正となるミラー参照。
type User struct {
	ID               string
	Email            string
	PasswordHash     string
	Firstname        string
	Lastname         string
	Roles            []Role
	ProjectsOwned    []string
	ProjectsMemberOf []string
	TasksAssigned    []string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// IsManager はユーザーがMANAGERロールを持つかを返す。
func (u *User) IsManager() bool {
	return HasRole(u.Roles, RoleManager)
}
