package model

import (
	"strings"

	"github.com/google/uuid"
)

// NewID は新しいエンティティIDを払い出す。
func NewID() string {
	return uuid.NewString()
}

// IsValidID はIDとして解釈可能な文字列かを返す。
func IsValidID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// CanonicalID はIDを比較用の正規形に変換する。
// UUIDとして解釈できない値は前後の空白のみ除去する。
func CanonicalID(id string) string {
	if u, err := uuid.Parse(strings.TrimSpace(id)); err == nil {
		return u.String()
	}
	return strings.TrimSpace(id)
}

// SameID は2つのIDが同一エンティティを指すかを返す。
func SameID(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return CanonicalID(a) == CanonicalID(b)
}

// ContainsID は ids に id が含まれるかを返す。
func ContainsID(ids []string, id string) bool {
	for _, v := range ids {
		if SameID(v, id) {
			return true
		}
	}
	return false
}

// UniqueIDs は正規化したうえで重複を除いたIDリストを返す。順序は初出順。
func UniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		c := CanonicalID(id)
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

// AddID は ids に id が無ければ末尾に追加したスライスを返す。
func AddID(ids []string, id string) []string {
	if ContainsID(ids, id) {
		return ids
	}
	return append(ids, CanonicalID(id))
}

// RemoveID は ids から id を全て取り除いたスライスを返す。
func RemoveID(ids []string, id string) []string {
	out := ids[:0:0]
	for _, v := range ids {
		if !SameID(v, id) {
			out = append(out, v)
		}
	}
	return out
}

// DiffIDs は before から after への差分（追加分・削除分）を返す。
func DiffIDs(before, after []string) (added, removed []string) {
	for _, id := range after {
		if !ContainsID(before, id) {
			added = append(added, CanonicalID(id))
		}
	}
	for _, id := range before {
		if !ContainsID(after, id) {
			removed = append(removed, CanonicalID(id))
		}
	}
	return added, removed
}
