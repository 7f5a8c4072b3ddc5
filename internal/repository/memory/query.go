package memory

import (
	"cmp"
	"slices"
	"strings"
	"time"

	"github.com/hitoshi/taskhub/internal/model"
)

// fieldFunc はAPI上のフィールド名に対応する値を取り出す。
type fieldFunc[T any] func(item T, field string) (any, bool)

func projectField(p *model.Project, field string) (any, bool) {
	switch field {
	case "title":
		return p.Title, true
	case "isArchived":
		return p.IsArchived, true
	case "startAt":
		return p.StartAt, true
	case "endAt":
		if p.EndAt == nil {
			return nil, true
		}
		return *p.EndAt, true
	case "owner":
		return p.OwnerID, true
	case "createdAt":
		return p.CreatedAt, true
	case "updatedAt":
		return p.UpdatedAt, true
	}
	return nil, false
}

func taskField(t *model.Task, field string) (any, bool) {
	switch field {
	case "title":
		return t.Title, true
	case "state":
		return string(t.State), true
	case "priority":
		return string(t.Priority), true
	case "project":
		return t.ProjectID, true
	case "assignee":
		return t.AssigneeID, true
	case "dueAt":
		return t.DueAt, true
	case "createdAt":
		return t.CreatedAt, true
	case "updatedAt":
		return t.UpdatedAt, true
	}
	return nil, false
}

// compareValues は同じ型の値を比較する。比較できない組み合わせは ok=false。
func compareValues(a, b any) (int, bool) {
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(model.CanonicalID(av), model.CanonicalID(bv)), true
	case bool:
		bv, ok := b.(bool)
		if !ok {
			return 0, false
		}
		switch {
		case av == bv:
			return 0, true
		case !av:
			return -1, true
		default:
			return 1, true
		}
	case time.Time:
		bv, ok := b.(time.Time)
		if !ok {
			return 0, false
		}
		return av.Compare(bv), true
	}
	return 0, false
}

func matches[T any](item T, filters []model.Filter, get fieldFunc[T]) bool {
	for _, f := range filters {
		v, ok := get(item, f.Field)
		if !ok || v == nil {
			return false
		}
		c, ok := compareValues(v, f.Value)
		if !ok {
			return false
		}
		switch f.Op {
		case model.FilterGte:
			if c < 0 {
				return false
			}
		case model.FilterLte:
			if c > 0 {
				return false
			}
		default:
			if c != 0 {
				return false
			}
		}
	}
	return true
}

// applyQuery は絞り込み・並び替え・ページングを適用し、ページ内の要素と総件数を返す。
func applyQuery[T any](items []T, q model.ListQuery, get fieldFunc[T], id func(T) string) ([]T, int) {
	filtered := make([]T, 0, len(items))
	for _, it := range items {
		if matches(it, q.Filters, get) {
			filtered = append(filtered, it)
		}
	}

	field := q.Sort.Field
	if field == "" {
		field = "createdAt"
	}
	slices.SortStableFunc(filtered, func(a, b T) int {
		av, _ := get(a, field)
		bv, _ := get(b, field)
		c := 0
		switch {
		case av == nil && bv != nil:
			c = 1
		case av != nil && bv == nil:
			c = -1
		case av != nil:
			c, _ = compareValues(av, bv)
		}
		if q.Sort.Desc {
			c = -c
		}
		if c == 0 {
			c = cmp.Compare(id(a), id(b))
		}
		return c
	})

	total := len(filtered)
	if q.Pagination.Limit <= 0 {
		return filtered, total
	}
	start := min(q.Pagination.Skip(), total)
	end := min(start+q.Pagination.Limit, total)
	return filtered[start:end], total
}

func sortTagsByName(tags []*model.Tag) {
	slices.SortFunc(tags, func(a, b *model.Tag) int {
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}
