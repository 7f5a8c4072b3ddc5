package handler

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/taskhub/internal/model"
)

// fieldKind は一覧のフィルタ値の型。
type fieldKind int

const (
	kindString fieldKind = iota
	kindID
	kindBool
	kindTime
	kindState
	kindPriority
)

// listSpec は一覧エンドポイントで受け付けるフィルタと並び替えの定義。
type listSpec struct {
	filters  map[string]fieldKind
	sortable map[string]bool
}

var projectListSpec = listSpec{
	filters: map[string]fieldKind{
		"title":      kindString,
		"isArchived": kindBool,
		"startAt":    kindTime,
		"endAt":      kindTime,
		"owner":      kindID,
	},
	sortable: map[string]bool{
		"title": true, "startAt": true, "endAt": true, "createdAt": true, "updatedAt": true,
	},
}

var taskListSpec = listSpec{
	filters: map[string]fieldKind{
		"state":    kindState,
		"priority": kindPriority,
		"project":  kindID,
		"assignee": kindID,
		"dueAt":    kindTime,
	},
	sortable: map[string]bool{
		"title": true, "dueAt": true, "priority": true, "state": true, "createdAt": true, "updatedAt": true,
	},
}

// dateLayouts は受け付ける日時の書式。
var dateLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"}

// parseTime は RFC3339 または日付のみの文字列を UTC の時刻に変換する。
func parseTime(s string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date: %q", s)
}

// flexTime はJSONで RFC3339 と日付のみの両方を受け付ける時刻。
type flexTime struct {
	time.Time
}

// UnmarshalJSON は文字列の日時をパースする。
func (f *flexTime) UnmarshalJSON(b []byte) error {
	s, err := strconv.Unquote(string(b))
	if err != nil {
		return fmt.Errorf("date must be a string")
	}
	t, err := parseTime(s)
	if err != nil {
		return err
	}
	f.Time = t
	return nil
}

// ptr は nil 許容の flexTime を *time.Time に変換する。
func (f *flexTime) ptr() *time.Time {
	if f == nil {
		return nil
	}
	t := f.Time
	return &t
}

// optionalTime は「未指定」と「null（値の消去）」を区別する時刻。
type optionalTime struct {
	set   bool
	value *time.Time
}

// UnmarshalJSON は null を値の消去として受け取る。
func (o *optionalTime) UnmarshalJSON(b []byte) error {
	o.set = true
	if string(b) == "null" {
		o.value = nil
		return nil
	}
	var f flexTime
	if err := f.UnmarshalJSON(b); err != nil {
		return err
	}
	o.value = f.ptr()
	return nil
}

// cleared は null が指定されたかを返す。
func (o optionalTime) cleared() bool {
	return o.set && o.value == nil
}

// parseListQuery はクエリ文字列から絞り込み・並び替え・ページングを組み立てる。
// 例: ?state=OPEN&dueAt[gte]=2024-01-01&sort=-dueAt&page=2&limit=20
func parseListQuery(values url.Values, spec listSpec) (model.ListQuery, error) {
	q := model.ListQuery{
		Sort:       model.Sort{Field: "createdAt", Desc: true},
		Pagination: model.Pagination{Page: model.DefaultPage, Limit: model.DefaultPageSize},
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		raw := values.Get(key)
		switch key {
		case "page":
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 {
				return q, invalidRequest("page must be an integer greater than or equal to 1")
			}
			q.Pagination.Page = n
			continue
		case "limit":
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 {
				return q, invalidRequest("limit must be an integer greater than or equal to 1")
			}
			q.Pagination.Limit = n
			continue
		case "sort":
			s, err := parseSort(raw, spec)
			if err != nil {
				return q, err
			}
			q.Sort = s
			continue
		}

		field, op := splitFilterKey(key)
		kind, ok := spec.filters[field]
		if !ok || op == "" {
			return q, invalidRequest(fmt.Sprintf("Unsupported query parameter: %s", key))
		}
		if op != model.FilterEq && kind != kindTime {
			return q, invalidRequest(fmt.Sprintf("Range filter is only supported on dates: %s", key))
		}
		value, err := convertFilterValue(kind, raw)
		if err != nil {
			return q, invalidRequest(fmt.Sprintf("Invalid value for %s", key))
		}
		q.Filters = append(q.Filters, model.Filter{Field: field, Op: op, Value: value})
	}
	return q, nil
}

// splitFilterKey は "dueAt[gte]" を フィールド名と演算子に分解する。未知の演算子は空を返す。
func splitFilterKey(key string) (string, model.FilterOp) {
	open := strings.IndexByte(key, '[')
	if open < 0 {
		return key, model.FilterEq
	}
	if !strings.HasSuffix(key, "]") {
		return key, ""
	}
	field, op := key[:open], key[open+1:len(key)-1]
	switch model.FilterOp(op) {
	case model.FilterGte, model.FilterLte:
		return field, model.FilterOp(op)
	}
	return field, ""
}

// parseSort は "field" または "-field"（降順）を解釈する。"field:desc" 形式も受け付ける。
func parseSort(raw string, spec listSpec) (model.Sort, error) {
	s := model.Sort{Field: raw}
	if strings.HasPrefix(raw, "-") {
		s = model.Sort{Field: raw[1:], Desc: true}
	} else if name, dir, ok := strings.Cut(raw, ":"); ok {
		s.Field = name
		switch strings.ToLower(dir) {
		case "asc", "1":
		case "desc", "-1":
			s.Desc = true
		default:
			return s, invalidRequest(fmt.Sprintf("Invalid sort direction: %s", dir))
		}
	}
	if !spec.sortable[s.Field] {
		return s, invalidRequest(fmt.Sprintf("Unsupported sort field: %s", s.Field))
	}
	return s, nil
}

func convertFilterValue(kind fieldKind, raw string) (any, error) {
	switch kind {
	case kindBool:
		return strconv.ParseBool(raw)
	case kindTime:
		return parseTime(raw)
	case kindState:
		st := model.State(strings.ToUpper(raw))
		if !st.Valid() {
			return nil, fmt.Errorf("invalid state")
		}
		return string(st), nil
	case kindPriority:
		p := model.Priority(strings.ToUpper(raw))
		if !p.Valid() {
			return nil, fmt.Errorf("invalid priority")
		}
		return string(p), nil
	default:
		return raw, nil
	}
}
