package model

// 一覧取得のページング既定値。
const (
	DefaultPage     = 1
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// FilterOp はフィルタの比較演算子を表す。
type FilterOp string

const (
	FilterEq  FilterOp = "eq"
	FilterGte FilterOp = "gte"
	FilterLte FilterOp = "lte"
)

// Filter は一覧取得時の絞り込み条件を表す。
// Field はAPI上のフィールド名（例: "state", "dueAt"）、Value は型変換済みの値。
type Filter struct {
	Field string
	Op    FilterOp
	Value any
}

// Sort は一覧取得時の並び順を表す。
type Sort struct {
	Field string
	Desc  bool
}

// Pagination はページ番号と1ページあたりの件数を表す。
type Pagination struct {
	Page  int
	Limit int
}

// Normalize はページ番号と件数を有効範囲に丸める。maxLimit が0以下なら MaxPageSize を使う。
func (p Pagination) Normalize(maxLimit int) Pagination {
	if maxLimit <= 0 {
		maxLimit = MaxPageSize
	}
	if p.Page < 1 {
		p.Page = DefaultPage
	}
	if p.Limit < 1 {
		p.Limit = DefaultPageSize
	}
	if p.Limit > maxLimit {
		p.Limit = maxLimit
	}
	return p
}

// Skip は読み飛ばす件数を返す。
func (p Pagination) Skip() int {
	return (p.Page - 1) * p.Limit
}

// ListQuery は一覧取得の条件をまとめたもの。
type ListQuery struct {
	Filters    []Filter
	Sort       Sort
	Pagination Pagination
}

// PageInfo はレスポンスに含めるページング情報を表す。
type PageInfo struct {
	Total       int
	TotalPages  int
	Page        int
	Limit       int
	HasNextPage bool
	HasPrevPage bool
}

// NewPageInfo は総件数とページ指定からページング情報を組み立てる。
func NewPageInfo(total int, p Pagination) PageInfo {
	totalPages := 0
	if p.Limit > 0 {
		totalPages = (total + p.Limit - 1) / p.Limit
	}
	return PageInfo{
		Total:       total,
		TotalPages:  totalPages,
		Page:        p.Page,
		Limit:       p.Limit,
		HasNextPage: p.Page < totalPages,
		HasPrevPage: p.Page > 1,
	}
}

// Page はページング済みの一覧結果を表す。
type Page[T any] struct {
	Data       []T
	Pagination PageInfo
}
