package model

import (
	"testing"
	"time"
)

// TestSameID は大文字小文字や空白の違いを吸収してIDを比較することを検証する。
func TestSameID(t *testing.T) {
	id := "7f1d2c3e-4b5a-4c6d-8e9f-0a1b2c3d4e5f"
	tests := []struct {
		name string
		a, b string
		want bool
	}{
		{"同一", id, id, true},
		{"大文字", id, "7F1D2C3E-4B5A-4C6D-8E9F-0A1B2C3D4E5F", true},
		{"前後空白", id, " " + id + " ", true},
		{"別ID", id, "00000000-0000-4000-8000-000000000000", false},
		{"空文字", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SameID(tt.a, tt.b); got != tt.want {
				t.Errorf("SameID(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

// TestAddRemoveID は集合としての追加・削除が冪等であることを検証する。
func TestAddRemoveID(t *testing.T) {
	a := "11111111-1111-4111-8111-111111111111"
	b := "22222222-2222-4222-8222-222222222222"

	ids := AddID(nil, a)
	ids = AddID(ids, b)
	ids = AddID(ids, a)
	if len(ids) != 2 {
		t.Fatalf("len(ids) = %d, want 2", len(ids))
	}

	ids = RemoveID(ids, a)
	ids = RemoveID(ids, a)
	if len(ids) != 1 || ids[0] != b {
		t.Errorf("ids = %v, want [%s]", ids, b)
	}
}

// TestDiffIDs は追加分と削除分を正しく算出することを検証する。
func TestDiffIDs(t *testing.T) {
	a := "11111111-1111-4111-8111-111111111111"
	b := "22222222-2222-4222-8222-222222222222"
	c := "33333333-3333-4333-8333-333333333333"

	added, removed := DiffIDs([]string{a, b}, []string{b, c})
	if len(added) != 1 || added[0] != c {
		t.Errorf("added = %v, want [%s]", added, c)
	}
	if len(removed) != 1 || removed[0] != a {
		t.Errorf("removed = %v, want [%s]", removed, a)
	}
}

// TestNewPageInfo はページング情報の算出を検証する。
func TestNewPageInfo(t *testing.T) {
	tests := []struct {
		name      string
		total     int
		page      Pagination
		wantPages int
		wantNext  bool
		wantPrev  bool
	}{
		{"0件", 0, Pagination{Page: 1, Limit: 10}, 0, false, false},
		{"ちょうど1ページ", 10, Pagination{Page: 1, Limit: 10}, 1, false, false},
		{"2ページ目あり", 11, Pagination{Page: 1, Limit: 10}, 2, true, false},
		{"最終ページ", 25, Pagination{Page: 3, Limit: 10}, 3, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := NewPageInfo(tt.total, tt.page)
			if info.TotalPages != tt.wantPages {
				t.Errorf("TotalPages = %d, want %d", info.TotalPages, tt.wantPages)
			}
			if info.HasNextPage != tt.wantNext {
				t.Errorf("HasNextPage = %v, want %v", info.HasNextPage, tt.wantNext)
			}
			if info.HasPrevPage != tt.wantPrev {
				t.Errorf("HasPrevPage = %v, want %v", info.HasPrevPage, tt.wantPrev)
			}
		})
	}

	if skip := (Pagination{Page: 3, Limit: 20}).Skip(); skip != 40 {
		t.Errorf("Skip() = %d, want 40", skip)
	}
}

// TestProject_AcceptsDueAt はプロジェクト期間の境界（両端を含む）を検証する。
func TestProject_AcceptsDueAt(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)
	p := &Project{StartAt: start, EndAt: &end}

	tests := []struct {
		name string
		due  time.Time
		want bool
	}{
		{"開始日ちょうど", start, true},
		{"終了日ちょうど", end, true},
		{"終了日の1マイクロ秒後", end.Add(time.Microsecond), false},
		{"開始日の前", start.Add(-time.Second), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.AcceptsDueAt(tt.due); got != tt.want {
				t.Errorf("AcceptsDueAt(%v) = %v, want %v", tt.due, got, tt.want)
			}
		})
	}

	open := &Project{StartAt: start}
	if !open.AcceptsDueAt(start.AddDate(10, 0, 0)) {
		t.Error("EndAt 未設定のプロジェクトは上限なしで受け付けるべき")
	}
}

// TestParseRole はロール文字列の解釈を検証する。
func TestParseRole(t *testing.T) {
	for in, want := range map[string]Role{
		"USER":         RoleUser,
		"manager":      RoleManager,
		"ROLE_MANAGER": RoleManager,
	} {
		got, ok := ParseRole(in)
		if !ok || got != want {
			t.Errorf("ParseRole(%q) = %q, %v, want %q", in, got, ok, want)
		}
	}
	if _, ok := ParseRole("ADMIN"); ok {
		t.Error("ParseRole(ADMIN) should fail")
	}
}

func TestPagination_Normalize(t *testing.T) {
	tests := []struct {
		in   Pagination
		max  int
		want Pagination
	}{
		{Pagination{}, 0, Pagination{Page: 1, Limit: 10}},
		{Pagination{Page: -3, Limit: 500}, 0, Pagination{Page: 1, Limit: 100}},
		{Pagination{Page: 4, Limit: 30}, 20, Pagination{Page: 4, Limit: 20}},
		{Pagination{Page: 2, Limit: 5}, 50, Pagination{Page: 2, Limit: 5}},
	}
	for _, tt := range tests {
		if got := tt.in.Normalize(tt.max); got != tt.want {
			t.Errorf("%+v.Normalize(%d) = %+v, want %+v", tt.in, tt.max, got, tt.want)
		}
	}
}
