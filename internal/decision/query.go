package decision

import (
	"strings"

	"agentaudit/internal/pkg/apperr"
)

const (
	DefaultLimit = 20
	MaxLimit     = 500
)

// Filter 描述历史查询条件：字段内 OR，字段间 AND。
// From/To 为毫秒时间戳（闭区间），0 表示不限。
type Filter struct {
	Types     []Type   `json:"types,omitempty"`
	Protocols []string `json:"protocols,omitempty"`
	From      int64    `json:"from,omitempty"`
	To        int64    `json:"to,omitempty"`
	Limit     int      `json:"limit"`
	Offset    int      `json:"offset"`
}

// Page 是分页后的查询结果。
type Page struct {
	Items   []Record `json:"items"`
	Total   int      `json:"total"`
	HasMore bool     `json:"hasMore"`
	Limit   int      `json:"limit"`
	Offset  int      `json:"offset"`
}

// Validate 检查分页参数与类型取值；不做任何静默修正。
func (f Filter) Validate() error {
	if f.Limit <= 0 {
		return apperr.Validationf("limit must be a positive integer, got %d", f.Limit)
	}
	if f.Limit > MaxLimit {
		return apperr.Validationf("limit must be <= %d, got %d", MaxLimit, f.Limit)
	}
	if f.Offset < 0 {
		return apperr.Validationf("offset must be >= 0, got %d", f.Offset)
	}
	for _, t := range f.Types {
		if !t.Valid() {
			return apperr.Validationf("unknown decision type %q", t)
		}
	}
	if f.From > 0 && f.To > 0 && f.From > f.To {
		return apperr.Validationf("from (%d) is after to (%d)", f.From, f.To)
	}
	return nil
}

// Match 报告记录是否满足过滤条件（不考虑分页）。
func (f Filter) Match(r Record) bool {
	return newMatcher(f).match(r)
}

type matcher struct {
	types     map[Type]struct{}
	protocols map[string]struct{}
	from, to  int64
}

func newMatcher(f Filter) matcher {
	m := matcher{from: f.From, to: f.To}
	if len(f.Types) > 0 {
		m.types = make(map[Type]struct{}, len(f.Types))
		for _, t := range f.Types {
			m.types[t] = struct{}{}
		}
	}
	if len(f.Protocols) > 0 {
		m.protocols = make(map[string]struct{}, len(f.Protocols))
		for _, p := range f.Protocols {
			if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
				m.protocols[p] = struct{}{}
			}
		}
	}
	return m
}

func (m matcher) match(r Record) bool {
	if m.types != nil {
		if _, ok := m.types[r.Type]; !ok {
			return false
		}
	}
	if m.protocols != nil {
		hit := false
		for _, p := range r.Protocols {
			if _, ok := m.protocols[strings.ToLower(p)]; ok {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}
	if m.from > 0 && r.Timestamp < m.from {
		return false
	}
	if m.to > 0 && r.Timestamp > m.to {
		return false
	}
	return true
}

// Query 过滤并分页。输入必须已按时间倒序排列，这里不会重新排序。
func Query(records []Record, f Filter) (Page, error) {
	if err := f.Validate(); err != nil {
		return Page{}, err
	}
	filtered := Apply(records, f)
	total := len(filtered)
	page := Page{
		Items:  []Record{},
		Total:  total,
		Limit:  f.Limit,
		Offset: f.Offset,
	}
	if f.Offset >= total {
		return page, nil
	}
	// 用减法比较，避免 offset+limit 在极大 offset 下溢出
	end := total
	if f.Limit < total-f.Offset {
		end = f.Offset + f.Limit
		page.HasMore = true
	}
	page.Items = filtered[f.Offset:end]
	return page, nil
}

// Apply 只做过滤，供导出等不需要分页的调用方使用。
func Apply(records []Record, f Filter) []Record {
	m := newMatcher(f)
	out := make([]Record, 0, len(records))
	for _, r := range records {
		if m.match(r) {
			out = append(out, r)
		}
	}
	return out
}
