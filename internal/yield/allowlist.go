package yield

import "strings"

// AllowList 是协议白名单。匹配规则：项目 slug（小写）与条目完全相等，
// 或以 "条目-" 开头（kamino 匹配 kamino-lend，但不匹配 kaminox）。
type AllowList struct {
	Supported []string
	Extended  []string
}

// NormalizeSlug 把项目名转换为小写、以连字符分隔的 slug。
func NormalizeSlug(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(name))), "-")
}

// Match 先查完全相等，再查前缀；返回命中的白名单条目。
func Match(project string, tokens []string) (string, bool) {
	slug := NormalizeSlug(project)
	if slug == "" {
		return "", false
	}
	for _, tok := range tokens {
		if slug == NormalizeSlug(tok) {
			return tok, true
		}
	}
	for _, tok := range tokens {
		t := NormalizeSlug(tok)
		if t != "" && strings.HasPrefix(slug, t+"-") {
			return tok, true
		}
	}
	return "", false
}

// IsSupported 只看基础白名单，与是否请求扩展模式无关。
func (a AllowList) IsSupported(project string) bool {
	_, ok := Match(project, a.Supported)
	return ok
}

func (a AllowList) Allowed(project string, extended bool) bool {
	if a.IsSupported(project) {
		return true
	}
	if !extended {
		return false
	}
	_, ok := Match(project, a.Extended)
	return ok
}

func (a AllowList) clone() AllowList {
	return AllowList{
		Supported: append([]string(nil), a.Supported...),
		Extended:  append([]string(nil), a.Extended...),
	}
}

// DefaultAllowList 在未配置协议文件时使用。
func DefaultAllowList() AllowList {
	return AllowList{
		Supported: []string{"kamino", "marinade", "jito", "marginfi", "solend", "drift"},
		Extended:  []string{"raydium", "orca", "meteora", "sanctum", "jupiter", "lulo", "save"},
	}
}
