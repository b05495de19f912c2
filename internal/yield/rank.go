package yield

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	DefaultChain       = "Solana"
	MaxResults         = 20
	MaxExtendedResults = 50
)

// Limit 返回对应模式下的结果上限。
func Limit(extended bool) int {
	if extended {
		return MaxExtendedResults
	}
	return MaxResults
}

// Rank 依次执行：链过滤 → 阈值过滤 → 白名单 → 按 apy 稳定降序 → 截断 → 标注风险与 supported。
func Rank(pools []RawPool, allow AllowList, chain string, q Query) []Opportunity {
	if chain == "" {
		chain = DefaultChain
	}
	filtered := make([]RawPool, 0, len(pools))
	for _, p := range pools {
		if !strings.EqualFold(strings.TrimSpace(p.Chain), chain) {
			continue
		}
		if p.TVLUsd < q.MinTVL || p.APY < q.MinAPY {
			continue
		}
		if !allow.Allowed(p.Project, q.Extended) {
			continue
		}
		filtered = append(filtered, p)
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].APY > filtered[j].APY
	})
	if limit := Limit(q.Extended); len(filtered) > limit {
		filtered = filtered[:limit]
	}
	out := make([]Opportunity, 0, len(filtered))
	for _, p := range filtered {
		out = append(out, toOpportunity(p, allow))
	}
	return out
}

// Merge 把次要数据源放在前面后重新稳定排序并截断，apy 相同时次要数据源优先。
func Merge(primary, secondary []Opportunity, limit int) []Opportunity {
	merged := make([]Opportunity, 0, len(primary)+len(secondary))
	merged = append(merged, secondary...)
	merged = append(merged, primary...)
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].APY > merged[j].APY
	})
	if limit > 0 && len(merged) > limit {
		merged = merged[:limit]
	}
	return merged
}

func toOpportunity(p RawPool, allow AllowList) Opportunity {
	apy := decimal.NewFromFloat(p.APY).Round(2)
	tvl := decimal.NewFromFloat(p.TVLUsd).Round(0)
	// 风险按原始 apy 判定，展示值只做两位舍入
	return Opportunity{
		Protocol:  NormalizeSlug(p.Project),
		Asset:     strings.TrimSpace(p.Symbol),
		APY:       apy.InexactFloat64(),
		TVL:       tvl.IntPart(),
		Risk:      ClassifyRisk(p.Stablecoin, p.ILRisk, p.APY),
		Supported: allow.IsSupported(p.Project),
		Pool:      strings.TrimSpace(p.Pool),
	}
}
