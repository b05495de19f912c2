package yield

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

const (
	DefaultDLMMEndpoint = "https://dlmm-api.meteora.ag/pair/all"
	dlmmProject         = "meteora-dlmm"
)

var stableSymbols = map[string]struct{}{
	"USDC": {}, "USDT": {}, "PYUSD": {}, "USDS": {}, "UXD": {}, "USDH": {}, "DAI": {}, "USDY": {},
}

// DLMMSource 读取 Meteora DLMM 手续费收益，作为扩展模式下的次要数据源。
// 接口本身不带链字段，交易对一律标记为构造时给定的链。
type DLMMSource struct {
	endpoint string
	chain    string
	client   *http.Client
}

func NewDLMMSource(endpoint, chain string, timeout time.Duration) *DLMMSource {
	if strings.TrimSpace(endpoint) == "" {
		endpoint = DefaultDLMMEndpoint
	}
	if strings.TrimSpace(chain) == "" {
		chain = DefaultChain
	}
	return &DLMMSource{endpoint: endpoint, chain: strings.TrimSpace(chain), client: newHTTPClient(timeout)}
}

func (s *DLMMSource) Name() string { return "dlmm" }

func (s *DLMMSource) FetchPools(ctx context.Context) ([]RawPool, error) {
	body, err := getBody(ctx, s.client, s.endpoint)
	if err != nil {
		return nil, fmt.Errorf("dlmm: %w", err)
	}
	return ParseDLMMPairs(body, s.chain)
}

// ParseDLMMPairs 把交易对转换为 RawPool：集中流动性池一律视为有无常损失风险，
// 两侧都是稳定币时标记为稳定币池；hide=true 的交易对被跳过。
func ParseDLMMPairs(body []byte, chain string) ([]RawPool, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("dlmm: response is not valid JSON")
	}
	parsed := gjson.ParseBytes(body)
	if !parsed.IsArray() {
		return nil, fmt.Errorf("dlmm: expected a JSON array")
	}
	pools := make([]RawPool, 0, len(parsed.Array()))
	parsed.ForEach(func(_, item gjson.Result) bool {
		if item.Get("hide").Bool() {
			return true
		}
		name := strings.TrimSpace(item.Get("name").String())
		pools = append(pools, RawPool{
			Chain:      chain,
			Project:    dlmmProject,
			Symbol:     name,
			Pool:       item.Get("address").String(),
			APY:        item.Get("apr").Float(),
			TVLUsd:     item.Get("liquidity").Float(),
			Stablecoin: isStablePair(name),
			ILRisk:     true,
		})
		return true
	})
	return pools, nil
}

func isStablePair(name string) bool {
	parts := strings.FieldsFunc(strings.ToUpper(name), func(r rune) bool { return r == '-' || r == '/' })
	if len(parts) != 2 {
		return false
	}
	for _, p := range parts {
		if _, ok := stableSymbols[strings.TrimSpace(p)]; !ok {
			return false
		}
	}
	return true
}
