package yield

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

const DefaultLlamaEndpoint = "https://yields.llama.fi/pools"

// LlamaSource 读取 DefiLlama yields API。
type LlamaSource struct {
	endpoint string
	client   *http.Client
}

func NewLlamaSource(endpoint string, timeout time.Duration) *LlamaSource {
	if strings.TrimSpace(endpoint) == "" {
		endpoint = DefaultLlamaEndpoint
	}
	return &LlamaSource{endpoint: endpoint, client: newHTTPClient(timeout)}
}

func (s *LlamaSource) Name() string { return "defillama" }

func (s *LlamaSource) FetchPools(ctx context.Context) ([]RawPool, error) {
	body, err := getBody(ctx, s.client, s.endpoint)
	if err != nil {
		return nil, fmt.Errorf("defillama: %w", err)
	}
	return ParseLlamaPools(body)
}

// ParseLlamaPools 解析 {"status":"success","data":[...]}；缺少数值字段的池子按 0 处理。
func ParseLlamaPools(body []byte) ([]RawPool, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("defillama: response is not valid JSON")
	}
	parsed := gjson.ParseBytes(body)
	if status := parsed.Get("status"); status.Exists() && status.String() != "success" {
		return nil, fmt.Errorf("defillama: status %q", status.String())
	}
	data := parsed.Get("data")
	if !data.IsArray() {
		return nil, fmt.Errorf("defillama: missing data array")
	}
	pools := make([]RawPool, 0, len(data.Array()))
	data.ForEach(func(_, item gjson.Result) bool {
		pools = append(pools, RawPool{
			Chain:      item.Get("chain").String(),
			Project:    item.Get("project").String(),
			Symbol:     item.Get("symbol").String(),
			Pool:       item.Get("pool").String(),
			APY:        item.Get("apy").Float(),
			TVLUsd:     item.Get("tvlUsd").Float(),
			Stablecoin: item.Get("stablecoin").Bool(),
			ILRisk:     strings.EqualFold(item.Get("ilRisk").String(), "yes"),
		})
		return true
	})
	return pools, nil
}
