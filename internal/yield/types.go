// Package yield 聚合第三方池子数据，按链、阈值与协议白名单过滤后排序，并给出粗粒度风险等级。
package yield

// RawPool 是数据源返回的单个池子，字段对应 DefiLlama /pools 的响应结构。
type RawPool struct {
	Chain      string
	Project    string
	Symbol     string
	Pool       string
	APY        float64
	TVLUsd     float64
	Stablecoin bool
	ILRisk     bool
}

type Risk string

const (
	RiskLow    Risk = "low"
	RiskMedium Risk = "medium"
	RiskHigh   Risk = "high"
)

// Opportunity 是排序后返回给调用方的收益机会。apy 保留 2 位小数，tvl 取整。
type Opportunity struct {
	Protocol  string  `json:"protocol"`
	Asset     string  `json:"asset"`
	APY       float64 `json:"apy"`
	TVL       int64   `json:"tvl"`
	Risk      Risk    `json:"risk"`
	Supported bool    `json:"supported"`
	Pool      string  `json:"pool"`
}

// Query 是一次排序请求的参数。
type Query struct {
	Extended bool
	MinAPY   float64
	MinTVL   float64
}

type Result struct {
	Count              int           `json:"count"`
	SupportedProtocols []string      `json:"supported_protocols"`
	Yields             []Opportunity `json:"yields"`
}
