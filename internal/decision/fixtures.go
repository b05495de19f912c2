package decision

import (
	"crypto/sha512"
	"encoding/json"

	"github.com/gagliardetto/solana-go"
)

// 演示数据的时间戳固定，保证导出结果可复现。
const (
	fixtureRebalanceTS = int64(1735725600000) // 2025-01-01T10:00:00Z
	fixtureHoldTS      = int64(1735812000000) // 2025-01-02T10:00:00Z
)

// FixtureSignature 由种子派生一个确定性的 Solana 签名字符串，仅用于演示与测试。
func FixtureSignature(seed string) string {
	sum := sha512.Sum512([]byte(seed))
	var sig solana.Signature
	copy(sig[:], sum[:])
	return sig.String()
}

// DemoRecords 返回两条演示决策（按时间倒序）：一条未执行的 hold，一条已执行的 rebalance。
func DemoRecords() []Record {
	return []Record{
		{
			ID:               "1735812000000-h0ld2fx01",
			Timestamp:        fixtureHoldTS,
			Type:             TypeHold,
			Confidence:       0.91,
			Executed:         false,
			HasError:         false,
			Protocols:        []string{"kamino", "marinade"},
			Assets:           []string{"USDC", "mSOL"},
			RiskChange:       RiskUnchanged,
			APYImpact:        0,
			ReasoningPreview: `Current allocation remains optimal; no pool offers a risk-adjusted gain above the 0.5% "switch" threshold.`,
			Actions:          []Action{},
			TxIDs:            []string{},
			RiskAnalysis: RiskAnalysis{
				CurrentRiskScore:  32,
				ProposedRiskScore: 32,
				RiskChange:        RiskUnchanged,
			},
			PortfolioSnapshot: json.RawMessage(`{"totalValueUsd":15230.4,"positions":[{"protocol":"kamino","asset":"USDC","valueUsd":10150.2},{"protocol":"marinade","asset":"mSOL","valueUsd":5080.2}]}`),
			StrategyConfig:    json.RawMessage(`{"minApyGain":0.5,"maxRiskScore":60}`),
			MarketConditions:  json.RawMessage(`{"solPrice":189.4,"volatility":"low"}`),
		},
		{
			ID:               "1735725600000-r3bal4nc0",
			Timestamp:        fixtureRebalanceTS,
			Type:             TypeRebalance,
			Confidence:       0.82,
			Executed:         true,
			HasError:         false,
			Protocols:        []string{"marinade", "kamino"},
			Assets:           []string{"SOL", "mSOL", "USDC"},
			RiskChange:       RiskDecreased,
			APYImpact:        1.35,
			ReasoningPreview: "Moved idle USDC from Marinade staking rewards into Kamino lending for higher stable yield.",
			FullReasoning:    "Kamino USDC lending offered 8.9% versus the 7.55% blended yield of the current position. Utilisation is below 80% and the pool TVL exceeds $100M, so liquidity risk is acceptable.",
			Actions: []Action{
				{Type: ActionWithdraw, From: "marinade", To: "wallet", ExpectedAPYGain: 0},
				{Type: ActionSwap, From: "mSOL", To: "USDC", ExpectedAPYGain: 0},
				{Type: ActionDeposit, From: "wallet", To: "kamino", ExpectedAPYGain: 1.35},
			},
			TxIDs: []string{
				FixtureSignature("fixture-rebalance-withdraw"),
				FixtureSignature("fixture-rebalance-deposit"),
			},
			RiskAnalysis: RiskAnalysis{
				CurrentRiskScore:  41,
				ProposedRiskScore: 32,
				RiskChange:        RiskDecreased,
			},
			PortfolioSnapshot: json.RawMessage(`{"totalValueUsd":15102.9}`),
			StrategyConfig:    json.RawMessage(`{"minApyGain":0.5,"maxRiskScore":60}`),
			MarketConditions:  json.RawMessage(`{"solPrice":186.1,"volatility":"medium"}`),
		},
	}
}
