package yield

const (
	highAPYThreshold   = 50
	mediumAPYThreshold = 20
)

// ClassifyRisk 按固定优先级判定风险，前面的规则命中后不再看后面的：
//  1. 稳定币池 → low
//  2. 有无常损失风险，或 apy > 50 → high
//  3. apy > 20 → medium
//  4. 其余 → medium
func ClassifyRisk(stablecoin, ilRisk bool, apy float64) Risk {
	switch {
	case stablecoin:
		return RiskLow
	case ilRisk || apy > highAPYThreshold:
		return RiskHigh
	case apy > mediumAPYThreshold:
		return RiskMedium
	default:
		return RiskMedium
	}
}
