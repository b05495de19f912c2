package yield

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testAllow = AllowList{
	Supported: []string{"kamino", "marinade"},
	Extended:  []string{"raydium"},
}

func pool(project, symbol string, apy, tvl float64) RawPool {
	return RawPool{Chain: "Solana", Project: project, Symbol: symbol, Pool: project + "/" + symbol, APY: apy, TVLUsd: tvl}
}

func TestRankFiltersAndSorts(t *testing.T) {
	pools := []RawPool{
		pool("kamino-lend", "USDC", 8.456, 120_000_000.4),
		{Chain: "Ethereum", Project: "kamino", Symbol: "USDC", APY: 99, TVLUsd: 1e9},
		pool("marinade-liquid-staking", "MSOL", 7.1, 900_000_000),
		pool("raydium-amm", "SOL-USDC", 30, 5_000_000),
		pool("kaminox", "FAKE", 80, 1e9),
		pool("kamino-lend", "SOL", 12, 50_000),
	}
	got := Rank(pools, testAllow, "solana", Query{MinTVL: 100_000})
	require.Len(t, got, 2)
	assert.Equal(t, Opportunity{
		Protocol: "kamino-lend", Asset: "USDC", APY: 8.46, TVL: 120_000_000,
		Risk: RiskMedium, Supported: true, Pool: "kamino-lend/USDC",
	}, got[0])
	assert.Equal(t, "marinade-liquid-staking", got[1].Protocol)

	extended := Rank(pools, testAllow, "", Query{Extended: true, MinTVL: 100_000})
	require.Len(t, extended, 3)
	assert.Equal(t, "raydium-amm", extended[0].Protocol)
	assert.False(t, extended[0].Supported)
	assert.Equal(t, RiskMedium, extended[0].Risk)
}

func TestRankThresholdsExcludeSupportedPools(t *testing.T) {
	pools := []RawPool{
		pool("kamino", "USDC", 4.99, 1e9),
		pool("kamino", "USDT", 6, 999_999),
		pool("kamino", "PYUSD", 5, 1_000_000),
	}
	got := Rank(pools, testAllow, "", Query{MinAPY: 5, MinTVL: 1_000_000})
	require.Len(t, got, 1)
	assert.Equal(t, "PYUSD", got[0].Asset)
}

func TestRankStableTies(t *testing.T) {
	pools := []RawPool{
		pool("kamino", "A", 10, 1),
		pool("marinade", "B", 10, 1),
		pool("kamino", "C", 11, 1),
		pool("marinade", "D", 10, 1),
	}
	got := Rank(pools, testAllow, "", Query{})
	var order []string
	for _, o := range got {
		order = append(order, o.Asset)
	}
	assert.Equal(t, []string{"C", "A", "B", "D"}, order)
}

func TestRankBounds(t *testing.T) {
	var pools []RawPool
	for i := 0; i < 120; i++ {
		project := "kamino"
		if i%2 == 0 {
			project = "raydium"
		}
		pools = append(pools, pool(project, fmt.Sprintf("T%d", i), float64((i*37)%101), 1e6))
	}
	for _, extended := range []bool{false, true} {
		got := Rank(pools, testAllow, "", Query{Extended: extended})
		assert.LessOrEqual(t, len(got), Limit(extended))
		for i := 1; i < len(got); i++ {
			assert.GreaterOrEqual(t, got[i-1].APY, got[i].APY)
		}
	}
	assert.Len(t, Rank(pools, testAllow, "", Query{}), MaxResults)
	assert.Len(t, Rank(pools, testAllow, "", Query{Extended: true}), MaxExtendedResults)
}

func TestRankRiskUsesPoolFlags(t *testing.T) {
	stable := pool("kamino", "USDC", 60, 1e6)
	stable.Stablecoin = true
	il := pool("kamino", "SOL-JITOSOL", 3, 1e6)
	il.ILRisk = true
	got := Rank([]RawPool{stable, il, pool("kamino", "SOL", 55, 1e6)}, testAllow, "", Query{})
	require.Len(t, got, 3)
	assert.Equal(t, RiskLow, got[0].Risk)
	assert.Equal(t, RiskHigh, got[1].Risk)
	assert.Equal(t, RiskHigh, got[2].Risk)
}

func TestRankRiskUsesRawAPY(t *testing.T) {
	got := Rank([]RawPool{pool("kamino", "SOL", 50.004, 1e6), pool("kamino", "JITOSOL", 49.996, 1e6)}, testAllow, "", Query{})
	require.Len(t, got, 2)
	assert.Equal(t, 50.0, got[0].APY)
	assert.Equal(t, RiskHigh, got[0].Risk)
	assert.Equal(t, 50.0, got[1].APY)
	assert.Equal(t, RiskMedium, got[1].Risk)
}

func TestMergeSecondaryFirst(t *testing.T) {
	primary := []Opportunity{{Pool: "p1", APY: 9}, {Pool: "p2", APY: 5}}
	secondary := []Opportunity{{Pool: "s1", APY: 9}, {Pool: "s2", APY: 7}, {Pool: "s3", APY: 1}}

	got := Merge(primary, secondary, 4)
	var pools []string
	for _, o := range got {
		pools = append(pools, o.Pool)
	}
	assert.Equal(t, []string{"s1", "p1", "s2", "p2"}, pools)
}
