package yield

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchNearMisses(t *testing.T) {
	tokens := []string{"kamino", "pump", "jito"}
	tests := []struct {
		project string
		want    string
		ok      bool
	}{
		{"kamino", "kamino", true},
		{"Kamino-Lend", "kamino", true},
		{"kamino liquidity", "kamino", true},
		{"kaminox", "", false},
		{"pump", "pump", true},
		{"pump-swap", "pump", true},
		{"pumpkin", "", false},
		{"pumpkin-finance", "", false},
		{"jito-liquid-staking", "jito", true},
		{"jitosol", "", false},
		{"super-kamino", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.project, func(t *testing.T) {
			got, ok := Match(tt.project, tokens)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMatchPrefersExact(t *testing.T) {
	got, ok := Match("orca-dex", []string{"orca", "orca-dex"})
	assert.True(t, ok)
	assert.Equal(t, "orca-dex", got)
}

func TestAllowListModes(t *testing.T) {
	a := AllowList{Supported: []string{"kamino"}, Extended: []string{"raydium"}}

	assert.True(t, a.Allowed("kamino-lend", false))
	assert.False(t, a.Allowed("raydium-amm", false))
	assert.True(t, a.Allowed("raydium-amm", true))
	assert.False(t, a.IsSupported("raydium-amm"))
	assert.False(t, a.Allowed("orca", true))
}
