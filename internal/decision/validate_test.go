package decision

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"agentaudit/internal/pkg/apperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRebalance() Record {
	return DemoRecords()[1].Clone()
}

func TestFixturesAreValid(t *testing.T) {
	for _, r := range DemoRecords() {
		rec := r.Clone()
		rec.Normalize(time.Now())
		assert.NoError(t, rec.Validate(SolanaSignature), r.ID)
	}
}

func TestNormalizeAssignsID(t *testing.T) {
	now := time.UnixMilli(1736000000123)
	rec := Record{Type: "HOLD", RiskChange: "Unchanged", ReasoningPreview: "  nothing to do  ", Confidence: 0.5}
	rec.Normalize(now)

	assert.Equal(t, int64(1736000000123), rec.Timestamp)
	ms, suffix, err := ParseID(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.Timestamp, ms)
	assert.Len(t, suffix, idSuffixLen)
	assert.Equal(t, TypeHold, rec.Type)
	assert.Equal(t, RiskUnchanged, rec.RiskAnalysis.RiskChange)
	assert.Equal(t, "nothing to do", rec.ReasoningPreview)
	assert.NotNil(t, rec.Actions)
	assert.NotNil(t, rec.TxIDs)
	assert.NoError(t, rec.Validate(SolanaSignature))
}

func TestNormalizeTimestampFromID(t *testing.T) {
	rec := Record{ID: "1736000000999-abcd1234e"}
	rec.Normalize(time.Now())
	assert.Equal(t, int64(1736000000999), rec.Timestamp)
}

func TestNormalizeKeepsProtocolOrderAndDedupes(t *testing.T) {
	rec := Record{Protocols: []string{"kamino", " marinade ", "kamino", ""}, Assets: []string{"SOL", "SOL", " "}}
	rec.Normalize(time.Now())
	assert.Equal(t, []string{"kamino", "marinade"}, rec.Protocols)
	assert.Equal(t, []string{"SOL", "SOL"}, rec.Assets)
}

func TestNormalizeTruncatesPreview(t *testing.T) {
	rec := Record{ReasoningPreview: strings.Repeat("x", MaxPreviewLen+50)}
	rec.Normalize(time.Now())
	assert.Len(t, []rune(rec.ReasoningPreview), MaxPreviewLen)
}

func TestValidateInvariants(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(r *Record)
		wantErr string
	}{
		{"confidence above one", func(r *Record) { r.Confidence = 1.2 }, "confidence must be within [0,1]"},
		{"confidence as percent", func(r *Record) { r.Confidence = 82 }, "confidence must be within [0,1]"},
		{"negative confidence", func(r *Record) { r.Confidence = -0.1 }, "confidence"},
		{"unknown type", func(r *Record) { r.Type = "liquidate" }, "type must be one of"},
		{"bad risk change", func(r *Record) { r.RiskChange = "worse" }, "riskChange must be one of"},
		{"missing preview", func(r *Record) { r.ReasoningPreview = "" }, "reasoningPreview is required"},
		{"executed without tx", func(r *Record) { r.TxIDs = nil }, "executed decisions require at least one tx id"},
		{"hold with apy", func(r *Record) { r.Type = TypeHold; r.Actions = nil; r.APYImpact = 0.3 }, "apyImpact 0"},
		{"hold with actions", func(r *Record) { r.Type = TypeHold; r.APYImpact = 0 }, "hold decisions cannot carry actions"},
		{"error without failed action", func(r *Record) { r.HasError = true }, "requires a failed action"},
		{"risk score out of range", func(r *Record) { r.RiskAnalysis.ProposedRiskScore = 140 }, "risk scores"},
		{"id timestamp mismatch", func(r *Record) { r.Timestamp++ }, "does not match timestamp"},
		{"malformed id", func(r *Record) { r.ID = "abc" }, "must look like"},
		{"bad action type", func(r *Record) { r.Actions[0].Type = "bridge" }, "actions[0].type"},
		{"bad tx id", func(r *Record) { r.TxIDs = []string{"not-a-signature"} }, "not a solana signature"},
		{"bad blob", func(r *Record) { r.StrategyConfig = json.RawMessage(`{"x":`) }, "strategyConfig is not valid JSON"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := validRebalance()
			tt.mutate(&rec)
			err := rec.Validate(SolanaSignature)
			require.Error(t, err)
			assert.True(t, apperr.Is(err, apperr.KindValidation))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateFailedExecution(t *testing.T) {
	rec := validRebalance()
	rec.HasError = true
	rec.Actions[2].Failed = true
	assert.NoError(t, rec.Validate(SolanaSignature))

	rec = validRebalance()
	rec.Executed = false
	rec.HasError = true
	assert.NoError(t, rec.Validate(SolanaSignature), "attempted-and-failed decisions may keep their tx ids")
}

func TestValidateAnyTxID(t *testing.T) {
	rec := validRebalance()
	rec.TxIDs = []string{"0xdeadbeef"}
	assert.NoError(t, rec.Validate(AnyTxID))
	assert.Error(t, rec.Validate(SolanaSignature))
}

func TestConfidenceRepresentations(t *testing.T) {
	c := Confidence(0.82)
	assert.InDelta(t, 82.0, c.Percent(), 1e-9)
	assert.InDelta(t, 0.82, float64(ConfidenceFromPercent(82)), 1e-12)
	assert.False(t, Confidence(82).Valid())
}

func TestCloneIsDeep(t *testing.T) {
	orig := validRebalance()
	cp := orig.Clone()
	cp.Protocols[0] = "mutated"
	cp.Actions[0].From = "mutated"
	cp.PortfolioSnapshot[2] = 'X'
	assert.Equal(t, "marinade", orig.Protocols[0])
	assert.Equal(t, "marinade", orig.Actions[0].From)
	assert.NotEqual(t, cp.PortfolioSnapshot, orig.PortfolioSnapshot)
}
