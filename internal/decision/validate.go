package decision

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"agentaudit/internal/pkg/apperr"
	"agentaudit/internal/pkg/text"

	"github.com/gagliardetto/solana-go"
)

const (
	// MaxPreviewLen 是 reasoningPreview 的上限，超出部分在入库前截断。
	MaxPreviewLen = 200
	maxRiskScore  = 100
)

// TxIDValidator 校验单个交易标识。
type TxIDValidator func(string) error

// SolanaSignature 要求交易标识是合法的 base58 Solana 签名。
func SolanaSignature(id string) error {
	if _, err := solana.SignatureFromBase58(strings.TrimSpace(id)); err != nil {
		return fmt.Errorf("tx id %q is not a solana signature: %w", id, err)
	}
	return nil
}

// AnyTxID 只要求非空。
func AnyTxID(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("tx id cannot be empty")
	}
	return nil
}

// Normalize 在校验前补齐派生字段：ID/时间戳、空切片、风险变化、预览截断。
func (r *Record) Normalize(now time.Time) {
	if r == nil {
		return
	}
	r.ID = strings.TrimSpace(r.ID)
	if r.ID == "" {
		if r.Timestamp <= 0 {
			r.Timestamp = now.UnixMilli()
		}
		r.ID = NewID(time.UnixMilli(r.Timestamp))
	} else if r.Timestamp <= 0 {
		if ms, _, err := ParseID(r.ID); err == nil {
			r.Timestamp = ms
		}
	}
	r.Type = Type(strings.ToLower(strings.TrimSpace(string(r.Type))))
	r.RiskChange = RiskChange(strings.ToLower(strings.TrimSpace(string(r.RiskChange))))
	if r.RiskAnalysis.RiskChange == "" {
		r.RiskAnalysis.RiskChange = r.RiskChange
	}
	r.ReasoningPreview = text.Truncate(strings.TrimSpace(r.ReasoningPreview), MaxPreviewLen)
	r.Protocols = uniqueStrings(r.Protocols)
	r.Assets = trimStrings(r.Assets)
	if r.Actions == nil {
		r.Actions = []Action{}
	}
	if r.TxIDs == nil {
		r.TxIDs = []string{}
	}
}

// Validate 检查必填字段与记录不变量，返回 validation 类错误。
func (r Record) Validate(checkTx TxIDValidator) error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	ms, _, err := ParseID(r.ID)
	switch {
	case err != nil:
		add("%v", err)
	case ms != r.Timestamp:
		add("id timestamp %d does not match timestamp %d", ms, r.Timestamp)
	}
	if !r.Type.Valid() {
		add("type must be one of hold|rebalance|enter|exit, got %q", r.Type)
	}
	if !r.Confidence.Valid() {
		add("confidence must be within [0,1], got %v", float64(r.Confidence))
	}
	if !r.RiskChange.Valid() {
		add("riskChange must be one of increased|decreased|unchanged, got %q", r.RiskChange)
	}
	if !r.RiskAnalysis.RiskChange.Valid() {
		add("riskAnalysis.riskChange is invalid: %q", r.RiskAnalysis.RiskChange)
	}
	if !scoreInRange(r.RiskAnalysis.CurrentRiskScore) || !scoreInRange(r.RiskAnalysis.ProposedRiskScore) {
		add("risk scores must be within [0,100]")
	}
	if r.ReasoningPreview == "" {
		add("reasoningPreview is required")
	}
	for i, a := range r.Actions {
		if !a.Type.Valid() {
			add("actions[%d].type must be withdraw|deposit|swap, got %q", i, a.Type)
		}
	}
	if r.Type == TypeHold {
		if r.APYImpact != 0 {
			add("hold decisions must have apyImpact 0")
		}
		if len(r.Actions) > 0 {
			add("hold decisions cannot carry actions")
		}
	}
	if r.Executed && len(r.TxIDs) == 0 {
		add("executed decisions require at least one tx id")
	}
	if !r.Executed && !r.HasError && len(r.TxIDs) > 0 {
		add("txIds present but decision was neither executed nor failed")
	}
	if r.HasError && r.Executed && !anyActionFailed(r.Actions) {
		add("hasError on an executed decision requires a failed action")
	}
	if checkTx != nil {
		for _, id := range r.TxIDs {
			if err := checkTx(id); err != nil {
				add("%v", err)
			}
		}
	}
	blobs := []struct {
		name string
		raw  json.RawMessage
	}{
		{"portfolioSnapshot", r.PortfolioSnapshot},
		{"strategyConfig", r.StrategyConfig},
		{"marketConditions", r.MarketConditions},
	}
	for _, b := range blobs {
		if len(b.raw) > 0 && !json.Valid(b.raw) {
			add("%s is not valid JSON", b.name)
		}
	}
	if len(problems) == 0 {
		return nil
	}
	return apperr.Validationf("invalid decision: %s", strings.Join(problems, "; "))
}

func scoreInRange(v float64) bool {
	return v >= 0 && v <= maxRiskScore
}

func anyActionFailed(actions []Action) bool {
	for _, a := range actions {
		if a.Failed {
			return true
		}
	}
	return false
}

func trimStrings(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// uniqueStrings 去掉空白项与重复项，保留首次出现的顺序。
func uniqueStrings(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
