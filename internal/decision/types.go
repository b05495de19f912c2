package decision

import (
	"encoding/json"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Type 是推理引擎产出的决策类别。
type Type string

const (
	TypeHold      Type = "hold"
	TypeRebalance Type = "rebalance"
	TypeEnter     Type = "enter"
	TypeExit      Type = "exit"
)

var validTypes = map[Type]struct{}{
	TypeHold:      {},
	TypeRebalance: {},
	TypeEnter:     {},
	TypeExit:      {},
}

func (t Type) Valid() bool {
	_, ok := validTypes[t]
	return ok
}

// ParseType 大小写不敏感地解析决策类型。
func ParseType(raw string) (Type, bool) {
	t := Type(strings.ToLower(strings.TrimSpace(raw)))
	return t, t.Valid()
}

type RiskChange string

const (
	RiskIncreased RiskChange = "increased"
	RiskDecreased RiskChange = "decreased"
	RiskUnchanged RiskChange = "unchanged"
)

func (r RiskChange) Valid() bool {
	switch r {
	case RiskIncreased, RiskDecreased, RiskUnchanged:
		return true
	}
	return false
}

type ActionType string

const (
	ActionWithdraw ActionType = "withdraw"
	ActionDeposit  ActionType = "deposit"
	ActionSwap     ActionType = "swap"
)

func (a ActionType) Valid() bool {
	switch a {
	case ActionWithdraw, ActionDeposit, ActionSwap:
		return true
	}
	return false
}

// Confidence 始终以 [0,1] 小数保存；百分比只能通过 Percent / ConfidenceFromPercent 显式转换。
type Confidence float64

func (c Confidence) Valid() bool {
	return c >= 0 && c <= 1
}

// Percent 返回 0~100 的百分比表示。
func (c Confidence) Percent() float64 {
	return decimal.NewFromFloat(float64(c)).Shift(2).InexactFloat64()
}

func ConfidenceFromPercent(pct float64) Confidence {
	return Confidence(pct / 100)
}

// Action 描述一次决策中计划执行的链上操作。
type Action struct {
	Type            ActionType `json:"type"`
	From            string     `json:"from"`
	To              string     `json:"to"`
	ExpectedAPYGain float64    `json:"expectedApyGain"`
	// Failed 标记执行阶段失败的动作，用于校验 hasError 与 executed 的组合。
	Failed bool `json:"failed,omitempty"`
}

type RiskAnalysis struct {
	CurrentRiskScore  float64    `json:"currentRiskScore"`
	ProposedRiskScore float64    `json:"proposedRiskScore"`
	RiskChange        RiskChange `json:"riskChange"`
}

// Record 是一条不可变的决策记录；更正只能追加新记录。
type Record struct {
	ID                string          `json:"id"`
	Timestamp         int64           `json:"timestamp"`
	Type              Type            `json:"type"`
	Confidence        Confidence      `json:"confidence"`
	Executed          bool            `json:"executed"`
	HasError          bool            `json:"hasError"`
	Protocols         []string        `json:"protocols"`
	Assets            []string        `json:"assets"`
	RiskChange        RiskChange      `json:"riskChange"`
	APYImpact         float64         `json:"apyImpact"`
	ReasoningPreview  string          `json:"reasoningPreview"`
	FullReasoning     string          `json:"fullReasoning,omitempty"`
	Actions           []Action        `json:"actions"`
	TxIDs             []string        `json:"txIds"`
	RiskAnalysis      RiskAnalysis    `json:"riskAnalysis"`
	PortfolioSnapshot json.RawMessage `json:"portfolioSnapshot,omitempty"`
	StrategyConfig    json.RawMessage `json:"strategyConfig,omitempty"`
	MarketConditions  json.RawMessage `json:"marketConditions,omitempty"`
}

// Time 返回记录时间（UTC）。
func (r Record) Time() time.Time {
	return time.UnixMilli(r.Timestamp).UTC()
}

// Clone 深拷贝切片与原始 JSON，存储层借此保证调用方无法原地修改已入库记录。
func (r Record) Clone() Record {
	out := r
	out.Protocols = slices.Clone(r.Protocols)
	out.Assets = slices.Clone(r.Assets)
	out.Actions = slices.Clone(r.Actions)
	out.TxIDs = slices.Clone(r.TxIDs)
	out.PortfolioSnapshot = cloneRaw(r.PortfolioSnapshot)
	out.StrategyConfig = cloneRaw(r.StrategyConfig)
	out.MarketConditions = cloneRaw(r.MarketConditions)
	return out
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	return append(json.RawMessage(nil), raw...)
}
