package model

import "gorm.io/datatypes"

// DecisionRecordModel maps to 'decision_records'. 列表/集合字段以 JSON 文本保存。
type DecisionRecordModel struct {
	ID                string         `gorm:"column:id;primaryKey"`
	Timestamp         int64          `gorm:"column:ts;index:idx_decision_records_ts"`
	Type              string         `gorm:"column:type;index:idx_decision_records_type"`
	Confidence        float64        `gorm:"column:confidence"`
	Executed          bool           `gorm:"column:executed"`
	HasError          bool           `gorm:"column:has_error"`
	Protocols         datatypes.JSON `gorm:"column:protocols_json;type:TEXT"`
	Assets            datatypes.JSON `gorm:"column:assets_json;type:TEXT"`
	RiskChange        string         `gorm:"column:risk_change"`
	APYImpact         float64        `gorm:"column:apy_impact"`
	ReasoningPreview  string         `gorm:"column:reasoning_preview"`
	FullReasoning     string         `gorm:"column:full_reasoning"`
	Actions           datatypes.JSON `gorm:"column:actions_json;type:TEXT"`
	TxIDs             datatypes.JSON `gorm:"column:tx_ids_json;type:TEXT"`
	RiskAnalysis      datatypes.JSON `gorm:"column:risk_analysis_json;type:TEXT"`
	PortfolioSnapshot datatypes.JSON `gorm:"column:portfolio_snapshot_json;type:TEXT"`
	StrategyConfig    datatypes.JSON `gorm:"column:strategy_config_json;type:TEXT"`
	MarketConditions  datatypes.JSON `gorm:"column:market_conditions_json;type:TEXT"`
	CreatedAtUnix     int64          `gorm:"column:created_at"`
}

func (DecisionRecordModel) TableName() string { return "decision_records" }
