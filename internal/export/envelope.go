package export

import (
	"encoding/json"
	"io"
	"time"

	"agentaudit/internal/decision"

	"github.com/shopspring/decimal"
)

type DateRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type Statistics struct {
	TotalDecisions int     `json:"totalDecisions"`
	ExecutionRate  float64 `json:"executionRate"`
	AvgConfidence  float64 `json:"avgConfidence"`
	ErrorRate      float64 `json:"errorRate"`
	TotalApyGained float64 `json:"totalApyGained"`
}

// Checksums 让接收方核对完整性：重新计数并比对首尾 ID 即可发现截断。
type Checksums struct {
	RecordCount int    `json:"recordCount"`
	FirstID     string `json:"firstId"`
	LastID      string `json:"lastId"`
}

type Envelope struct {
	ExportedAt   string            `json:"exportedAt"`
	TotalRecords int               `json:"totalRecords"`
	DateRange    DateRange         `json:"dateRange"`
	Records      []decision.Record `json:"records"`
	Statistics   Statistics        `json:"statistics"`
	Checksums    Checksums         `json:"checksums"`
}

// 比率与平均置信度保持完整精度，APY 合计保留 2 位。
const apyScale = 2

// ComputeStatistics 是记录集合的纯函数；空集合时各比率为 0。
func ComputeStatistics(records []decision.Record) Statistics {
	stats := Statistics{TotalDecisions: len(records)}
	if len(records) == 0 {
		return stats
	}
	var (
		executed   int64
		errored    int64
		confidence = decimal.Zero
		apyGained  = decimal.Zero
	)
	for _, rec := range records {
		confidence = confidence.Add(decimal.NewFromFloat(float64(rec.Confidence)))
		if rec.Executed {
			executed++
			apyGained = apyGained.Add(decimal.NewFromFloat(rec.APYImpact))
		}
		if rec.HasError {
			errored++
		}
	}
	// 求和用 decimal 累加避免误差，最后一次浮点除法得到最接近的比值
	n := float64(len(records))
	stats.ExecutionRate = float64(executed) / n
	stats.ErrorRate = float64(errored) / n
	stats.AvgConfidence = confidence.InexactFloat64() / n
	stats.TotalApyGained = apyGained.Round(apyScale).InexactFloat64()
	return stats
}

// BuildEnvelope 组装 JSON 导出信封；dateRange 取记录时间的最小/最大值。
func BuildEnvelope(records []decision.Record, exportedAt time.Time) Envelope {
	env := Envelope{
		ExportedAt:   exportedAt.UTC().Format(isoLayout),
		TotalRecords: len(records),
		Records:      records,
		Statistics:   ComputeStatistics(records),
		Checksums:    Checksums{RecordCount: len(records)},
	}
	if env.Records == nil {
		env.Records = []decision.Record{}
	}
	if len(records) == 0 {
		return env
	}
	minTS, maxTS := records[0].Timestamp, records[0].Timestamp
	for _, rec := range records[1:] {
		minTS = min(minTS, rec.Timestamp)
		maxTS = max(maxTS, rec.Timestamp)
	}
	env.DateRange = DateRange{Start: isoTime(minTS), End: isoTime(maxTS)}
	env.Checksums.FirstID = records[0].ID
	env.Checksums.LastID = records[len(records)-1].ID
	return env
}

func WriteJSON(w io.Writer, env Envelope) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(env)
}
