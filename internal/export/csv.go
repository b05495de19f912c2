package export

import (
	"bufio"
	"io"
	"strings"

	"agentaudit/internal/decision"

	"github.com/shopspring/decimal"
)

// Columns 是 CSV / XLSX 的列顺序。
var Columns = []string{
	"id", "timestamp", "type", "confidence", "executed", "error",
	"protocols", "assets", "riskChange", "apyImpact", "reasoning",
}

// Row 把记录展开为表格行：confidence 以百分比保留 1 位小数，apyImpact 保留 2 位。
func Row(rec decision.Record) []string {
	return []string{
		rec.ID,
		isoTime(rec.Timestamp),
		string(rec.Type),
		decimal.NewFromFloat(rec.Confidence.Percent()).StringFixed(1),
		boolString(rec.Executed),
		boolString(rec.HasError),
		strings.Join(rec.Protocols, ";"),
		strings.Join(rec.Assets, ";"),
		string(rec.RiskChange),
		decimal.NewFromFloat(rec.APYImpact).StringFixed(2),
		rec.ReasoningPreview,
	}
}

// WriteCSV 输出 RFC 4180 表格。reasoning 列总是加引号，其余列仅在需要时加引号。
func WriteCSV(w io.Writer, records []decision.Record) error {
	bw := bufio.NewWriter(w)
	writeLine(bw, Columns, false)
	for _, rec := range records {
		writeLine(bw, Row(rec), true)
	}
	return bw.Flush()
}

func writeLine(bw *bufio.Writer, fields []string, quoteLast bool) {
	for i, field := range fields {
		if i > 0 {
			bw.WriteByte(',')
		}
		last := i == len(fields)-1
		if (last && quoteLast) || needsQuote(field) {
			bw.WriteByte('"')
			bw.WriteString(strings.ReplaceAll(field, `"`, `""`))
			bw.WriteByte('"')
			continue
		}
		bw.WriteString(field)
	}
	bw.WriteByte('\n')
}

func needsQuote(field string) bool {
	if field == "" {
		return false
	}
	if field[0] == ' ' || field[0] == '\t' {
		return true
	}
	return strings.ContainsAny(field, ",\"\r\n")
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
