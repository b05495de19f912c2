// Package export 把决策记录转换成合规导出文件（JSON 信封、CSV 表、XLSX 工作簿）。
// 除 exportedAt 外，相同输入必须产生字节一致的输出。
package export

import (
	"fmt"
	"io"
	"strings"
	"time"

	"agentaudit/internal/decision"
	"agentaudit/internal/pkg/apperr"
)

type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// ParseFormat 大小写不敏感，空值视为 json。
func ParseFormat(raw string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(raw))); f {
	case "":
		return FormatJSON, nil
	case FormatJSON, FormatCSV, FormatXLSX:
		return f, nil
	default:
		return "", apperr.Validationf("unsupported export format %q (want json|csv|xlsx)", raw)
	}
}

func (f Format) ContentType() string {
	switch f {
	case FormatCSV:
		return "text/csv; charset=utf-8"
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "application/json; charset=utf-8"
	}
}

// Filename 形如 <prefix>-audit-2025-01-02.csv，日期取导出时刻（UTC）。
func Filename(prefix string, f Format, at time.Time) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "agentaudit"
	}
	return fmt.Sprintf("%s-audit-%s.%s", prefix, at.UTC().Format("2006-01-02"), string(f))
}

// isoLayout 与 JavaScript Date.toISOString 的输出一致（毫秒、Z 结尾）。
const isoLayout = "2006-01-02T15:04:05.000Z"

func isoTime(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(isoLayout)
}

// Write 按格式把记录写入 w。records 需按时间倒序排列。
func Write(w io.Writer, f Format, records []decision.Record, exportedAt time.Time) error {
	switch f {
	case FormatCSV:
		return WriteCSV(w, records)
	case FormatXLSX:
		return WriteXLSX(w, records)
	case FormatJSON, "":
		return WriteJSON(w, BuildEnvelope(records, exportedAt))
	default:
		return apperr.Validationf("unsupported export format %q", string(f))
	}
}
