package audithttp

import (
	"strconv"
	"strings"
	"time"

	"agentaudit/internal/decision"
	"agentaudit/internal/pkg/apperr"

	"github.com/gin-gonic/gin"
)

// parseFilter 解析 type/protocol（逗号分隔，可重复）、from/to 以及分页参数。
// paginate=false 时忽略 limit/offset（导出使用）。
func parseFilter(c *gin.Context, paginate bool) (decision.Filter, error) {
	var f decision.Filter
	for _, raw := range splitCSV(c.QueryArray("type")) {
		t, ok := decision.ParseType(raw)
		if !ok {
			return f, apperr.Validationf("unknown decision type %q (want hold|rebalance|enter|exit)", raw)
		}
		f.Types = append(f.Types, t)
	}
	f.Protocols = splitCSV(c.QueryArray("protocol"))

	var err error
	if f.From, err = parseTimeParam(c.Query("from"), false); err != nil {
		return f, apperr.Validationf("from: %v", err)
	}
	if f.To, err = parseTimeParam(c.Query("to"), true); err != nil {
		return f, apperr.Validationf("to: %v", err)
	}
	if !paginate {
		return f, nil
	}
	if f.Limit, err = parseIntParam(c, "limit", decision.DefaultLimit); err != nil {
		return f, err
	}
	if f.Offset, err = parseIntParam(c, "offset", 0); err != nil {
		return f, err
	}
	return f, nil
}

func splitCSV(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// 非法值直接报错，不做静默修正。
func parseIntParam(c *gin.Context, name string, def int) (int, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperr.Validationf("%s must be an integer, got %q", name, raw)
	}
	return v, nil
}

func parseFloatParam(c *gin.Context, name string, def float64) (float64, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, apperr.Validationf("%s must be a number, got %q", name, raw)
	}
	return v, nil
}

// parseTimeParam 接受毫秒时间戳、RFC3339 或 YYYY-MM-DD；endOfDay 时日期取当天最后一毫秒。
func parseTimeParam(raw string, endOfDay bool) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if ms < 0 {
			return 0, apperr.Validationf("timestamp must be non-negative")
		}
		return ms, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UnixMilli(), nil
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		if endOfDay {
			t = t.Add(24*time.Hour - time.Millisecond)
		}
		return t.UnixMilli(), nil
	}
	return 0, apperr.Validationf("unrecognised time %q (want unix ms, RFC3339 or YYYY-MM-DD)", raw)
}
