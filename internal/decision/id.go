package decision

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const idSuffixLen = 9

var idPattern = regexp.MustCompile(`^([0-9]{10,16})-([a-z0-9]{4,32})$`)

// NewID 生成 `{unix-ms}-{suffix}` 形式的决策 ID。
func NewID(ts time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:idSuffixLen]
	return fmt.Sprintf("%d-%s", ts.UnixMilli(), suffix)
}

// ParseID 拆出 ID 中的毫秒时间戳与随机后缀。
func ParseID(id string) (int64, string, error) {
	m := idPattern.FindStringSubmatch(strings.TrimSpace(id))
	if m == nil {
		return 0, "", fmt.Errorf("decision id %q must look like <unix-ms>-<suffix>", id)
	}
	ms, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("decision id %q: %w", id, err)
	}
	return ms, m[2], nil
}
