package app

import (
	"fmt"
	"strings"
)

// StartupSummary 汇总启动时的关键配置，便于核对部署。
type StartupSummary struct {
	Env           string
	HTTPAddr      string
	PublicBaseURL string
	StoreDriver   string
	StorePath     string
	Seeded        int
	DecisionCount int
	LedgerPolicy  string
	LedgerCount   int
	TxIDFormat    string
	AnchorFormat  string
	ExportPrefix  string
	YieldEnabled  bool
	YieldSources  []string
	Supported     []string
	Extended      []string
	RefreshCron   string
	MetricsPath   string
	TrailLogPath  string
}

func (s *StartupSummary) Print() {
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("%*s\n", 40+len("启动配置摘要 (STARTUP SUMMARY)")/2, "启动配置摘要 (STARTUP SUMMARY)")
	fmt.Println(strings.Repeat("=", 80))

	fmt.Println("[服务 (SERVICE)]")
	fmt.Printf("  环境: %s\n", s.Env)
	fmt.Printf("  监听: %s\n", s.HTTPAddr)
	fmt.Printf("  对外地址: %s\n", orDash(s.PublicBaseURL))
	fmt.Printf("  指标: %s\n", orDash(s.MetricsPath))
	fmt.Printf("  审计轨迹: %s\n", orDash(s.TrailLogPath))
	fmt.Println()

	fmt.Println("[存储 (STORAGE)]")
	fmt.Printf("  驱动: %s\n", s.StoreDriver)
	if s.StorePath != "" {
		fmt.Printf("  路径: %s\n", s.StorePath)
	}
	fmt.Printf("  决策记录: %d (本次导入演示数据 %d)\n", s.DecisionCount, s.Seeded)
	fmt.Printf("  承诺记录: %d\n", s.LedgerCount)
	fmt.Println()

	fmt.Println("[校验规则 (VALIDATION)]")
	fmt.Printf("  交易标识: %s\n", s.TxIDFormat)
	fmt.Printf("  承诺锚定: %s\n", s.AnchorFormat)
	fmt.Printf("  重复哈希: %s\n", s.LedgerPolicy)
	fmt.Printf("  导出前缀: %s\n", s.ExportPrefix)
	fmt.Println()

	fmt.Println("[收益数据 (YIELDS)]")
	if !s.YieldEnabled {
		fmt.Println("  (已关闭)")
	} else {
		fmt.Printf("  数据源: %s\n", formatList(s.YieldSources))
		fmt.Printf("  核心协议: %s\n", formatList(s.Supported))
		fmt.Printf("  扩展协议: %s\n", formatList(s.Extended))
		fmt.Printf("  定时预热: %s\n", orDash(s.RefreshCron))
	}
	fmt.Println(strings.Repeat("=", 80))
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
