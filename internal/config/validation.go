package config

import (
	"fmt"
	"strings"

	"agentaudit/internal/logger"

	"github.com/robfig/cron/v3"
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.App.validate(); err != nil {
		return err
	}
	if err := c.Store.validate(); err != nil {
		return err
	}
	if err := c.Audit.validate(); err != nil {
		return err
	}
	if err := c.Ledger.validate(); err != nil {
		return err
	}
	if err := c.Export.validate(); err != nil {
		return err
	}
	if err := c.Yield.validate(); err != nil {
		return err
	}
	return c.Metrics.validate()
}

func (a *AppConfig) validate() error {
	if _, ok := logger.ParseLevel(a.LogLevel); !ok {
		return fmt.Errorf("app.log_level must be debug|info|warn|error, got %q", a.LogLevel)
	}
	switch strings.ToLower(a.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("app.log_format must be text|json, got %q", a.LogFormat)
	}
	if strings.TrimSpace(a.HTTPAddr) == "" {
		return fmt.Errorf("app.http_addr cannot be empty")
	}
	if a.PublicBaseURL != "" && !strings.HasPrefix(a.PublicBaseURL, "http://") && !strings.HasPrefix(a.PublicBaseURL, "https://") {
		return fmt.Errorf("app.public_base_url must start with http:// or https://")
	}
	if a.RateLimit.RPS < 0 {
		return fmt.Errorf("app.rate_limit.rps must be >= 0")
	}
	return nil
}

func (s *StoreConfig) validate() error {
	switch s.Driver {
	case StoreDriverSQLite:
		if strings.TrimSpace(s.Path) == "" {
			return fmt.Errorf("store.path is required for the sqlite driver")
		}
	case StoreDriverMemory:
	default:
		return fmt.Errorf("store.driver must be %s|%s, got %q", StoreDriverSQLite, StoreDriverMemory, s.Driver)
	}
	return nil
}

func (a *AuditConfig) validate() error {
	switch a.TxIDFormat {
	case TxIDFormatSolana, TxIDFormatAny:
		return nil
	default:
		return fmt.Errorf("audit.tx_id_format must be %s|%s, got %q", TxIDFormatSolana, TxIDFormatAny, a.TxIDFormat)
	}
}

func (l *LedgerConfig) validate() error {
	switch l.DuplicatePolicy {
	case "overwrite", "reject":
	default:
		return fmt.Errorf("ledger.duplicate_policy must be overwrite|reject, got %q", l.DuplicatePolicy)
	}
	switch l.AnchorFormat {
	case AnchorFormatNone, AnchorFormatSolana:
	default:
		return fmt.Errorf("ledger.anchor_format must be %s|%s, got %q", AnchorFormatNone, AnchorFormatSolana, l.AnchorFormat)
	}
	return nil
}

func (e *ExportConfig) validate() error {
	if strings.ContainsAny(e.FilenamePrefix, `/\"; `) {
		return fmt.Errorf("export.filename_prefix contains characters not allowed in a filename: %q", e.FilenamePrefix)
	}
	if e.MaxRecords < 0 {
		return fmt.Errorf("export.max_records must be >= 0 (0 = unlimited)")
	}
	return nil
}

func (y *YieldConfig) validate() error {
	if !y.Enabled {
		return nil
	}
	if y.CacheTTLSeconds < 0 {
		return fmt.Errorf("yield.cache_ttl_seconds must be >= 0")
	}
	if y.DefaultMinAPY < 0 || y.DefaultMinTVL < 0 {
		return fmt.Errorf("yield.default_min_apy and yield.default_min_tvl must be >= 0")
	}
	if spec := strings.TrimSpace(y.RefreshCron); spec != "" {
		// 与调度器的 cron.WithSeconds() 一致：六段表达式或 @every 描述符。
		parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
		if _, err := parser.Parse(spec); err != nil {
			return fmt.Errorf("yield.refresh_cron is invalid: %w", err)
		}
	}
	return nil
}

func (m *MetricsConfig) validate() error {
	if m.Enabled && !strings.HasPrefix(m.Path, "/") {
		return fmt.Errorf("metrics.path must start with /, got %q", m.Path)
	}
	return nil
}
