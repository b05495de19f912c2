package config

import "strings"

// Config 是 agentaudit 的主配置载体。
type Config struct {
	App     AppConfig     `toml:"app"`
	Store   StoreConfig   `toml:"store"`
	Audit   AuditConfig   `toml:"audit"`
	Ledger  LedgerConfig  `toml:"ledger"`
	Export  ExportConfig  `toml:"export"`
	Yield   YieldConfig   `toml:"yield"`
	Metrics MetricsConfig `toml:"metrics"`
}

type AppConfig struct {
	Env           string          `toml:"env"`
	LogLevel      string          `toml:"log_level"`
	LogFormat     string          `toml:"log_format"`
	LogPath       string          `toml:"log_path"`
	TrailLogPath  string          `toml:"trail_log_path"`
	HTTPAddr      string          `toml:"http_addr"`
	PublicBaseURL string          `toml:"public_base_url"`
	CORSOrigin    string          `toml:"cors_origin"`
	RateLimit     RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig 是按客户端 IP 的令牌桶限流；rps<=0 关闭。
type RateLimitConfig struct {
	RPS            float64 `toml:"rps"`
	Burst          int     `toml:"burst"`
	IdleTTLSeconds int     `toml:"idle_ttl_seconds"`
}

// StoreConfig 选择存储后端。memory 仅用于演示与测试，进程退出即丢失。
type StoreConfig struct {
	Driver       string `toml:"driver"`
	Path         string `toml:"path"`
	SeedFixtures bool   `toml:"seed_fixtures"`
}

// AuditConfig 控制决策记录的校验规则。
type AuditConfig struct {
	// TxIDFormat: solana 要求合法的 base58 签名；any 只要求非空。
	TxIDFormat string `toml:"tx_id_format"`
}

type LedgerConfig struct {
	DuplicatePolicy string `toml:"duplicate_policy"`
	RecentLimit     int    `toml:"recent_limit"`
	// AnchorFormat 校验 commitment 字段：none 不校验，solana 要求交易签名。
	AnchorFormat string `toml:"anchor_format"`
}

type ExportConfig struct {
	FilenamePrefix string `toml:"filename_prefix"`
	MaxRecords     int    `toml:"max_records"`
}

// YieldConfig 描述收益数据源、缓存、熔断与定时预热。
type YieldConfig struct {
	Enabled                bool    `toml:"enabled"`
	Chain                  string  `toml:"chain"`
	LlamaURL               string  `toml:"llama_url"`
	DLMMURL                string  `toml:"dlmm_url"`
	DLMMEnabled            bool    `toml:"dlmm_enabled"`
	TimeoutSeconds         int     `toml:"timeout_seconds"`
	CacheTTLSeconds        int     `toml:"cache_ttl_seconds"`
	RefreshCron            string  `toml:"refresh_cron"`
	ProtocolsPath          string  `toml:"protocols_path"`
	WatchProtocols         bool    `toml:"watch_protocols"`
	BreakerThreshold       int     `toml:"breaker_threshold"`
	BreakerCooldownSeconds int     `toml:"breaker_cooldown_seconds"`
	DefaultMinAPY          float64 `toml:"default_min_apy"`
	DefaultMinTVL          float64 `toml:"default_min_tvl"`
}

type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// MemoryStore 报告是否使用内存存储。
func (s StoreConfig) MemoryStore() bool {
	return strings.EqualFold(strings.TrimSpace(s.Driver), StoreDriverMemory)
}

type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
