package config

import "strings"

const (
	StoreDriverSQLite = "sqlite"
	StoreDriverMemory = "memory"

	TxIDFormatSolana = "solana"
	TxIDFormatAny    = "any"

	AnchorFormatNone   = "none"
	AnchorFormatSolana = "solana"
)

// 默认值常量
const (
	defaultAppEnv              = "dev"
	defaultAppLogLevel         = "info"
	defaultAppLogFormat        = "text"
	defaultAppHTTPAddr         = ":8080"
	defaultAppCORSOrigin       = "*"
	defaultRateLimitRPS        = 10
	defaultRateLimitBurst      = 20
	defaultRateLimitIdleTTL    = 600
	defaultStoreDriver         = StoreDriverSQLite
	defaultStorePath           = "data/agentaudit.db"
	defaultTxIDFormat          = TxIDFormatSolana
	defaultLedgerPolicy        = "overwrite"
	defaultLedgerRecentLimit   = 20
	defaultAnchorFormat        = AnchorFormatNone
	defaultExportPrefix        = "agentaudit"
	defaultExportMaxRecords    = 10000
	defaultYieldChain          = "Solana"
	defaultYieldLlamaURL       = "https://yields.llama.fi/pools"
	defaultYieldDLMMURL        = "https://dlmm-api.meteora.ag/pair/all"
	defaultYieldTimeout        = 10
	defaultYieldCacheTTL       = 300
	defaultYieldBreakerFails   = 3
	defaultYieldBreakerCool    = 60
	defaultYieldMinTVL         = 100000
	defaultMetricsPath         = "/metrics"
	defaultYieldProtocolsPath  = "configs/protocols.yaml"
)

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Store.applyDefaults(keys)
	c.Audit.applyDefaults(keys)
	c.Ledger.applyDefaults(keys)
	c.Export.applyDefaults(keys)
	c.Yield.applyDefaults(keys)
	c.Metrics.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.log_format", &a.LogFormat, defaultAppLogFormat),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
		stringFieldDefault("app.cors_origin", &a.CORSOrigin, defaultAppCORSOrigin),
		// rps 显式写 0 表示关闭限流，因此只在未设置时补默认值。
		fieldDefault{
			key:   "app.rate_limit.rps",
			apply: func() { a.RateLimit.RPS = defaultRateLimitRPS },
		},
		fieldDefault{
			key:   "app.rate_limit.burst",
			need:  func() bool { return a.RateLimit.Burst <= 0 },
			apply: func() { a.RateLimit.Burst = defaultRateLimitBurst },
		},
		fieldDefault{
			key:   "app.rate_limit.idle_ttl_seconds",
			need:  func() bool { return a.RateLimit.IdleTTLSeconds <= 0 },
			apply: func() { a.RateLimit.IdleTTLSeconds = defaultRateLimitIdleTTL },
		},
	)
	a.PublicBaseURL = strings.TrimRight(strings.TrimSpace(a.PublicBaseURL), "/")
}

func (s *StoreConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("store.driver", &s.Driver, defaultStoreDriver),
		stringFieldDefault("store.path", &s.Path, defaultStorePath),
	)
	s.Driver = strings.ToLower(strings.TrimSpace(s.Driver))
}

func (a *AuditConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys, stringFieldDefault("audit.tx_id_format", &a.TxIDFormat, defaultTxIDFormat))
	a.TxIDFormat = strings.ToLower(strings.TrimSpace(a.TxIDFormat))
}

func (l *LedgerConfig) applyDefaults(keys keySet) {
	if l == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("ledger.duplicate_policy", &l.DuplicatePolicy, defaultLedgerPolicy),
		stringFieldDefault("ledger.anchor_format", &l.AnchorFormat, defaultAnchorFormat),
		fieldDefault{
			key:   "ledger.recent_limit",
			need:  func() bool { return l.RecentLimit <= 0 },
			apply: func() { l.RecentLimit = defaultLedgerRecentLimit },
		},
	)
	l.DuplicatePolicy = strings.ToLower(strings.TrimSpace(l.DuplicatePolicy))
	l.AnchorFormat = strings.ToLower(strings.TrimSpace(l.AnchorFormat))
}

func (e *ExportConfig) applyDefaults(keys keySet) {
	if e == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("export.filename_prefix", &e.FilenamePrefix, defaultExportPrefix),
		fieldDefault{
			key:   "export.max_records",
			need:  func() bool { return e.MaxRecords == 0 },
			apply: func() { e.MaxRecords = defaultExportMaxRecords },
		},
	)
}

func (y *YieldConfig) applyDefaults(keys keySet) {
	if y == nil {
		return
	}
	applyFieldDefaults(keys,
		boolFieldDefault("yield.enabled", &y.Enabled, true),
		boolFieldDefault("yield.dlmm_enabled", &y.DLMMEnabled, true),
		boolFieldDefault("yield.watch_protocols", &y.WatchProtocols, true),
		stringFieldDefault("yield.chain", &y.Chain, defaultYieldChain),
		stringFieldDefault("yield.llama_url", &y.LlamaURL, defaultYieldLlamaURL),
		stringFieldDefault("yield.dlmm_url", &y.DLMMURL, defaultYieldDLMMURL),
		stringFieldDefault("yield.protocols_path", &y.ProtocolsPath, defaultYieldProtocolsPath),
		fieldDefault{
			key:   "yield.timeout_seconds",
			need:  func() bool { return y.TimeoutSeconds <= 0 },
			apply: func() { y.TimeoutSeconds = defaultYieldTimeout },
		},
		fieldDefault{
			key:   "yield.cache_ttl_seconds",
			need:  func() bool { return y.CacheTTLSeconds == 0 },
			apply: func() { y.CacheTTLSeconds = defaultYieldCacheTTL },
		},
		fieldDefault{
			key:   "yield.breaker_threshold",
			need:  func() bool { return y.BreakerThreshold <= 0 },
			apply: func() { y.BreakerThreshold = defaultYieldBreakerFails },
		},
		fieldDefault{
			key:   "yield.breaker_cooldown_seconds",
			need:  func() bool { return y.BreakerCooldownSeconds <= 0 },
			apply: func() { y.BreakerCooldownSeconds = defaultYieldBreakerCool },
		},
		fieldDefault{
			key:   "yield.default_min_tvl",
			apply: func() { y.DefaultMinTVL = defaultYieldMinTVL },
		},
	)
}

func (m *MetricsConfig) applyDefaults(keys keySet) {
	if m == nil {
		return
	}
	applyFieldDefaults(keys,
		boolFieldDefault("metrics.enabled", &m.Enabled, true),
		stringFieldDefault("metrics.path", &m.Path, defaultMetricsPath),
	)
}

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}
