package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"

	"agentaudit/internal/audit"
	"agentaudit/internal/config"
	"agentaudit/internal/decision"
	"agentaudit/internal/ledger"
	"agentaudit/internal/logger"
	"agentaudit/internal/metrics"
	"agentaudit/internal/scheduler"
	"agentaudit/internal/store"
	"agentaudit/internal/store/gormstore"
	"agentaudit/internal/store/memstore"
	"agentaudit/internal/store/sqlite"
	audithttp "agentaudit/internal/transport/http/audit"
	"agentaudit/internal/transport/http/middleware"
	"agentaudit/internal/yield"
)

const yieldRefreshJob = "yield-refresh"

// storeSetup 聚合两类存储及其关闭顺序。
type storeSetup struct {
	decisions   store.DecisionStore
	commitments store.CommitmentStore
	closers     []io.Closer
}

// yieldSources 是收益数据的主/副数据源，secondary 可为空。
type yieldSources struct {
	primary   yield.PoolSource
	secondary yield.PoolSource
}

type AppBuilder struct {
	cfg *config.Config

	storesFn       func(config.StoreConfig) (*storeSetup, error)
	yieldSourcesFn func(config.YieldConfig) yieldSources
	allowListFn    func(config.YieldConfig) (yield.AllowListSource, error)
	httpServerFn   func(audithttp.ServerConfig) (*audithttp.Server, error)
}

type AppBuilderOption func(*AppBuilder)

func NewAppBuilder(cfg *config.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:            cfg,
		storesFn:       openStores,
		yieldSourcesFn: buildYieldSources,
		allowListFn:    loadAllowList,
		httpServerFn:   audithttp.NewServer,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func (b *AppBuilder) Build(ctx context.Context) (app *App, err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg

	stores, err := b.storesFn(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open stores: %w", err)
	}
	app = &App{cfg: cfg, closers: stores.closers}
	defer func() {
		if err != nil {
			_ = app.Close()
			app = nil
		}
	}()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	app.decisions, err = audit.NewService(stores.decisions, audit.Options{
		TxValidator:      txValidator(cfg.Audit.TxIDFormat),
		MaxExportRecords: cfg.Export.MaxRecords,
		Metrics:          m,
	})
	if err != nil {
		return nil, err
	}
	app.ledger, err = ledger.NewService(stores.commitments, ledger.Options{
		Policy:          ledger.DuplicatePolicy(cfg.Ledger.DuplicatePolicy),
		RecentLimit:     cfg.Ledger.RecentLimit,
		AnchorValidator: anchorValidator(cfg.Ledger.AnchorFormat),
		Metrics:         m,
	})
	if err != nil {
		return nil, err
	}

	summary := &StartupSummary{
		Env:           cfg.App.Env,
		HTTPAddr:      cfg.App.HTTPAddr,
		PublicBaseURL: cfg.App.PublicBaseURL,
		StoreDriver:   cfg.Store.Driver,
		LedgerPolicy:  string(app.ledger.Policy()),
		TxIDFormat:    cfg.Audit.TxIDFormat,
		AnchorFormat:  cfg.Ledger.AnchorFormat,
		ExportPrefix:  cfg.Export.FilenamePrefix,
		TrailLogPath:  cfg.App.TrailLogPath,
	}
	if !cfg.Store.MemoryStore() {
		summary.StorePath = cfg.Store.Path
	}
	if cfg.Metrics.Enabled {
		summary.MetricsPath = cfg.Metrics.Path
	}

	if cfg.Store.SeedFixtures {
		seeded, err := app.decisions.SeedFixtures(ctx)
		if err != nil {
			return nil, err
		}
		summary.Seeded = seeded
		logger.Infof("✓ 演示决策已导入 %d 条", seeded)
	}
	if summary.DecisionCount, err = app.decisions.Count(ctx); err != nil {
		return nil, err
	}
	if summary.LedgerCount, err = app.ledger.Count(ctx); err != nil {
		return nil, err
	}

	app.scheduler = scheduler.New(time.Duration(cfg.Yield.TimeoutSeconds) * 2 * time.Second)
	var ranker audithttp.YieldRanker
	if cfg.Yield.Enabled {
		if err := b.buildYield(app, m, summary); err != nil {
			return nil, err
		}
		ranker = app.yields
	}

	app.server, err = b.httpServerFn(audithttp.ServerConfig{
		Addr:        cfg.App.HTTPAddr,
		Decisions:   app.decisions,
		Ledger:      app.ledger,
		Yields:      ranker,
		Metrics:     m,
		MetricsPath: cfg.Metrics.Path,
		CORSOrigin:  cfg.App.CORSOrigin,
		RateLimit: middleware.RateLimiterConfig{
			RequestsPerSecond: cfg.App.RateLimit.RPS,
			Burst:             cfg.App.RateLimit.Burst,
			IdleTTL:           time.Duration(cfg.App.RateLimit.IdleTTLSeconds) * time.Second,
		},
		PublicBaseURL: cfg.App.PublicBaseURL,
		ExportPrefix:  cfg.Export.FilenamePrefix,
		YieldDefaults: audithttp.YieldDefaults{MinAPY: cfg.Yield.DefaultMinAPY, MinTVL: cfg.Yield.DefaultMinTVL},
	})
	if err != nil {
		return nil, err
	}
	app.Summary = summary
	return app, nil
}

func (b *AppBuilder) buildYield(app *App, m *metrics.Metrics, summary *StartupSummary) error {
	cfg := b.cfg.Yield
	allow, err := b.allowListFn(cfg)
	if err != nil {
		return err
	}
	sources := b.yieldSourcesFn(cfg)
	if sources.primary == nil {
		return fmt.Errorf("yield: primary source is required")
	}
	svc, err := yield.NewService(sources.primary, sources.secondary, allow, yield.ServiceOptions{
		Chain:            cfg.Chain,
		CacheTTL:         time.Duration(cfg.CacheTTLSeconds) * time.Second,
		BreakerThreshold: cfg.BreakerThreshold,
		BreakerCooldown:  time.Duration(cfg.BreakerCooldownSeconds) * time.Second,
		Metrics:          m,
	})
	if err != nil {
		return err
	}
	app.yields = svc
	app.allowList = allow

	if spec := strings.TrimSpace(cfg.RefreshCron); spec != "" {
		job := scheduler.JobFunc{JobName: yieldRefreshJob, Fn: svc.Refresh}
		if err := app.scheduler.AddJob(spec, job); err != nil {
			return err
		}
	}

	current := allow.AllowList()
	summary.YieldEnabled = true
	summary.YieldSources = []string{sources.primary.Name()}
	if sources.secondary != nil {
		summary.YieldSources = append(summary.YieldSources, sources.secondary.Name())
	}
	summary.Supported = current.Supported
	summary.Extended = current.Extended
	summary.RefreshCron = cfg.RefreshCron
	return nil
}

// openStores 打开存储。sqlite 模式下承诺账本复用决策库的连接，避免同一文件多连接池互相加锁。
func openStores(cfg config.StoreConfig) (*storeSetup, error) {
	if cfg.MemoryStore() {
		logger.Warnf("store: 使用内存存储，进程退出后数据丢失")
		decisions := memstore.NewDecisionStore()
		commitments := memstore.NewCommitmentStore()
		return &storeSetup{
			decisions:   decisions,
			commitments: commitments,
			closers:     []io.Closer{decisions, commitments},
		}, nil
	}
	decisions, err := gormstore.NewGormStore(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("decision store %s: %w", cfg.Path, err)
	}
	sqlDB, err := decisions.SQLDB()
	if err != nil {
		decisions.Close()
		return nil, err
	}
	commitments, err := sqlite.NewCommitmentStoreFromDB(sqlDB)
	if err != nil {
		decisions.Close()
		return nil, fmt.Errorf("commitment store: %w", err)
	}
	logger.Infof("✓ SQLite 存储已打开 %s", cfg.Path)
	return &storeSetup{
		decisions:   decisions,
		commitments: commitments,
		closers:     []io.Closer{decisions, commitments},
	}, nil
}

func buildYieldSources(cfg config.YieldConfig) yieldSources {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	out := yieldSources{primary: yield.NewLlamaSource(cfg.LlamaURL, timeout)}
	if cfg.DLMMEnabled {
		out.secondary = yield.NewDLMMSource(cfg.DLMMURL, cfg.Chain, timeout)
	}
	return out
}

// loadAllowList 优先读取协议文件（可热加载）；文件不存在时退回内置白名单。
func loadAllowList(cfg config.YieldConfig) (yield.AllowListSource, error) {
	path := strings.TrimSpace(cfg.ProtocolsPath)
	if path == "" {
		return yield.StaticAllowList(yield.DefaultAllowList()), nil
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		logger.Warnf("yield: 协议文件 %s 不存在，使用内置白名单", path)
		return yield.StaticAllowList(yield.DefaultAllowList()), nil
	}
	reg, err := yield.NewRegistry(path, cfg.WatchProtocols)
	if err != nil {
		return nil, err
	}
	reg.OnChange(func(snap yield.Snapshot) {
		logger.Infof("yield: 协议白名单已更新 version=%d supported=%v extended=%v",
			snap.Version, snap.AllowList.Supported, snap.AllowList.Extended)
	})
	return reg, nil
}

func txValidator(format string) decision.TxIDValidator {
	if format == config.TxIDFormatAny {
		return decision.AnyTxID
	}
	return decision.SolanaSignature
}

func anchorValidator(format string) decision.TxIDValidator {
	if format == config.AnchorFormatSolana {
		return decision.SolanaSignature
	}
	return nil
}

func WithStores(decisions store.DecisionStore, commitments store.CommitmentStore) AppBuilderOption {
	return func(b *AppBuilder) {
		if decisions == nil || commitments == nil {
			return
		}
		b.storesFn = func(config.StoreConfig) (*storeSetup, error) {
			return &storeSetup{decisions: decisions, commitments: commitments}, nil
		}
	}
}

func WithYieldSources(primary, secondary yield.PoolSource) AppBuilderOption {
	return func(b *AppBuilder) {
		if primary == nil {
			return
		}
		b.yieldSourcesFn = func(config.YieldConfig) yieldSources {
			return yieldSources{primary: primary, secondary: secondary}
		}
	}
}

func WithAllowList(src yield.AllowListSource) AppBuilderOption {
	return func(b *AppBuilder) {
		if src == nil {
			return
		}
		b.allowListFn = func(config.YieldConfig) (yield.AllowListSource, error) { return src, nil }
	}
}

func WithHTTPServer(fn func(audithttp.ServerConfig) (*audithttp.Server, error)) AppBuilderOption {
	return func(b *AppBuilder) {
		if fn != nil {
			b.httpServerFn = fn
		}
	}
}
