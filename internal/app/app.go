package app

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"agentaudit/internal/audit"
	"agentaudit/internal/config"
	"agentaudit/internal/ledger"
	"agentaudit/internal/logger"
	"agentaudit/internal/scheduler"
	audithttp "agentaudit/internal/transport/http/audit"
	"agentaudit/internal/yield"

	"golang.org/x/sync/errgroup"
)

// App 负责应用级编排：存储、审计服务、承诺账本、收益排序、HTTP 与定时任务。
type App struct {
	cfg       *config.Config
	decisions *audit.Service
	ledger    *ledger.Service
	yields    *yield.Service
	allowList yield.AllowListSource
	server    *audithttp.Server
	scheduler *scheduler.Scheduler
	closers   []io.Closer
	Summary   *StartupSummary
}

// NewApp 根据配置构建应用对象（不启动）
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	logger.SetFormat(cfg.App.LogFormat)
	return buildAppWithWire(ctx, cfg)
}

// Run 启动 HTTP 服务与定时任务，直到 ctx 取消；退出时关闭存储。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	if a.server == nil {
		return fmt.Errorf("http server not initialized")
	}
	defer a.Close()

	if a.Summary != nil {
		a.Summary.Print()
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Infof("✓ HTTP 服务监听 %s", a.server.Addr())
		if err := a.server.Start(ctx); err != nil {
			return fmt.Errorf("audit http server error: %w", err)
		}
		return nil
	})
	if a.scheduler != nil && len(a.scheduler.Jobs()) > 0 {
		group.Go(func() error {
			return a.scheduler.Run(ctx)
		})
	}
	return group.Wait()
}

// ReloadAllowList 重新读取协议白名单文件（cmd 在收到 SIGHUP 时调用）。
// 白名单不是来自文件时第二个返回值为 false；文件有误时保留旧白名单并返回错误。
func (a *App) ReloadAllowList() (yield.Snapshot, bool, error) {
	if a == nil {
		return yield.Snapshot{}, false, nil
	}
	reg, isReg := a.allowList.(*yield.Registry)
	if !isReg {
		return yield.Snapshot{}, false, nil
	}
	err := reg.Reload()
	return reg.Snapshot(), true, err
}

// Close 按注册的逆序关闭资源，可重复调用。
func (a *App) Close() error {
	if a == nil {
		return nil
	}
	var firstErr error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			logger.Warnf("app: close resource failed: %v", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	a.closers = nil
	return firstErr
}

// Handler 暴露 HTTP handler，便于测试。
func (a *App) Handler() http.Handler {
	if a == nil || a.server == nil {
		return nil
	}
	return a.server.Handler()
}

func (a *App) Decisions() *audit.Service { return a.decisions }

func (a *App) Ledger() *ledger.Service { return a.ledger }
