package main

import (
	"context"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"agentaudit/internal/app"
	"agentaudit/internal/config"
	"agentaudit/internal/logger"
)

func main() {
	cfgFlag := flag.String("config", "", "配置文件路径（默认读取 AGENTAUDIT_CONFIG 或 configs/config.yaml）")
	flag.Parse()

	if err := config.LoadDotEnv(); err != nil {
		log.Fatalf("读取 .env 失败: %v", err)
	}
	cfgPath := config.ResolvePath(*cfgFlag)
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("读取配置失败: %v", err)
	}
	logFile, err := setupLogOutput(cfg.App.LogPath)
	if err != nil {
		log.Fatalf("初始化日志文件失败: %v", err)
	}
	if logFile != nil {
		defer logFile.Close()
	}
	trailFile, err := setupTrailOutput(cfg.App.TrailLogPath)
	if err != nil {
		log.Fatalf("初始化审计轨迹文件失败: %v", err)
	}
	if trailFile != nil {
		defer trailFile.Close()
	}
	logger.Infof("✓ 配置加载成功（环境=%s，配置=%s）", cfg.App.Env, cfgPath)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.NewApp(ctx, cfg)
	if err != nil {
		log.Fatalf("初始化应用失败: %v", err)
	}
	go reloadOnHangup(ctx, a)
	if err := a.Run(ctx); err != nil {
		log.Fatalf("运行失败: %v", err)
	}
	logger.Infof("agentaudit 已退出")
}

// reloadOnHangup 在收到 SIGHUP 时重新读取协议白名单，不重启进程。
func reloadOnHangup(ctx context.Context, a *app.App) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			snap, ok, err := a.ReloadAllowList()
			switch {
			case !ok:
				logger.Infof("SIGHUP: 未配置协议白名单文件，忽略")
			case err != nil:
				logger.Warnf("SIGHUP: 重载协议白名单失败，继续使用 version=%d: %v", snap.Version, err)
			default:
				logger.Infof("SIGHUP: 协议白名单已重载 version=%d", snap.Version)
			}
		}
	}
}

func setupLogOutput(path string) (*os.File, error) {
	file, err := openAppendFile(path)
	if err != nil || file == nil {
		return nil, err
	}
	mw := io.MultiWriter(os.Stdout, file)
	log.SetOutput(mw)
	logger.SetOutput(mw)
	return file, nil
}

func setupTrailOutput(path string) (*os.File, error) {
	file, err := openAppendFile(path)
	if err != nil || file == nil {
		return nil, err
	}
	logger.SetTrailWriter(file)
	return file, nil
}

func openAppendFile(path string) (*os.File, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, nil
	}
	dir := filepath.Dir(trimmed)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return os.OpenFile(trimmed, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
}
