// Package logger 是进程级的 slog 包装：格式化输出、运行期切换级别/格式/输出目标。
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	levelVar slog.LevelVar

	mu      sync.RWMutex
	out     io.Writer = os.Stdout
	useJSON bool
	base    *slog.Logger
)

func init() {
	levelVar.Set(slog.LevelInfo)
	base = build(out, useJSON)
}

func build(w io.Writer, asJSON bool) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	opts := &slog.HandlerOptions{Level: &levelVar}
	if asJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// SetOutput 替换日志输出目标（通常是 stdout + 文件的 MultiWriter），保留当前格式。
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	if w == nil {
		w = os.Stdout
	}
	out = w
	base = build(out, useJSON)
}

// SetFormat 切换 text/json 输出，保留当前输出目标。
func SetFormat(format string) {
	mu.Lock()
	defer mu.Unlock()
	useJSON = strings.EqualFold(strings.TrimSpace(format), "json")
	base = build(out, useJSON)
}

// ParseLevel 解析级别名，未知值返回 false。
func ParseLevel(level string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, true
	case "info", "":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}

// SetLevel 未知级别按 info 处理。
func SetLevel(level string) {
	lvl, _ := ParseLevel(level)
	levelVar.Set(lvl)
}

// DebugEnabled 用于在热路径上跳过昂贵的调试格式化。
func DebugEnabled() bool {
	return current().Enabled(context.Background(), slog.LevelDebug)
}

func current() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

func logf(level slog.Level, format string, v ...any) {
	l := current()
	if !l.Enabled(context.Background(), level) {
		return
	}
	l.Log(context.Background(), level, fmt.Sprintf(format, v...))
}

func Debugf(format string, v ...any) { logf(slog.LevelDebug, format, v...) }

func Infof(format string, v ...any) { logf(slog.LevelInfo, format, v...) }

func Warnf(format string, v ...any) { logf(slog.LevelWarn, format, v...) }

func Errorf(format string, v ...any) { logf(slog.LevelError, format, v...) }

// InfoBlock 按行输出多行文本，空行跳过。
func InfoBlock(block string) {
	for _, line := range strings.Split(strings.TrimSpace(block), "\n") {
		if strings.TrimSpace(line) != "" {
			Infof("%s", line)
		}
	}
}
