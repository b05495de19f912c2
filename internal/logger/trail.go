package logger

import (
	"io"
	"log"
	"strings"
	"sync"
)

// 合规留痕：每条决策入库、每次哈希承诺都会以文本块的形式追加到独立文件，
// 与数据库互为备份，方便审计人员离线比对。
var (
	trailMu  sync.Mutex
	trailLog *log.Logger
)

// SetTrailWriter 设置留痕输出；传 nil 关闭。
func SetTrailWriter(w io.Writer) {
	trailMu.Lock()
	defer trailMu.Unlock()
	if w == nil {
		trailLog = nil
		return
	}
	trailLog = log.New(w, "", log.LstdFlags|log.LUTC)
}

// TrailEnabled 报告当前是否配置了留痕输出。
func TrailEnabled() bool {
	trailMu.Lock()
	defer trailMu.Unlock()
	return trailLog != nil
}

type TrailSection struct {
	Title string
	Body  string
}

// LogTrail 写入一个 [TRAIL][kind][key] 块，未配置输出时直接忽略。
func LogTrail(kind, key string, sections ...TrailSection) {
	trailMu.Lock()
	out := trailLog
	trailMu.Unlock()
	if out == nil {
		return
	}
	var b strings.Builder
	b.WriteString("[TRAIL]")
	if kind != "" {
		b.WriteString("[" + kind + "]")
	}
	if key != "" {
		b.WriteString("[" + key + "]")
	}
	b.WriteString("\n")
	for _, sec := range sections {
		t := strings.TrimSpace(sec.Title)
		if t == "" {
			t = "CONTENT"
		}
		b.WriteString("--- ")
		b.WriteString(strings.ToUpper(t))
		b.WriteString(" ---\n")
		b.WriteString(sec.Body)
		if !strings.HasSuffix(sec.Body, "\n") {
			b.WriteString("\n")
		}
	}
	b.WriteString("=====\n")
	out.Print(b.String())
}
