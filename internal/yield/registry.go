package yield

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"agentaudit/internal/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// AllowListSource 提供当前生效的白名单。
type AllowListSource interface {
	AllowList() AllowList
}

// StaticAllowList 是固定不变的白名单来源。
type StaticAllowList AllowList

func (s StaticAllowList) AllowList() AllowList { return AllowList(s).clone() }

// FileConfig 映射协议白名单文件。
type FileConfig struct {
	Protocols struct {
		Supported []string `yaml:"supported"`
		Extended  []string `yaml:"extended"`
	} `yaml:"protocols"`
}

// Snapshot 是一次加载结果。
type Snapshot struct {
	Version   int64
	LoadedAt  time.Time
	AllowList AllowList
}

// ChangeListener 在白名单重载后触发。
type ChangeListener func(Snapshot)

// Registry 从 YAML 文件加载白名单并监听文件变化热更新。
type Registry struct {
	path string
	v    *viper.Viper

	mu        sync.RWMutex
	snapshot  Snapshot
	listeners []ChangeListener
}

// NewRegistry 读取协议文件；watch=true 时监听变更。
func NewRegistry(path string, watch bool) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("protocol registry requires path")
	}
	r := &Registry{path: path}
	if err := r.reload(); err != nil {
		return nil, err
	}
	if watch {
		v := viper.New()
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read protocol config failed: %w", err)
		}
		v.OnConfigChange(func(evt fsnotify.Event) {
			if err := r.reload(); err != nil {
				// 保留上一版白名单
				logger.Errorf("protocol registry reload failed: %v", err)
				return
			}
			r.notifyListeners()
		})
		v.WatchConfig()
		r.v = v
	}
	return r, nil
}

func (r *Registry) AllowList() AllowList {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshot.AllowList.clone()
}

func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snap := r.snapshot
	snap.AllowList = snap.AllowList.clone()
	return snap
}

func (r *Registry) OnChange(fn ChangeListener) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

// Reload 手动重新读取文件，失败时保留上一次的白名单。
func (r *Registry) Reload() error {
	if err := r.reload(); err != nil {
		return err
	}
	r.notifyListeners()
	return nil
}

func (r *Registry) reload() error {
	cfg, err := readProtocolFile(r.path)
	if err != nil {
		return err
	}
	allow := AllowList{
		Supported: normalizeTokens(cfg.Protocols.Supported),
		Extended:  normalizeTokens(cfg.Protocols.Extended),
	}
	if err := validateAllowList(allow); err != nil {
		return fmt.Errorf("%s: %w", filepath.Base(r.path), err)
	}
	r.mu.Lock()
	r.snapshot = Snapshot{
		Version:   r.snapshot.Version + 1,
		LoadedAt:  time.Now(),
		AllowList: allow,
	}
	r.mu.Unlock()
	logger.Infof("Protocol registry loaded supported=%d extended=%d from %s",
		len(allow.Supported), len(allow.Extended), filepath.Base(r.path))
	return nil
}

func (r *Registry) notifyListeners() {
	r.mu.RLock()
	snap := r.snapshot
	snap.AllowList = snap.AllowList.clone()
	listeners := append([]ChangeListener(nil), r.listeners...)
	r.mu.RUnlock()
	for _, fn := range listeners {
		go func(cb ChangeListener) {
			defer safeRecover("protocol registry listener")
			cb(snap)
		}(fn)
	}
}

var slugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]*$`)

func validateAllowList(a AllowList) error {
	if len(a.Supported) == 0 {
		return fmt.Errorf("protocols.supported must not be empty")
	}
	seen := make(map[string]string)
	check := func(list, tok string) error {
		if !slugPattern.MatchString(tok) {
			return fmt.Errorf("protocols.%s: invalid slug %q", list, tok)
		}
		if prev, ok := seen[tok]; ok {
			return fmt.Errorf("protocols.%s: %q already listed in %s", list, tok, prev)
		}
		seen[tok] = list
		return nil
	}
	for _, tok := range a.Supported {
		if err := check("supported", tok); err != nil {
			return err
		}
	}
	for _, tok := range a.Extended {
		if err := check("extended", tok); err != nil {
			return err
		}
	}
	return nil
}

func normalizeTokens(in []string) []string {
	out := make([]string, 0, len(in))
	for _, tok := range in {
		if s := NormalizeSlug(tok); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func readProtocolFile(path string) (FileConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return FileConfig{}, fmt.Errorf("read protocol config failed: %w", err)
	}
	var cfg FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return FileConfig{}, fmt.Errorf("parse protocol config failed: %w", err)
	}
	return cfg, nil
}

func safeRecover(tag string) {
	if r := recover(); r != nil {
		logger.Errorf("%s panic: %v", tag, r)
	}
}
