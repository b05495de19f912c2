package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

const (
	// EnvConfigPath 指定配置文件路径（命令行参数优先）。
	EnvConfigPath = "AGENTAUDIT_CONFIG"
	// EnvPrefix 用于覆盖配置项，例如 AGENTAUDIT_APP_HTTP_ADDR 覆盖 app.http_addr。
	EnvPrefix         = "AGENTAUDIT"
	DefaultConfigPath = "configs/config.yaml"
)

// LoadDotEnv 加载 .env 文件到进程环境，已存在的环境变量不会被覆盖；文件不存在时忽略。
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, file := range files {
		if err := godotenv.Load(file); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load env file %s: %w", file, err)
		}
	}
	return nil
}

// ResolvePath 按 命令行参数 > AGENTAUDIT_CONFIG > 默认路径 的顺序确定配置文件。
func ResolvePath(flagPath string) string {
	if p := strings.TrimSpace(flagPath); p != "" {
		return p
	}
	if p := strings.TrimSpace(os.Getenv(EnvConfigPath)); p != "" {
		return p
	}
	return DefaultConfigPath
}

// Load 读取主配置及其 include 链，合并后应用默认值并校验。
// include 中的文件先于引用它的文件合并，因此后者可以覆盖前者；环境变量只覆盖文件中出现过的键。
func Load(path string) (*Config, error) {
	files, err := includeOrder(path)
	if err != nil {
		return nil, err
	}
	v := viper.New()
	v.SetConfigType("yaml")
	for _, file := range files {
		part := viper.New()
		part.SetConfigFile(file)
		if err := part.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file failed (%s): %w", file, err)
		}
		if err := v.MergeConfigMap(part.AllSettings()); err != nil {
			return nil, fmt.Errorf("merging config file failed (%s): %w", file, err)
		}
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "toml"
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	setKeys := make(keySet)
	for _, key := range v.AllKeys() {
		setKeys.mark(key)
	}
	cfg.applyDefaults(setKeys)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// includeOrder 深度优先展开 include，返回合并顺序；同一文件只合并一次，环路报错。
func includeOrder(path string) ([]string, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	root, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	var (
		order    []string
		done     = make(map[string]bool)
		visiting = make(map[string]bool)
	)
	var visit func(string) error
	visit = func(file string) error {
		file = filepath.Clean(file)
		switch {
		case visiting[file]:
			return fmt.Errorf("include cycle detected: %s", file)
		case done[file]:
			return nil
		}
		visiting[file] = true
		includes, err := readIncludes(file)
		if err != nil {
			return fmt.Errorf("parsing include failed (%s): %w", file, err)
		}
		for _, inc := range includes {
			if !filepath.IsAbs(inc) {
				inc = filepath.Join(filepath.Dir(file), inc)
			}
			if err := visit(inc); err != nil {
				return err
			}
		}
		visiting[file] = false
		done[file] = true
		order = append(order, file)
		return nil
	}
	if err := visit(root); err != nil {
		return nil, err
	}
	return order, nil
}

func readIncludes(file string) ([]string, error) {
	v := viper.New()
	v.SetConfigFile(file)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	raw := v.Get("include")
	if raw == nil {
		return nil, nil
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("include must be a string array")
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		str, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("include only supports strings")
		}
		if str = strings.TrimSpace(str); str != "" {
			out = append(out, str)
		}
	}
	return out, nil
}
