package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/any-hub/shellcache/internal/cache"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// GlobalConfig 描述进程级运行参数：监听、日志、存储与安装重试。
type GlobalConfig struct {
	ListenPort      int      `mapstructure:"ListenPort"`
	LogLevel        string   `mapstructure:"LogLevel"`
	LogFilePath     string   `mapstructure:"LogFilePath"`
	LogMaxSize      int      `mapstructure:"LogMaxSize"`
	LogMaxBackups   int      `mapstructure:"LogMaxBackups"`
	LogCompress     bool     `mapstructure:"LogCompress"`
	StoreBackend    string   `mapstructure:"StoreBackend"`
	StoragePath     string   `mapstructure:"StoragePath"`
	StoreCodec      string   `mapstructure:"StoreCodec"`
	RedisAddr       string   `mapstructure:"RedisAddr"`
	RedisPrefix     string   `mapstructure:"RedisPrefix"`
	UpstreamTimeout Duration `mapstructure:"UpstreamTimeout"`
	InstallRetries  int      `mapstructure:"InstallRetries"`
	InstallBackoff  Duration `mapstructure:"InstallBackoff"`
}

// ShellConfig 描述被缓存的应用：当前 generation、源站与预加载清单。
type ShellConfig struct {
	Generation       string   `mapstructure:"Generation"`
	Origin           string   `mapstructure:"Origin"`
	Upstream         string   `mapstructure:"Upstream"`
	FallbackDocument string   `mapstructure:"FallbackDocument"`
	LocalAssets      []string `mapstructure:"LocalAssets"`
	ExternalAssets   []string `mapstructure:"ExternalAssets"`
}

// RouteConfig 将一组主机映射到已注册的策略。
type RouteConfig struct {
	Strategy string   `mapstructure:"Strategy"`
	Hosts    []string `mapstructure:"Hosts"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global GlobalConfig  `mapstructure:",squash"`
	Shell  ShellConfig   `mapstructure:",squash"`
	Routes []RouteConfig `mapstructure:"Route"`
}

// OriginURL 返回解析后的 Origin（假定 Validate 已经通过）。
func (s ShellConfig) OriginURL() *url.URL {
	u, _ := url.Parse(s.Origin)
	return u
}

// UpstreamURL 返回解析后的 Upstream，未配置时返回 nil。
func (s ShellConfig) UpstreamURL() *url.URL {
	if strings.TrimSpace(s.Upstream) == "" {
		return nil
	}
	u, _ := url.Parse(s.Upstream)
	return u
}

// StoreOptions 将存储相关字段转换为 cache.Options。
func (g GlobalConfig) StoreOptions() cache.Options {
	return cache.Options{
		Backend:     g.StoreBackend,
		StoragePath: g.StoragePath,
		Codec:       g.StoreCodec,
		RedisAddr:   g.RedisAddr,
		RedisPrefix: g.RedisPrefix,
	}
}
