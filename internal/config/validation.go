package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/shellcache/internal/cache"
	"github.com/any-hub/shellcache/internal/resource"
	"github.com/any-hub/shellcache/internal/strategy"
)

var supportedBackends = map[string]struct{}{
	cache.BackendFile:   {},
	cache.BackendSQLite: {},
	cache.BackendRedis:  {},
}

var supportedCodecs = map[string]struct{}{
	"msgpack": {},
	"cbor":    {},
}

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}
	if err := c.Global.validate(); err != nil {
		return err
	}
	if err := c.Shell.validate(); err != nil {
		return err
	}
	return validateRoutes(c.Routes)
}

func (g GlobalConfig) validate() error {
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("ListenPort", "必须在 1-65535")
	}
	if g.LogLevel != "" {
		if _, err := logrus.ParseLevel(g.LogLevel); err != nil {
			return newFieldError("LogLevel", "无法识别的日志级别")
		}
	}
	if _, ok := supportedBackends[g.StoreBackend]; !ok {
		return newFieldError("StoreBackend", "仅支持 fs|sqlite|redis")
	}
	if g.StoreBackend == cache.BackendRedis {
		if strings.TrimSpace(g.RedisAddr) == "" {
			return newFieldError("RedisAddr", "redis 后端必须配置")
		}
	} else if g.StoragePath == "" {
		return newFieldError("StoragePath", "不能为空")
	}
	if _, ok := supportedCodecs[g.StoreCodec]; !ok {
		return newFieldError("StoreCodec", "仅支持 msgpack|cbor")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("UpstreamTimeout", "必须大于 0")
	}
	if g.InstallRetries < 0 {
		return newFieldError("InstallRetries", "不能为负数")
	}
	if g.InstallBackoff.DurationValue() < 0 {
		return newFieldError("InstallBackoff", "不能为负数")
	}
	return nil
}

// validate 校验 Shell 配置，并把去除空白后的 Origin/Upstream/资源地址写回，
// 保证后续组件使用的值与校验过的值一致。
func (s *ShellConfig) validate() error {
	if err := validateGeneration(s.Generation); err != nil {
		return newFieldError("Generation", err.Error())
	}
	s.Origin = strings.TrimSpace(s.Origin)
	s.Upstream = strings.TrimSpace(s.Upstream)
	origin, err := validateOrigin(s.Origin)
	if err != nil {
		return fmt.Errorf("Origin: %w", err)
	}
	if s.Upstream != "" {
		if _, err := validateOrigin(s.Upstream); err != nil {
			return fmt.Errorf("Upstream: %w", err)
		}
	}

	if len(s.LocalAssets) == 0 {
		return newFieldError("LocalAssets", "至少需要一个本地资源")
	}
	seen := make(map[string]struct{}, len(s.LocalAssets))
	for i, raw := range s.LocalAssets {
		s.LocalAssets[i] = strings.TrimSpace(raw)
		u, err := resolveAgainst(origin, raw)
		if err != nil {
			return newFieldError(assetField("LocalAssets", i), err.Error())
		}
		if !resource.SameOrigin(u, origin) {
			return newFieldError(assetField("LocalAssets", i), "必须与 Origin 同源")
		}
		seen[resource.NormalizeURL(u)] = struct{}{}
	}

	s.FallbackDocument = strings.TrimSpace(s.FallbackDocument)
	fallback, err := resolveAgainst(origin, s.FallbackDocument)
	if err != nil {
		return newFieldError("FallbackDocument", err.Error())
	}
	if _, ok := seen[resource.NormalizeURL(fallback)]; !ok {
		return newFieldError("FallbackDocument", "必须包含在 LocalAssets 中")
	}

	for i, raw := range s.ExternalAssets {
		s.ExternalAssets[i] = strings.TrimSpace(raw)
		u, err := url.Parse(s.ExternalAssets[i])
		if err != nil || !u.IsAbs() || u.Host == "" {
			return newFieldError(assetField("ExternalAssets", i), "必须是绝对 URL")
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return newFieldError(assetField("ExternalAssets", i), "仅支持 http/https")
		}
		if resource.SameOrigin(u, origin) {
			return newFieldError(assetField("ExternalAssets", i), "不能与 Origin 同源")
		}
	}
	return nil
}

func validateRoutes(routes []RouteConfig) error {
	for i := range routes {
		route := &routes[i]
		route.Strategy = strings.ToLower(strings.TrimSpace(route.Strategy))
		if route.Strategy == "" {
			return newFieldError(routeField(i, "Strategy"), "不能为空")
		}
		if _, ok := strategy.Resolve(route.Strategy); !ok {
			return newFieldError(routeField(i, "Strategy"), fmt.Sprintf("未注册策略: %s，可选 %s", route.Strategy, strings.Join(strategy.Keys(), "|")))
		}
		if len(route.Hosts) == 0 {
			return newFieldError(routeField(i, "Hosts"), "不能为空")
		}
		for j, host := range route.Hosts {
			if err := validateHost(host); err != nil {
				return newFieldError(fmt.Sprintf("%s[%d]", routeField(i, "Hosts"), j), err.Error())
			}
			route.Hosts[j] = strings.ToLower(strings.TrimSpace(host))
		}
	}
	return nil
}

func validateGeneration(name string) error {
	if name == "" {
		return errors.New("不能为空")
	}
	if strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return errors.New("不允许包含路径分隔符或以 . 开头")
	}
	return nil
}

func validateHost(host string) error {
	host = strings.TrimSpace(host)
	if host == "" {
		return errors.New("Host 不能为空")
	}
	if strings.Contains(host, "/") {
		return errors.New("Host 不允许包含路径")
	}
	if strings.Contains(host, " ") {
		return errors.New("Host 不允许包含空格")
	}
	if strings.HasPrefix(host, "http") && strings.Contains(host, ":") {
		return errors.New("Host 不应包含协议头")
	}
	return nil
}

func validateOrigin(raw string) (*url.URL, error) {
	if raw == "" {
		return nil, errors.New("缺少地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("仅支持 http/https: %s", raw)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("缺少 Host: %s", raw)
	}
	return parsed, nil
}

func resolveAgainst(origin *url.URL, raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("不能为空")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if !u.IsAbs() {
		if !strings.HasPrefix(raw, "/") {
			return nil, errors.New("相对路径必须以 / 开头")
		}
		u = origin.ResolveReference(u)
	}
	return u, nil
}
