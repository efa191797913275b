package server

import (
	"errors"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// Target 描述一次请求真正指向的源站（scheme + host）。
type Target struct {
	// URL 只包含 scheme 与 host，路径由调用方拼接。
	URL *url.URL
	// Host 为标准化后的主机名（小写、无端口）。
	Host string
	// SameOrigin 表示请求指向应用自身的 Origin。
	SameOrigin bool
}

// TargetResolver 将入站 Host 头映射为 Target：与 Origin 主机相同时沿用 Origin 的 scheme，
// 其余主机（字体/脚本 CDN 等）一律按 https 访问。
type TargetResolver struct {
	origin     *url.URL
	originHost string
	listenPort int
}

// NewTargetResolver 根据应用 Origin 构建解析器。调用方应在启动阶段创建一次并复用。
func NewTargetResolver(origin *url.URL, listenPort int) (*TargetResolver, error) {
	if origin == nil || origin.Host == "" {
		return nil, errors.New("origin is required")
	}
	host, _ := normalizeHost(origin.Host)
	return &TargetResolver{
		origin:     &url.URL{Scheme: strings.ToLower(origin.Scheme), Host: strings.ToLower(origin.Host)},
		originHost: host,
		listenPort: listenPort,
	}, nil
}

// Origin 返回应用 Origin。
func (r *TargetResolver) Origin() *url.URL {
	u := *r.origin
	return &u
}

// Resolve 根据 Host 或 Host:port 计算 Target。
func (r *TargetResolver) Resolve(rawHost string) (*Target, bool) {
	if r == nil {
		return nil, false
	}
	host, port := normalizeHost(rawHost)
	if host == "" {
		return nil, false
	}
	if host == r.originHost {
		return &Target{URL: r.Origin(), Host: host, SameOrigin: true}, true
	}

	authority := host
	if port > 0 && port != 443 && port != r.listenPort {
		authority = net.JoinHostPort(host, strconv.Itoa(port))
	}
	return &Target{
		URL:  &url.URL{Scheme: "https", Host: authority},
		Host: host,
	}, true
}

func normalizeHost(raw string) (string, int) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", 0
	}

	host := raw
	port := 0

	if strings.Contains(raw, ":") {
		if h, p, err := net.SplitHostPort(raw); err == nil {
			host = h
			if parsedPort, err := strconv.Atoi(p); err == nil {
				port = parsedPort
			}
		} else if idx := strings.LastIndex(raw, ":"); idx > -1 && strings.Count(raw[idx+1:], ":") == 0 {
			if parsedPort, err := strconv.Atoi(raw[idx+1:]); err == nil {
				host = raw[:idx]
				port = parsedPort
			}
		}
	}

	host = strings.TrimSuffix(host, ".")
	host = strings.ToLower(host)
	return host, port
}
