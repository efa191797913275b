package fetch

import (
	"net"
	"net/http"
	"net/textproto"
	"time"

	"github.com/any-hub/shellcache/internal/resource"
)

const defaultClientTimeout = 30 * time.Second

// newTransport 为单个 client 构建 Transport。回源只涉及 origin 与少数 CDN，
// 每个 host 保留少量空闲连接即可。
func newTransport() *http.Transport {
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          64,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}
}

// NewClient 返回回源用的 http.Client。timeout<=0 时使用 30s。
// Transport 自行协商压缩并透明解压，缓存中只保存解压后的 body。
func NewClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultClientTimeout
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: newTransport(),
	}
}

// proxyOnlyHeaders 只在客户端与本代理之间有意义。
var proxyOnlyHeaders = map[string]struct{}{
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
}

// CopyHeaders 将 src 中的端到端头部复制到 dst。
func CopyHeaders(dst, src http.Header) {
	for key, values := range src {
		if IsHopByHopHeader(key) {
			continue
		}
		for _, value := range values {
			dst.Add(key, value)
		}
	}
}

// IsHopByHopHeader reports whether the header must not cross the proxy:
// transport-managed headers plus proxy credentials.
func IsHopByHopHeader(key string) bool {
	if resource.IsTransportHeader(key) {
		return true
	}
	_, ok := proxyOnlyHeaders[textproto.CanonicalMIMEHeaderKey(key)]
	return ok
}
