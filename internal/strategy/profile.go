package strategy

import (
	"net/http"

	"github.com/any-hub/shellcache/internal/resource"
)

// Guard decides whether a fetched response may be written to the cache.
type Guard func(resp *resource.Response) bool

// Profile 描述一种缓存策略。
type Profile struct {
	Key         string   `json:"key"`
	Description string   `json:"description"`
	// DefaultHosts 为未配置 [[Route]] 时使用的主机列表；为空表示兜底策略。
	DefaultHosts []string `json:"default_hosts,omitempty"`
	// Priority 决定默认路由表中的匹配顺序，数值小者优先。
	Priority int `json:"priority"`
	// OfflineFallback 为 true 时，网络失败会返回离线文档或 503 Offline，而不是错误。
	OfflineFallback bool `json:"offline_fallback"`
	// GuardName 仅用于诊断输出。
	GuardName string `json:"store_guard"`
	Guard     Guard  `json:"-"`
}

// Storable 调用 Guard；未设置 Guard 时退化为 GuardOK。
func (p Profile) Storable(resp *resource.Response) bool {
	if p.Guard == nil {
		return GuardOK(resp)
	}
	return p.Guard(resp)
}

// GuardOK accepts any present 2xx response, opaque ones included.
func GuardOK(resp *resource.Response) bool {
	return resp != nil && resp.OK()
}

// GuardBasic200 accepts only same-origin 200 responses.
func GuardBasic200(resp *resource.Response) bool {
	return resp != nil && resp.Status == http.StatusOK && resp.Type == resource.TypeBasic
}
