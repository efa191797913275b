package cache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/any-hub/shellcache/internal/resource"
)

// Store 管理所有 generation。Open 会在 generation 不存在时创建它。
type Store interface {
	// Open 返回指定 generation 的读写句柄（不存在则创建）。
	Open(ctx context.Context, generation string) (Handle, error)

	// Generations 列出当前存在的 generation，顺序由具体实现决定。
	Generations(ctx context.Context) ([]string, error)

	// Delete 删除整个 generation 及其全部条目，返回该 generation 是否存在。
	Delete(ctx context.Context, generation string) (bool, error)

	// Close 释放底层资源。
	Close() error
}

// Handle 是单个 generation 的读写句柄，可被多个请求并发使用。
type Handle interface {
	Generation() string

	// Match 返回与请求匹配的缓存响应；未命中返回 ErrNotFound。
	Match(ctx context.Context, req *resource.Request, opts ...MatchOption) (*resource.Response, error)

	// Put 消费 resp 的 body 并写入缓存；同 key 的旧条目被覆盖。
	Put(ctx context.Context, req *resource.Request, resp *resource.Response) error

	// PutBatch 原子写入一组条目：要么全部可见，要么全部不可见。
	PutBatch(ctx context.Context, entries []Entry) error
}

// MatchOption 调整 Match 的比较规则。
type MatchOption func(*matchOptions)

type matchOptions struct {
	ignoreVary bool
}

// IgnoreVary 让 Match 只按 key 命中，不比较条目的 Vary 快照。
func IgnoreVary() MatchOption {
	return func(o *matchOptions) { o.ignoreVary = true }
}

func collectMatchOptions(opts []MatchOption) matchOptions {
	var o matchOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// Entry 是 PutBatch 的单个写入项。
type Entry struct {
	Request  *resource.Request
	Response *resource.Response
}

// Record 是落盘的响应快照。
type Record struct {
	Method     string
	URL        string
	Vary       map[string]string
	Status     int
	StatusText string
	Header     map[string][]string
	Type       string
	Body       []byte
	StoredAt   time.Time
}

var (
	// ErrNotFound 表示缓存不存在。
	ErrNotFound = errors.New("cache entry not found")
	// ErrNotCacheable 表示请求/响应组合不允许写入缓存。
	ErrNotCacheable = errors.New("response not cacheable")
	// ErrMethodNotCacheable 表示只有 GET 请求可以写入缓存。
	ErrMethodNotCacheable = fmt.Errorf("%w: request method must be GET", ErrNotCacheable)
	// ErrInvalidGeneration 表示 generation 名称为空或非法。
	ErrInvalidGeneration = errors.New("invalid generation name")
)

// NewRecord 读取 resp 的 body（调用方应传入 Clone 后的副本）构造 Record。
func NewRecord(req *resource.Request, resp *resource.Response) (Record, error) {
	if req == nil || resp == nil {
		return Record{}, fmt.Errorf("%w: missing request or response", ErrNotCacheable)
	}
	key := req.Key()
	if key.Method != http.MethodGet {
		return Record{}, ErrMethodNotCacheable
	}
	if resp.Status == http.StatusPartialContent {
		return Record{}, fmt.Errorf("%w: partial content", ErrNotCacheable)
	}
	vary, err := varySnapshot(req, resp.Header)
	if err != nil {
		return Record{}, err
	}
	body, err := resp.Bytes()
	if err != nil {
		return Record{}, err
	}
	return Record{
		Method:     key.Method,
		URL:        key.URL,
		Vary:       vary,
		Status:     resp.Status,
		StatusText: resp.StatusText,
		Header:     resp.Header.Clone(),
		Type:       string(resp.Type),
		Body:       body,
		StoredAt:   time.Now().UTC(),
	}, nil
}

// Key 返回 Record 对应的存储键。
func (r Record) Key() string {
	return resource.Key{Method: r.Method, URL: r.URL}.String()
}

// Matches 依据 Vary 快照判断 req 是否可以复用该条目。传输层头部不参与比较。
func (r Record) Matches(req *resource.Request) bool {
	for name, stored := range r.Vary {
		if name == "*" {
			return false
		}
		if resource.IsTransportHeader(name) {
			continue
		}
		if req.Header.Get(name) != stored {
			return false
		}
	}
	return true
}

// Response 根据 Record 生成一个新的可读响应。
func (r Record) Response() *resource.Response {
	resp := resource.NewBytesResponse(r.Status, http.Header(r.Header).Clone(), r.Body)
	if r.StatusText != "" {
		resp.StatusText = r.StatusText
	}
	resp.Type = resource.Type(r.Type)
	resp.URL = r.URL
	resp.Source = resource.SourceCache
	return resp
}

func varySnapshot(req *resource.Request, header http.Header) (map[string]string, error) {
	var names []string
	for _, value := range header.Values("Vary") {
		for _, part := range strings.Split(value, ",") {
			if name := strings.TrimSpace(part); name != "" {
				names = append(names, name)
			}
		}
	}
	if len(names) == 0 {
		return nil, nil
	}
	snapshot := make(map[string]string, len(names))
	for _, name := range names {
		if name == "*" {
			return nil, fmt.Errorf("%w: Vary: *", ErrNotCacheable)
		}
		canonical := http.CanonicalHeaderKey(name)
		if resource.IsTransportHeader(canonical) {
			continue
		}
		snapshot[canonical] = req.Header.Get(canonical)
	}
	if len(snapshot) == 0 {
		return nil, nil
	}
	return snapshot, nil
}

func validateGeneration(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" || trimmed != name || name == "." || name == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidGeneration, name)
	}
	return nil
}
