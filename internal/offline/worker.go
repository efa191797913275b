package offline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"

	"github.com/any-hub/shellcache/internal/cache"
	"github.com/any-hub/shellcache/internal/fetch"
	"github.com/any-hub/shellcache/internal/resource"
	"github.com/any-hub/shellcache/internal/strategy"
)

// State 对应 worker 生命周期阶段。
type State string

const (
	StateParsed     State = "parsed"
	StateInstalling State = "installing"
	StateInstalled  State = "installed"
	StateActivating State = "activating"
	StateActivated  State = "activated"
	StateRedundant  State = "redundant"
)

// DefaultOfflineDocument is served to navigations when the network is down.
const DefaultOfflineDocument = "/index.html"

// Options 配置 Worker。Generation、Origin、Store 与 Fetcher 为必填项。
type Options struct {
	Generation string
	Origin     *url.URL
	// OfflineDocument 可以是绝对 URL 或相对 Origin 的路径，默认 /index.html。
	OfflineDocument string
	LocalAssets     []string
	ExternalAssets  []string
	// Rules 为空时使用 DefaultRules()。
	Rules               []Rule
	Store               cache.Store
	Fetcher             fetch.Fetcher
	Logger              *logrus.Logger
	InstallRetries      int
	InstallBackoff      time.Duration
	ExternalConcurrency int
}

// Worker 持有当前 generation，并串联安装、激活与请求路由。
type Worker struct {
	generation string
	origin     *url.URL
	local      []*url.URL
	external   []*url.URL

	store   cache.Store
	fetcher fetch.Fetcher
	logger  *logrus.Logger
	router  *Router

	installRetries      int
	installBackoff      time.Duration
	externalConcurrency int

	lifecycleMu sync.Mutex
	stateMu     sync.RWMutex
	state       State
	handleMu    sync.Mutex
	handle      cache.Handle
	controlling atomic.Bool
	stores      conc.WaitGroup
}

// Status 为诊断接口提供快照。
type Status struct {
	Generation  string   `json:"generation"`
	State       State    `json:"state"`
	Controlling bool     `json:"controlling"`
	Generations []string `json:"generations"`
	Routes      []Rule   `json:"routes"`
}

// New 校验选项并构建 Worker。
func New(opts Options) (*Worker, error) {
	if opts.Generation == "" {
		return nil, errors.New("generation is required")
	}
	if opts.Origin == nil || !opts.Origin.IsAbs() || opts.Origin.Host == "" {
		return nil, errors.New("absolute origin is required")
	}
	if opts.Store == nil {
		return nil, errors.New("store is required")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("fetcher is required")
	}

	local, err := resolveAssets(opts.Origin, opts.LocalAssets, true)
	if err != nil {
		return nil, err
	}
	external, err := resolveAssets(opts.Origin, opts.ExternalAssets, false)
	if err != nil {
		return nil, err
	}

	docPath := opts.OfflineDocument
	if docPath == "" {
		docPath = DefaultOfflineDocument
	}
	docURL, err := resolveAsset(opts.Origin, docPath)
	if err != nil {
		return nil, fmt.Errorf("offline document: %w", err)
	}
	offlineDoc := &resource.Request{Method: http.MethodGet, URL: docURL, Header: http.Header{}}

	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	concurrency := opts.ExternalConcurrency
	if concurrency <= 0 {
		concurrency = defaultExternalConcurrency
	}
	rules := opts.Rules
	if len(rules) == 0 {
		rules = DefaultRules()
	}

	w := &Worker{
		generation:          opts.Generation,
		origin:              opts.Origin,
		local:               local,
		external:            external,
		store:               opts.Store,
		fetcher:             opts.Fetcher,
		logger:              logger,
		installRetries:      opts.InstallRetries,
		installBackoff:      opts.InstallBackoff,
		externalConcurrency: concurrency,
		state:               StateParsed,
	}
	w.router, err = newRouter(rules, opts.Fetcher, logger, offlineDoc, &w.stores)
	if err != nil {
		return nil, err
	}
	return w, nil
}

// Generation 返回当前 generation 名称。
func (w *Worker) Generation() string {
	return w.generation
}

// State 返回当前生命周期阶段。
func (w *Worker) State() State {
	w.stateMu.RLock()
	defer w.stateMu.RUnlock()
	return w.state
}

func (w *Worker) setState(state State) {
	w.stateMu.Lock()
	w.state = state
	w.stateMu.Unlock()
}

// Controlling reports whether requests are routed through the cache.
func (w *Worker) Controlling() bool {
	return w.controlling.Load()
}

// Classify 返回请求将使用的策略。
func (w *Worker) Classify(req *resource.Request) strategy.Profile {
	return w.router.Classify(req)
}

// Start 带重试执行安装，随后按指令激活并接管请求。
// 所有安装尝试失败时返回最后一次错误，worker 保持不接管状态。
func (w *Worker) Start(ctx context.Context) error {
	backoff := w.installBackoff
	var (
		result Result
		err    error
	)
	for attempt := 0; ; attempt++ {
		result, err = w.OnInstall(ctx)
		if err == nil {
			break
		}
		if attempt >= w.installRetries {
			return fmt.Errorf("install generation %s: %w", w.generation, err)
		}
		w.logger.WithError(err).WithFields(logrus.Fields{
			"action":     "install",
			"generation": w.generation,
			"attempt":    attempt + 1,
			"backoff":    backoff.String(),
		}).Warn("install_retry")
		if backoff > 0 {
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
			backoff *= 2
		}
	}

	if result.Directive != DirectiveSkipWaiting {
		return nil
	}
	result, err = w.OnActivate(ctx)
	if err != nil {
		return err
	}
	if result.Directive == DirectiveClaimClients {
		w.controlling.Store(true)
	}
	return nil
}

// OnRequest 通过路由策略处理单个请求。
func (w *Worker) OnRequest(ctx context.Context, req *resource.Request) (*resource.Response, error) {
	handle, err := w.currentHandle(ctx)
	if err != nil {
		return nil, err
	}
	return w.router.Route(ctx, handle, req)
}

// Serve 在接管前直接透传到网络，接管后走 OnRequest。
func (w *Worker) Serve(ctx context.Context, req *resource.Request) (*resource.Response, error) {
	if !w.Controlling() {
		return w.fetcher.Fetch(ctx, req)
	}
	return w.OnRequest(ctx, req)
}

// Wait 阻塞直到所有后台缓存写入完成。
func (w *Worker) Wait() {
	w.stores.Wait()
}

// Status 返回诊断快照。
func (w *Worker) Status(ctx context.Context) (Status, error) {
	names, err := w.store.Generations(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("list generations: %w", err)
	}
	return Status{
		Generation:  w.generation,
		State:       w.State(),
		Controlling: w.Controlling(),
		Generations: names,
		Routes:      w.router.Rules(),
	}, nil
}

func (w *Worker) setHandle(handle cache.Handle) {
	w.handleMu.Lock()
	w.handle = handle
	w.handleMu.Unlock()
}

// currentHandle 返回当前 generation 的 handle，未安装时按需打开。
func (w *Worker) currentHandle(ctx context.Context) (cache.Handle, error) {
	w.handleMu.Lock()
	defer w.handleMu.Unlock()
	if w.handle != nil {
		return w.handle, nil
	}
	handle, err := w.store.Open(ctx, w.generation)
	if err != nil {
		return nil, fmt.Errorf("open generation %s: %w", w.generation, err)
	}
	w.handle = handle
	return handle, nil
}

func resolveAssets(origin *url.URL, raws []string, local bool) ([]*url.URL, error) {
	result := make([]*url.URL, 0, len(raws))
	for _, raw := range raws {
		u, err := resolveAsset(origin, raw)
		if err != nil {
			return nil, err
		}
		sameOrigin := resource.SameOrigin(u, origin)
		if local && !sameOrigin {
			return nil, fmt.Errorf("local asset %s is not same-origin", raw)
		}
		if !local && sameOrigin {
			return nil, fmt.Errorf("external asset %s is same-origin", raw)
		}
		result = append(result, u)
	}
	return result, nil
}

func resolveAsset(origin *url.URL, raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse asset %q: %w", raw, err)
	}
	if !u.IsAbs() {
		u = origin.ResolveReference(u)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("asset %q has no host", raw)
	}
	return u, nil
}
