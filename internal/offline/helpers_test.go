package offline

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/shellcache/internal/cache"
	"github.com/any-hub/shellcache/internal/resource"
)

var errNetworkDown = errors.New("network down")

type fakeRoute struct {
	status int
	body   string
	typ    resource.Type
	header http.Header
	err    error
	// failures 表示前 N 次调用返回 errNetworkDown。
	failures int
}

type fakeFetcher struct {
	mu      sync.Mutex
	routes  map[string]*fakeRoute
	calls   map[string]int
	offline bool
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{routes: make(map[string]*fakeRoute), calls: make(map[string]int)}
}

func (f *fakeFetcher) set(rawURL string, route fakeRoute) {
	u, _ := url.Parse(rawURL)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes[resource.NormalizeURL(u)] = &route
}

func (f *fakeFetcher) setOffline(offline bool) {
	f.mu.Lock()
	f.offline = offline
	f.mu.Unlock()
}

func (f *fakeFetcher) callsFor(rawURL string) int {
	u, _ := url.Parse(rawURL)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[resource.NormalizeURL(u)]
}

func (f *fakeFetcher) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	sum := 0
	for _, n := range f.calls {
		sum += n
	}
	return sum
}

func (f *fakeFetcher) Fetch(_ context.Context, req *resource.Request) (*resource.Response, error) {
	key := resource.NormalizeURL(req.URL)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[key]++
	if f.offline {
		return nil, errNetworkDown
	}
	route, ok := f.routes[key]
	if !ok {
		resp := resource.NewBytesResponse(http.StatusNotFound, nil, []byte("not found"))
		resp.Type = resource.TypeBasic
		resp.URL = key
		resp.Source = resource.SourceNetwork
		return resp, nil
	}
	if route.failures > 0 {
		route.failures--
		return nil, errNetworkDown
	}
	if route.err != nil {
		return nil, route.err
	}
	status := route.status
	if status == 0 {
		status = http.StatusOK
	}
	header := http.Header{}
	for k, v := range route.header {
		header[k] = append([]string(nil), v...)
	}
	resp := resource.NewBytesResponse(status, header, []byte(route.body))
	resp.Type = route.typ
	if resp.Type == "" {
		resp.Type = resource.TypeBasic
	}
	resp.URL = key
	resp.Source = resource.SourceNetwork
	return resp, nil
}

const (
	testOrigin   = "https://app.example"
	shellBody    = "<html>shell</html>"
	fontCSSURL   = "https://fonts.googleapis.com/css2?family=Yomogi&display=swap"
	sortableURL  = "https://cdnjs.cloudflare.com/ajax/libs/Sortable/1.15.0/Sortable.min.js"
	fontFileURL  = "https://fonts.gstatic.com/s/yomogi/v1/font.woff2"
	otherHostURL = "https://images.example/logo.png"
)

var testLocalAssets = []string{"/", "/index.html", "/manifest.json", "/icons/icon.svg"}

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestStore(t *testing.T) cache.Store {
	t.Helper()
	store, err := cache.NewFileStore(t.TempDir(), cache.MsgpackCodec{})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// seedFetcher 为默认清单中的全部资源注册成功响应。
func seedFetcher() *fakeFetcher {
	f := newFakeFetcher()
	f.set(testOrigin+"/", fakeRoute{body: shellBody})
	f.set(testOrigin+"/index.html", fakeRoute{body: shellBody, header: http.Header{"Content-Type": {"text/html"}}})
	f.set(testOrigin+"/manifest.json", fakeRoute{body: `{"name":"list"}`})
	f.set(testOrigin+"/icons/icon.svg", fakeRoute{body: "<svg/>"})
	f.set(fontCSSURL, fakeRoute{body: "@font-face{}", typ: resource.TypeCORS})
	f.set(sortableURL, fakeRoute{body: "var Sortable;", typ: resource.TypeCORS})
	return f
}

func newTestWorker(t *testing.T, store cache.Store, fetcher *fakeFetcher, generation string, mutate func(*Options)) *Worker {
	t.Helper()
	origin, _ := url.Parse(testOrigin)
	opts := Options{
		Generation:     generation,
		Origin:         origin,
		LocalAssets:    testLocalAssets,
		ExternalAssets: []string{fontCSSURL, sortableURL},
		Store:          store,
		Fetcher:        fetcher,
		Logger:         newTestLogger(),
	}
	if mutate != nil {
		mutate(&opts)
	}
	w, err := New(opts)
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}
	return w
}

func installedWorker(t *testing.T, store cache.Store, fetcher *fakeFetcher) *Worker {
	t.Helper()
	w := newTestWorker(t, store, fetcher, "v1", nil)
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	return w
}

func mustRequest(t *testing.T, method, rawURL string) *resource.Request {
	t.Helper()
	req, err := resource.NewRequest(method, rawURL)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	return req
}

func readBody(t *testing.T, resp *resource.Response) string {
	t.Helper()
	data, err := resp.Bytes()
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(data)
}

// failingStore 让 Match 始终返回底层错误，用于验证查询错误向上传播。
type failingStore struct {
	cache.Store
	err error
}

func (s failingStore) Open(ctx context.Context, generation string) (cache.Handle, error) {
	handle, err := s.Store.Open(ctx, generation)
	if err != nil {
		return nil, err
	}
	return failingHandle{Handle: handle, err: s.err}, nil
}

type failingHandle struct {
	cache.Handle
	err error
}

func (h failingHandle) Match(context.Context, *resource.Request, ...cache.MatchOption) (*resource.Response, error) {
	return nil, h.err
}
