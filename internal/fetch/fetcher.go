// Package fetch performs the network side of shellcache: it sends an
// intercepted request to its origin (same-origin requests go to the configured
// upstream) and classifies the response as basic, cors or opaque.
package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/any-hub/shellcache/internal/resource"
	"github.com/any-hub/shellcache/internal/version"
)

// Fetcher sends a request to the network.
type Fetcher interface {
	Fetch(ctx context.Context, req *resource.Request) (*resource.Response, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, req *resource.Request) (*resource.Response, error)

// Fetch makes FetcherFunc satisfy Fetcher.
func (f FetcherFunc) Fetch(ctx context.Context, req *resource.Request) (*resource.Response, error) {
	return f(ctx, req)
}

// ErrCORS is returned when a cors-mode cross-origin response does not allow
// the configured origin to read it.
var ErrCORS = errors.New("cross-origin response blocked by CORS policy")

// Options configures an HTTPFetcher.
type Options struct {
	Client *http.Client
	// Origin is the public origin of the application; it decides which
	// requests are same-origin.
	Origin *url.URL
	// Upstream, when set, receives every same-origin request instead of Origin.
	Upstream *url.URL
}

// HTTPFetcher is a Fetcher backed by net/http.
type HTTPFetcher struct {
	client   *http.Client
	origin   *url.URL
	upstream *url.URL
}

// NewHTTPFetcher builds an HTTPFetcher. A nil client falls back to NewClient(0).
func NewHTTPFetcher(opts Options) (*HTTPFetcher, error) {
	if opts.Origin == nil || !opts.Origin.IsAbs() {
		return nil, errors.New("absolute origin url is required")
	}
	client := opts.Client
	if client == nil {
		client = NewClient(0)
	}
	return &HTTPFetcher{
		client:   client,
		origin:   opts.Origin,
		upstream: opts.Upstream,
	}, nil
}

// Fetch implements Fetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context, req *resource.Request) (*resource.Response, error) {
	if req == nil || req.URL == nil {
		return nil, errors.New("request url is required")
	}
	sameOrigin := resource.SameOrigin(req.URL, f.origin)
	mode := req.Mode
	if mode == "" {
		if sameOrigin {
			mode = resource.ModeSameOrigin
		} else {
			mode = resource.ModeNoCORS
		}
	}

	httpReq, err := f.buildRequest(ctx, req, sameOrigin, mode)
	if err != nil {
		return nil, err
	}

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", req.URL, err)
	}

	respType := resource.TypeBasic
	if !sameOrigin {
		respType = resource.TypeOpaque
		if mode == resource.ModeCORS {
			if !f.corsAllowed(resp.Header) {
				resp.Body.Close()
				return nil, fmt.Errorf("fetch %s: %w", req.URL, ErrCORS)
			}
			respType = resource.TypeCORS
		}
	}

	header := http.Header{}
	CopyHeaders(header, resp.Header)
	out := resource.NewResponse(resp.StatusCode, header, resp.Body)
	out.StatusText = statusText(resp)
	out.Type = respType
	out.Source = resource.SourceNetwork
	out.URL = resource.NormalizeURL(req.URL)
	if !sameOrigin && resp.Request != nil && resp.Request.URL != nil {
		out.URL = resource.NormalizeURL(resp.Request.URL)
	}
	return out, nil
}

func (f *HTTPFetcher) buildRequest(ctx context.Context, req *resource.Request, sameOrigin bool, mode resource.Mode) (*http.Request, error) {
	target := req.URL
	if sameOrigin && f.upstream != nil {
		target = f.upstreamURL(req.URL)
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	var body *bytes.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	var (
		httpReq *http.Request
		err     error
	)
	if body != nil {
		httpReq, err = http.NewRequestWithContext(ctx, method, target.String(), body)
	} else {
		httpReq, err = http.NewRequestWithContext(ctx, method, target.String(), http.NoBody)
	}
	if err != nil {
		return nil, fmt.Errorf("build request %s: %w", req.URL, err)
	}

	if req.Header != nil {
		CopyHeaders(httpReq.Header, req.Header)
	}
	if httpReq.Header.Get("User-Agent") == "" {
		httpReq.Header.Set("User-Agent", version.UserAgent())
	}
	if sameOrigin && f.upstream != nil {
		httpReq.Header.Set("X-Forwarded-Host", req.URL.Host)
		httpReq.Header.Set("X-Forwarded-Proto", req.URL.Scheme)
	}
	if !sameOrigin && mode == resource.ModeCORS && httpReq.Header.Get("Origin") == "" {
		httpReq.Header.Set("Origin", f.originString())
	}
	return httpReq, nil
}

func (f *HTTPFetcher) upstreamURL(u *url.URL) *url.URL {
	target := *f.upstream
	target.Path = path.Join("/", strings.TrimSuffix(f.upstream.Path, "/"), u.Path)
	if strings.HasSuffix(u.Path, "/") && !strings.HasSuffix(target.Path, "/") {
		target.Path += "/"
	}
	target.RawPath = ""
	target.RawQuery = u.RawQuery
	target.Fragment = ""
	return &target
}

func (f *HTTPFetcher) corsAllowed(header http.Header) bool {
	allowed := strings.TrimSpace(header.Get("Access-Control-Allow-Origin"))
	return allowed == "*" || strings.EqualFold(allowed, f.originString())
}

func (f *HTTPFetcher) originString() string {
	return strings.ToLower(f.origin.Scheme) + "://" + strings.ToLower(f.origin.Host)
}

func statusText(resp *http.Response) string {
	prefix := strconv.Itoa(resp.StatusCode) + " "
	if text := strings.TrimPrefix(resp.Status, prefix); text != resp.Status && text != "" {
		return text
	}
	return http.StatusText(resp.StatusCode)
}
