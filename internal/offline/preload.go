package offline

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/pool"

	"github.com/any-hub/shellcache/internal/cache"
	"github.com/any-hub/shellcache/internal/resource"
)

// PreloadReport 汇总一次预加载的结果。
type PreloadReport struct {
	Local   int      `json:"local"`
	Stored  int      `json:"stored"`
	Skipped []string `json:"skipped,omitempty"`
}

// defaultExternalConcurrency 限制外部资源并发抓取数量。
const defaultExternalConcurrency = 8

// preload 先原子写入全部本地资源，成功后再并发尽力抓取外部资源。
func (w *Worker) preload(ctx context.Context, handle cache.Handle) (PreloadReport, error) {
	var report PreloadReport

	entries, err := w.fetchLocal(ctx)
	if err != nil {
		return report, err
	}
	if err := handle.PutBatch(ctx, entries); err != nil {
		return report, fmt.Errorf("store local assets: %w", err)
	}
	report.Local = len(entries)

	report.Stored, report.Skipped = w.fetchExternal(ctx, handle)
	return report, nil
}

// fetchLocal 并发抓取本地资源，任一失败即取消其余请求。
func (w *Worker) fetchLocal(ctx context.Context) ([]cache.Entry, error) {
	entries := make([]cache.Entry, len(w.local))
	p := pool.New().WithContext(ctx).WithCancelOnError().WithFirstError()
	for i, target := range w.local {
		p.Go(func(ctx context.Context) error {
			req := assetRequest(target, resource.ModeSameOrigin)
			resp, err := w.fetcher.Fetch(ctx, req)
			if err != nil {
				return fmt.Errorf("fetch local asset %s: %w", target, err)
			}
			if !resp.OK() {
				resp.Close()
				return fmt.Errorf("fetch local asset %s: unexpected status %d", target, resp.Status)
			}
			entries[i] = cache.Entry{Request: req, Response: resp}
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		for _, entry := range entries {
			if entry.Response != nil {
				entry.Response.Close()
			}
		}
		return nil, err
	}
	return entries, nil
}

// fetchExternal 以 cors 模式逐个抓取外部资源，失败只记录日志。
func (w *Worker) fetchExternal(ctx context.Context, handle cache.Handle) (int, []string) {
	var (
		mu      sync.Mutex
		stored  int
		skipped []string
	)
	skip := func(target *url.URL, err error) {
		w.logger.WithError(err).WithFields(logrus.Fields{
			"action":     "preload",
			"generation": w.generation,
			"url":        target.String(),
		}).Warn("preload_external_failed")
		mu.Lock()
		skipped = append(skipped, target.String())
		mu.Unlock()
	}

	p := pool.New().WithMaxGoroutines(w.externalConcurrency)
	for _, target := range w.external {
		p.Go(func() {
			req := assetRequest(target, resource.ModeCORS)
			resp, err := w.fetcher.Fetch(ctx, req)
			if err != nil {
				skip(target, err)
				return
			}
			if !resp.OK() {
				resp.Close()
				skip(target, fmt.Errorf("unexpected status %d", resp.Status))
				return
			}
			if err := handle.Put(ctx, req, resp); err != nil {
				skip(target, err)
				return
			}
			mu.Lock()
			stored++
			mu.Unlock()
		})
	}
	p.Wait()

	sort.Strings(skipped)
	return stored, skipped
}

func assetRequest(target *url.URL, mode resource.Mode) *resource.Request {
	u := *target
	return &resource.Request{
		Method: http.MethodGet,
		URL:    &u,
		Header: http.Header{},
		Mode:   mode,
	}
}
