package offline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"

	"github.com/any-hub/shellcache/internal/cache"
	"github.com/any-hub/shellcache/internal/fetch"
	"github.com/any-hub/shellcache/internal/resource"
	"github.com/any-hub/shellcache/internal/strategy"
)

// Rule maps target hostnames to a registered strategy.
type Rule struct {
	Strategy string   `json:"strategy"`
	Hosts    []string `json:"hosts"`
}

// DefaultRules 由已注册策略的 DefaultHosts 生成，顺序与策略 Priority 一致。
func DefaultRules() []Rule {
	var rules []Rule
	for _, profile := range strategy.List() {
		if len(profile.DefaultHosts) == 0 {
			continue
		}
		rules = append(rules, Rule{
			Strategy: profile.Key,
			Hosts:    append([]string(nil), profile.DefaultHosts...),
		})
	}
	return rules
}

type compiledRule struct {
	profile strategy.Profile
	hosts   map[string]struct{}
}

// Router 负责请求分类与 cache-first 策略执行。
type Router struct {
	rules      []compiledRule
	fallback   strategy.Profile
	fetcher    fetch.Fetcher
	logger     *logrus.Logger
	offlineDoc *resource.Request
	stores     *conc.WaitGroup
}

func newRouter(rules []Rule, fetcher fetch.Fetcher, logger *logrus.Logger, offlineDoc *resource.Request, stores *conc.WaitGroup) (*Router, error) {
	generic, ok := strategy.Resolve(strategy.KeyGeneric)
	if !ok {
		return nil, fmt.Errorf("strategy %s not registered", strategy.KeyGeneric)
	}
	r := &Router{
		fallback:   generic,
		fetcher:    fetcher,
		logger:     logger,
		offlineDoc: offlineDoc,
		stores:     stores,
	}
	for _, rule := range rules {
		profile, ok := strategy.Resolve(rule.Strategy)
		if !ok {
			return nil, fmt.Errorf("unknown strategy %q", rule.Strategy)
		}
		compiled := compiledRule{profile: profile, hosts: make(map[string]struct{}, len(rule.Hosts))}
		for _, host := range rule.Hosts {
			if host = strings.ToLower(strings.TrimSpace(host)); host != "" {
				compiled.hosts[host] = struct{}{}
			}
		}
		r.rules = append(r.rules, compiled)
	}
	return r, nil
}

// Classify 按规则顺序匹配请求主机，首个命中者生效，未命中时使用 generic。
func (r *Router) Classify(req *resource.Request) strategy.Profile {
	host := req.Host()
	for _, rule := range r.rules {
		if _, ok := rule.hosts[host]; ok {
			return rule.profile
		}
	}
	return r.fallback
}

// Rules 返回生效的路由规则，供诊断输出。
func (r *Router) Rules() []Rule {
	result := make([]Rule, 0, len(r.rules))
	for _, rule := range r.rules {
		hosts := make([]string, 0, len(rule.hosts))
		for host := range rule.hosts {
			hosts = append(hosts, host)
		}
		sort.Strings(hosts)
		result = append(result, Rule{Strategy: rule.profile.Key, Hosts: hosts})
	}
	return result
}

// Route 执行 cache-first：命中直接返回；未命中回源，成功后后台写入克隆副本。
func (r *Router) Route(ctx context.Context, handle cache.Handle, req *resource.Request) (*resource.Response, error) {
	profile := r.Classify(req)

	cached, err := handle.Match(ctx, req)
	switch {
	case err == nil:
		return cached, nil
	case errors.Is(err, cache.ErrNotFound):
		// miss
	default:
		return nil, fmt.Errorf("cache lookup %s: %w", req.Key(), err)
	}

	resp, err := r.fetcher.Fetch(ctx, req)
	if err != nil {
		return r.fetchFailed(ctx, handle, profile, req, err)
	}
	if !profile.Storable(resp) {
		return resp, nil
	}

	clone, err := resp.Clone()
	if err != nil {
		return r.fetchFailed(ctx, handle, profile, req, err)
	}
	r.storeInBackground(ctx, handle, profile, req, clone)
	return resp, nil
}

func (r *Router) fetchFailed(ctx context.Context, handle cache.Handle, profile strategy.Profile, req *resource.Request, cause error) (*resource.Response, error) {
	if !profile.OfflineFallback {
		return nil, fmt.Errorf("%s fetch %s: %w", profile.Key, req.URL, cause)
	}

	r.logger.WithError(cause).WithFields(logrus.Fields{
		"action":   "route",
		"strategy": profile.Key,
		"url":      req.URL.String(),
	}).Info("fetch_failed_offline")

	if req.IsNavigation() && r.offlineDoc != nil {
		doc, err := handle.Match(ctx, r.offlineDoc, cache.IgnoreVary())
		switch {
		case err == nil:
			doc.Source = resource.SourceFallback
			return doc, nil
		case errors.Is(err, cache.ErrNotFound):
			r.logger.WithFields(logrus.Fields{
				"action": "route",
				"url":    r.offlineDoc.URL.String(),
			}).Warn("offline_document_missing")
		default:
			return nil, fmt.Errorf("cache lookup %s: %w", r.offlineDoc.Key(), err)
		}
	}
	return resource.Offline(), nil
}

func (r *Router) storeInBackground(ctx context.Context, handle cache.Handle, profile strategy.Profile, req *resource.Request, resp *resource.Response) {
	bg := context.WithoutCancel(ctx)
	r.stores.Go(func() {
		if err := handle.Put(bg, req, resp); err != nil {
			r.logger.WithError(err).WithFields(logrus.Fields{
				"action":     "cache_store",
				"strategy":   profile.Key,
				"generation": handle.Generation(),
				"url":        req.URL.String(),
			}).Debug("cache_store_failed")
		}
	})
}
