package cache

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	goredis "github.com/redis/go-redis/v9"

	"github.com/any-hub/shellcache/internal/resource"
)

func TestFileStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store {
		store, err := NewFileStore(t.TempDir(), MsgpackCodec{})
		if err != nil {
			t.Fatalf("failed to create store: %v", err)
		}
		return store
	})
}

func TestSQLiteStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store {
		codec, err := NewCBORCodec()
		if err != nil {
			t.Fatalf("cbor codec: %v", err)
		}
		store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "cache.db"), codec)
		if err != nil {
			t.Fatalf("failed to create store: %v", err)
		}
		return store
	})
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("SHELLCACHE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("SHELLCACHE_TEST_REDIS_ADDR not set")
	}
	runStoreSuite(t, func(t *testing.T) Store {
		client := goredis.NewClient(&goredis.Options{Addr: addr})
		prefix := "shellcache-test:" + filepath.Base(t.TempDir()) + ":"
		store, err := NewRedisStore(client, prefix, MsgpackCodec{}, true)
		if err != nil {
			t.Fatalf("failed to create store: %v", err)
		}
		return store
	})
}

func runStoreSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("PutAndMatch", func(t *testing.T) {
		store := openTestStore(t, newStore)
		handle := openGeneration(t, store, "v1")

		req := newTestRequest(t, "http://app.local/index.html")
		header := http.Header{}
		header.Set("Content-Type", "text/html")
		resp := resource.NewBytesResponse(http.StatusOK, header, []byte("<html>shell</html>"))
		resp.Type = resource.TypeBasic
		if err := handle.Put(context.Background(), req, resp); err != nil {
			t.Fatalf("put error: %v", err)
		}

		cached, err := handle.Match(context.Background(), newTestRequest(t, "http://APP.local:80/index.html"))
		if err != nil {
			t.Fatalf("match error: %v", err)
		}
		body, err := cached.Bytes()
		if err != nil {
			t.Fatalf("read cached body: %v", err)
		}
		if string(body) != "<html>shell</html>" {
			t.Fatalf("cached payload mismatch: %s", body)
		}
		if cached.Type != resource.TypeBasic || cached.Source != resource.SourceCache {
			t.Fatalf("unexpected type/source: %s/%s", cached.Type, cached.Source)
		}
		if cached.Header.Get("Content-Type") != "text/html" {
			t.Fatalf("header not preserved: %v", cached.Header)
		}
	})

	t.Run("MatchMissing", func(t *testing.T) {
		store := openTestStore(t, newStore)
		handle := openGeneration(t, store, "v1")
		if _, err := handle.Match(context.Background(), newTestRequest(t, "http://app.local/missing")); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("RejectsNonGET", func(t *testing.T) {
		store := openTestStore(t, newStore)
		handle := openGeneration(t, store, "v1")
		req := newTestRequest(t, "http://app.local/api")
		req.Method = http.MethodPost
		err := handle.Put(context.Background(), req, resource.NewBytesResponse(http.StatusOK, nil, []byte("x")))
		if !errors.Is(err, ErrMethodNotCacheable) || !errors.Is(err, ErrNotCacheable) {
			t.Fatalf("expected ErrMethodNotCacheable, got %v", err)
		}
		if _, err := handle.Match(context.Background(), req); !errors.Is(err, ErrNotFound) {
			t.Fatalf("non-GET must never match, got %v", err)
		}
	})

	t.Run("VaryAwareMatch", func(t *testing.T) {
		store := openTestStore(t, newStore)
		handle := openGeneration(t, store, "v1")

		req := newTestRequest(t, "https://fonts.googleapis.com/css2?family=Yomogi")
		req.Header.Set("User-Agent", "firefox")
		header := http.Header{}
		header.Set("Vary", "User-Agent")
		if err := handle.Put(context.Background(), req, resource.NewBytesResponse(http.StatusOK, header, []byte("css"))); err != nil {
			t.Fatalf("put error: %v", err)
		}

		same := newTestRequest(t, "https://fonts.googleapis.com/css2?family=Yomogi")
		same.Header.Set("User-Agent", "firefox")
		if _, err := handle.Match(context.Background(), same); err != nil {
			t.Fatalf("expected vary match, got %v", err)
		}
		other := newTestRequest(t, "https://fonts.googleapis.com/css2?family=Yomogi")
		other.Header.Set("User-Agent", "chrome")
		if _, err := handle.Match(context.Background(), other); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected vary mismatch, got %v", err)
		}
	})

	t.Run("VaryIgnoresTransportHeaders", func(t *testing.T) {
		store := openTestStore(t, newStore)
		handle := openGeneration(t, store, "v1")

		preloaded := newTestRequest(t, "https://app.local/index.html")
		header := http.Header{}
		header.Set("Vary", "Accept-Encoding")
		if err := handle.Put(context.Background(), preloaded, resource.NewBytesResponse(http.StatusOK, header, []byte("shell"))); err != nil {
			t.Fatalf("put error: %v", err)
		}

		browser := newTestRequest(t, "https://app.local/index.html")
		browser.Header.Set("Accept-Encoding", "gzip, deflate, br")
		if _, err := handle.Match(context.Background(), browser); err != nil {
			t.Fatalf("Accept-Encoding must not split entries, got %v", err)
		}
	})

	t.Run("IgnoreVaryOption", func(t *testing.T) {
		store := openTestStore(t, newStore)
		handle := openGeneration(t, store, "v1")

		req := newTestRequest(t, "https://app.local/index.html")
		req.Header.Set("Accept-Language", "ja")
		header := http.Header{}
		header.Set("Vary", "Accept-Language")
		if err := handle.Put(context.Background(), req, resource.NewBytesResponse(http.StatusOK, header, []byte("shell"))); err != nil {
			t.Fatalf("put error: %v", err)
		}

		bare := newTestRequest(t, "https://app.local/index.html")
		if _, err := handle.Match(context.Background(), bare); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected vary mismatch, got %v", err)
		}
		resp, err := handle.Match(context.Background(), bare, IgnoreVary())
		if err != nil {
			t.Fatalf("IgnoreVary should match by key, got %v", err)
		}
		resp.Close()
	})

	t.Run("GenerationsAndDelete", func(t *testing.T) {
		store := openTestStore(t, newStore)
		old := openGeneration(t, store, "v1")
		openGeneration(t, store, "v2")

		req := newTestRequest(t, "http://app.local/")
		if err := old.Put(context.Background(), req, resource.NewBytesResponse(http.StatusOK, nil, []byte("old"))); err != nil {
			t.Fatalf("put error: %v", err)
		}

		names, err := store.Generations(context.Background())
		if err != nil {
			t.Fatalf("generations error: %v", err)
		}
		if len(names) != 2 {
			t.Fatalf("expected 2 generations, got %v", names)
		}

		existed, err := store.Delete(context.Background(), "v1")
		if err != nil || !existed {
			t.Fatalf("delete v1: existed=%v err=%v", existed, err)
		}
		existed, err = store.Delete(context.Background(), "v1")
		if err != nil || existed {
			t.Fatalf("second delete should report absent: existed=%v err=%v", existed, err)
		}

		names, err = store.Generations(context.Background())
		if err != nil {
			t.Fatalf("generations error: %v", err)
		}
		if len(names) != 1 || names[0] != "v2" {
			t.Fatalf("expected only v2, got %v", names)
		}

		reopened := openGeneration(t, store, "v1")
		if _, err := reopened.Match(context.Background(), req); !errors.Is(err, ErrNotFound) {
			t.Fatalf("deleted generation entries must be gone, got %v", err)
		}
	})

	t.Run("PutBatchIsAllOrNothing", func(t *testing.T) {
		store := openTestStore(t, newStore)
		handle := openGeneration(t, store, "v1")

		good := newTestRequest(t, "http://app.local/index.html")
		bad := newTestRequest(t, "http://app.local/form")
		bad.Method = http.MethodPost
		err := handle.PutBatch(context.Background(), []Entry{
			{Request: good, Response: resource.NewBytesResponse(http.StatusOK, nil, []byte("ok"))},
			{Request: bad, Response: resource.NewBytesResponse(http.StatusOK, nil, []byte("no"))},
		})
		if err == nil {
			t.Fatalf("expected batch failure")
		}
		if _, err := handle.Match(context.Background(), good); !errors.Is(err, ErrNotFound) {
			t.Fatalf("failed batch must not leave entries, got %v", err)
		}
	})

	t.Run("RejectsInvalidGeneration", func(t *testing.T) {
		store := openTestStore(t, newStore)
		if _, err := store.Open(context.Background(), ""); !errors.Is(err, ErrInvalidGeneration) {
			t.Fatalf("expected ErrInvalidGeneration, got %v", err)
		}
	})
}

func openTestStore(t *testing.T, newStore func(t *testing.T) Store) Store {
	t.Helper()
	store := newStore(t)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func openGeneration(t *testing.T, store Store, name string) Handle {
	t.Helper()
	handle, err := store.Open(context.Background(), name)
	if err != nil {
		t.Fatalf("open %s: %v", name, err)
	}
	return handle
}

func newTestRequest(t *testing.T, rawURL string) *resource.Request {
	t.Helper()
	req, err := resource.NewRequest(http.MethodGet, rawURL)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	return req
}
