package cache

import (
	"context"
	"fmt"
	"net/http"

	"github.com/any-hub/shellcache/internal/resource"
)

// backend 是各存储实现需要提供的字节级原语，generation 语义由 recordStore 统一处理。
type backend interface {
	createGeneration(ctx context.Context, name string) error
	listGenerations(ctx context.Context) ([]string, error)
	deleteGeneration(ctx context.Context, name string) (bool, error)
	get(ctx context.Context, generation, key string) ([]byte, error)
	put(ctx context.Context, generation string, items []item) error
	close() error
}

type item struct {
	key   string
	value []byte
}

// recordStore 将 backend 与 Codec 组合为 Store。
type recordStore struct {
	backend backend
	codec   Codec
}

func newRecordStore(b backend, codec Codec) *recordStore {
	if codec == nil {
		codec = MsgpackCodec{}
	}
	return &recordStore{backend: b, codec: codec}
}

func (s *recordStore) Open(ctx context.Context, generation string) (Handle, error) {
	if err := validateGeneration(generation); err != nil {
		return nil, err
	}
	if err := s.backend.createGeneration(ctx, generation); err != nil {
		return nil, fmt.Errorf("open generation %s: %w", generation, err)
	}
	return &generationHandle{store: s, name: generation}, nil
}

func (s *recordStore) Generations(ctx context.Context) ([]string, error) {
	names, err := s.backend.listGenerations(ctx)
	if err != nil {
		return nil, fmt.Errorf("list generations: %w", err)
	}
	return names, nil
}

func (s *recordStore) Delete(ctx context.Context, generation string) (bool, error) {
	if err := validateGeneration(generation); err != nil {
		return false, err
	}
	existed, err := s.backend.deleteGeneration(ctx, generation)
	if err != nil {
		return false, fmt.Errorf("delete generation %s: %w", generation, err)
	}
	return existed, nil
}

func (s *recordStore) Close() error {
	return s.backend.close()
}

type generationHandle struct {
	store *recordStore
	name  string
}

func (h *generationHandle) Generation() string {
	return h.name
}

func (h *generationHandle) Match(ctx context.Context, req *resource.Request, opts ...MatchOption) (*resource.Response, error) {
	key := req.Key()
	if key.Method != http.MethodGet {
		return nil, ErrNotFound
	}
	raw, err := h.store.backend.get(ctx, h.name, key.String())
	if err != nil {
		return nil, err
	}
	record, err := decodeRecord(raw)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	if !collectMatchOptions(opts).ignoreVary && !record.Matches(req) {
		return nil, ErrNotFound
	}
	return record.Response(), nil
}

func (h *generationHandle) Put(ctx context.Context, req *resource.Request, resp *resource.Response) error {
	return h.PutBatch(ctx, []Entry{{Request: req, Response: resp}})
}

func (h *generationHandle) PutBatch(ctx context.Context, entries []Entry) error {
	items := make([]item, 0, len(entries))
	for _, entry := range entries {
		record, err := NewRecord(entry.Request, entry.Response)
		if err != nil {
			return err
		}
		value, err := encodeRecord(h.store.codec, record)
		if err != nil {
			return err
		}
		items = append(items, item{key: record.Key(), value: value})
	}
	if len(items) == 0 {
		return nil
	}
	if err := h.store.backend.put(ctx, h.name, items); err != nil {
		return fmt.Errorf("put into %s: %w", h.name, err)
	}
	return nil
}
