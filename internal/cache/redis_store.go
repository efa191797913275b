package cache

import (
	"context"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// ErrNilClient 表示未提供 redis 客户端。
var ErrNilClient = errors.New("redis store: nil client")

// NewRedisStore 使用 redis 保存 generation：
//
//	<prefix>generations       ZSET，score 为创建时间
//	<prefix>gen:<generation>  HASH，field 为缓存键，value 为编码后的 Record
//
// closeClient 为 true 时 Close 会关闭 client。
func NewRedisStore(client goredis.UniversalClient, prefix string, codec Codec, closeClient bool) (Store, error) {
	if client == nil {
		return nil, ErrNilClient
	}
	if prefix == "" {
		prefix = "shellcache:"
	}
	return newRecordStore(&redisBackend{rdb: client, prefix: prefix, closeClient: closeClient}, codec), nil
}

type redisBackend struct {
	rdb         goredis.UniversalClient
	prefix      string
	closeClient bool
}

func (b *redisBackend) generationsKey() string {
	return b.prefix + "generations"
}

func (b *redisBackend) hashKey(generation string) string {
	return b.prefix + "gen:" + generation
}

func (b *redisBackend) createGeneration(ctx context.Context, name string) error {
	return b.rdb.ZAddNX(ctx, b.generationsKey(), goredis.Z{
		Score:  float64(time.Now().UnixNano()),
		Member: name,
	}).Err()
}

func (b *redisBackend) listGenerations(ctx context.Context) ([]string, error) {
	return b.rdb.ZRange(ctx, b.generationsKey(), 0, -1).Result()
}

func (b *redisBackend) deleteGeneration(ctx context.Context, name string) (bool, error) {
	var removed *goredis.IntCmd
	_, err := b.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, b.hashKey(name))
		removed = pipe.ZRem(ctx, b.generationsKey(), name)
		return nil
	})
	if err != nil {
		return false, err
	}
	return removed.Val() > 0, nil
}

func (b *redisBackend) get(ctx context.Context, generation, key string) ([]byte, error) {
	value, err := b.rdb.HGet(ctx, b.hashKey(generation), key).Bytes()
	if err == goredis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

// put 在 MULTI/EXEC 中一次性写入全部字段。
func (b *redisBackend) put(ctx context.Context, generation string, items []item) error {
	values := make([]interface{}, 0, len(items)*2)
	for _, it := range items {
		values = append(values, it.key, it.value)
	}
	_, err := b.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.ZAddNX(ctx, b.generationsKey(), goredis.Z{
			Score:  float64(time.Now().UnixNano()),
			Member: generation,
		})
		pipe.HSet(ctx, b.hashKey(generation), values...)
		return nil
	})
	return err
}

func (b *redisBackend) close() error {
	if b.closeClient {
		if err := b.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
			return err
		}
	}
	return nil
}
