package cache

import (
	"fmt"
	"path/filepath"
	"strings"

	goredis "github.com/redis/go-redis/v9"
)

// Backend 名称，与配置项 StoreBackend 对应。
const (
	BackendFile   = "fs"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// sqliteFileName 是 sqlite 后端在 StoragePath 下使用的数据库文件名。
const sqliteFileName = "shellcache.db"

// Options 描述如何构建 Store。
type Options struct {
	Backend     string
	StoragePath string
	Codec       string
	RedisAddr   string
	RedisPrefix string
}

// NewStore 根据 Options 构建对应后端的 Store。
func NewStore(opts Options) (Store, error) {
	codec, err := NewCodec(opts.Codec)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(strings.TrimSpace(opts.Backend)) {
	case "", BackendFile:
		return NewFileStore(opts.StoragePath, codec)
	case BackendSQLite:
		if opts.StoragePath == "" {
			return nil, fmt.Errorf("storage path required")
		}
		return NewSQLiteStore(filepath.Join(opts.StoragePath, sqliteFileName), codec)
	case BackendRedis:
		if opts.RedisAddr == "" {
			return nil, fmt.Errorf("redis addr required")
		}
		client := goredis.NewClient(&goredis.Options{Addr: opts.RedisAddr})
		return NewRedisStore(client, opts.RedisPrefix, codec, true)
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", opts.Backend)
	}
}
