package cache

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

const entrySuffix = ".entry"

// NewFileStore 以 basePath 为根目录构建磁盘缓存，整站复用一份实例。
func NewFileStore(basePath string, codec Codec) (Store, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	return newRecordStore(&fileBackend{
		basePath: abs,
		locks:    make(map[string]*entryLock),
	}, codec), nil
}

// fileBackend 通过 entryLock 避免同一条目并发写入；generation 目录的创建/删除由 dirMu 串行化。
type fileBackend struct {
	basePath string

	dirMu sync.RWMutex

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

func (b *fileBackend) createGeneration(_ context.Context, name string) error {
	b.dirMu.Lock()
	defer b.dirMu.Unlock()
	return os.MkdirAll(b.generationDir(name), 0o755)
}

func (b *fileBackend) listGenerations(_ context.Context) ([]string, error) {
	b.dirMu.RLock()
	defer b.dirMu.RUnlock()

	entries, err := os.ReadDir(b.basePath)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		name, err := url.PathUnescape(entry.Name())
		if err != nil {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (b *fileBackend) deleteGeneration(_ context.Context, name string) (bool, error) {
	b.dirMu.Lock()
	defer b.dirMu.Unlock()

	dir := b.generationDir(name)
	if _, err := os.Stat(dir); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}

	// 先改名再删除，避免并发读取看到半删除的目录。
	trash, err := os.MkdirTemp(b.basePath, ".trash-*")
	if err != nil {
		return false, err
	}
	target := filepath.Join(trash, "gen")
	if err := os.Rename(dir, target); err != nil {
		os.Remove(trash)
		return false, err
	}
	if err := os.RemoveAll(trash); err != nil {
		return true, err
	}
	return true, nil
}

func (b *fileBackend) get(ctx context.Context, generation, key string) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	b.dirMu.RLock()
	defer b.dirMu.RUnlock()

	filePath := b.entryPath(generation, key)
	info, err := os.Stat(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if info.IsDir() {
		return nil, ErrNotFound
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

// put 先把所有条目写入临时文件，全部成功后再逐个 rename；任一步失败都会清理临时文件与已落地的条目。
func (b *fileBackend) put(ctx context.Context, generation string, items []item) error {
	b.dirMu.RLock()
	defer b.dirMu.RUnlock()

	keys := make([]string, len(items))
	for i, it := range items {
		keys[i] = generation + "::" + it.key
	}
	unlock := b.lockEntries(keys)
	defer unlock()

	type staged struct {
		temp   string
		target string
	}
	pending := make([]staged, 0, len(items))
	cleanup := func() {
		for _, s := range pending {
			os.Remove(s.temp)
		}
	}

	for _, it := range items {
		target := b.entryPath(generation, it.key)
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			cleanup()
			return err
		}
		tempFile, err := os.CreateTemp(filepath.Dir(target), ".cache-*")
		if err != nil {
			cleanup()
			return err
		}
		tempName := tempFile.Name()

		_, err = copyWithContext(ctx, tempFile, bytes.NewReader(it.value))
		closeErr := tempFile.Close()
		if err == nil {
			err = closeErr
		}
		if err != nil {
			os.Remove(tempName)
			cleanup()
			return err
		}
		pending = append(pending, staged{temp: tempName, target: target})
	}

	for i, s := range pending {
		if err := os.Rename(s.temp, s.target); err != nil {
			for _, done := range pending[:i] {
				os.Remove(done.target)
			}
			for _, rest := range pending[i:] {
				os.Remove(rest.temp)
			}
			return err
		}
	}
	return nil
}

func (b *fileBackend) close() error {
	return nil
}

func (b *fileBackend) lockEntries(keys []string) func() {
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)

	var unlocks []func()
	seen := make(map[string]struct{}, len(sorted))
	for _, key := range sorted {
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		unlocks = append(unlocks, b.lockEntry(key))
	}
	return func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
}

func (b *fileBackend) lockEntry(key string) func() {
	b.mu.Lock()
	lock := b.locks[key]
	if lock == nil {
		lock = &entryLock{}
		b.locks[key] = lock
	}
	lock.refs++
	b.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		b.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(b.locks, key)
		}
		b.mu.Unlock()
	}
}

func (b *fileBackend) generationDir(name string) string {
	return filepath.Join(b.basePath, url.PathEscape(name))
}

func (b *fileBackend) entryPath(generation, key string) string {
	sum := sha256.Sum256([]byte(key))
	digest := hex.EncodeToString(sum[:])
	return filepath.Join(b.generationDir(generation), digest[:2], digest+entrySuffix)
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var copied int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if wErr != nil {
				return copied, wErr
			}
			if w < n {
				return copied, io.ErrShortWrite
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			return copied, err
		}
	}
}
