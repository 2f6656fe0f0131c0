package store

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rushteam/ctrkit/core"
)

// FileStore 以本地目录为后端的 Store，key 为相对路径（绝对路径原样使用）。
// 主要用于从磁盘读取检查点；不支持 TTL。
type FileStore struct {
	root string
}

func NewFileStore(root string) *FileStore {
	return &FileStore{root: root}
}

func (f *FileStore) Name() string { return "file" }

func (f *FileStore) path(key string) string {
	if filepath.IsAbs(key) || f.root == "" {
		return filepath.Clean(key)
	}
	return filepath.Join(f.root, filepath.Clean("/"+key))
}

func (f *FileStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(f.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, notFound(key)
	}
	return data, err
}

// Set 先写临时文件再 rename，读方不会看到半个文件。
func (f *FileStore) Set(ctx context.Context, key string, value []byte, ttl ...int) error {
	if len(ttl) > 0 && ttl[0] > 0 {
		return core.ErrStoreNotSupported
	}
	p := f.path(key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(p), ".ctrkit-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(value); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), p)
}

func (f *FileStore) Delete(ctx context.Context, key string) error {
	err := os.Remove(f.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func (f *FileStore) Close() error { return nil }

var _ core.Store = (*FileStore)(nil)
