package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"peopleapi/internal/config"
)

// localStorage writes objects below a root directory so they can be served statically.
// Objects are written to a temporary file and renamed into place, so readers never
// observe partial content.
type localStorage struct {
	fs   afero.Fs
	root string
}

// NewLocal creates a filesystem-backed Storage rooted at cfg.Root on the OS filesystem.
func NewLocal(cfg config.StorageConfig) (Storage, error) {
	return NewLocalFs(afero.NewOsFs(), cfg.Root)
}

// NewLocalFs creates a Storage on top of an arbitrary afero filesystem.
func NewLocalFs(fs afero.Fs, root string) (Storage, error) {
	if root == "" {
		return nil, errors.New("upload root is required")
	}
	if err := fs.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create upload root: %w", err)
	}
	return &localStorage{fs: fs, root: root}, nil
}

func (l *localStorage) resolve(key string) (string, error) {
	// Cleaning against "/" confines the key below root.
	clean := path.Clean("/" + key)
	if clean == "/" {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	return filepath.Join(l.root, filepath.FromSlash(strings.TrimPrefix(clean, "/"))), nil
}

// Put writes the object durably before returning.
func (l *localStorage) Put(ctx context.Context, key string, r io.Reader, opt PutObjectOptions) (ObjectInfo, error) {
	dst, err := l.resolve(key)
	if err != nil {
		return ObjectInfo{}, err
	}
	if err := ctx.Err(); err != nil {
		return ObjectInfo{}, err
	}
	dir := filepath.Dir(dst)
	if err := l.fs.MkdirAll(dir, 0o755); err != nil {
		return ObjectInfo{}, fmt.Errorf("create directory: %w", err)
	}

	tmp, err := afero.TempFile(l.fs, dir, ".upload-*")
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	n, err := io.Copy(tmp, r)
	if err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = l.fs.Remove(tmpName)
		return ObjectInfo{}, fmt.Errorf("write file: %w", err)
	}
	if err := l.fs.Rename(tmpName, dst); err != nil {
		_ = l.fs.Remove(tmpName)
		return ObjectInfo{}, fmt.Errorf("rename file: %w", err)
	}

	st, err := l.fs.Stat(dst)
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("stat file: %w", err)
	}
	return ObjectInfo{
		Key:          key,
		Size:         n,
		ContentType:  opt.ContentType,
		LastModified: st.ModTime(),
		Metadata:     opt.Metadata,
	}, nil
}

// Get opens the object for reading. The content type is derived from the extension.
func (l *localStorage) Get(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error) {
	src, err := l.resolve(key)
	if err != nil {
		return nil, ObjectInfo{}, err
	}
	f, err := l.fs.Open(src)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ObjectInfo{}, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
		}
		return nil, ObjectInfo{}, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, ObjectInfo{}, err
	}
	ct := mime.TypeByExtension(filepath.Ext(src))
	if ct == "" {
		ct = "application/octet-stream"
	}
	return f, ObjectInfo{
		Key:          key,
		Size:         st.Size(),
		ContentType:  ct,
		LastModified: st.ModTime(),
	}, nil
}

// Delete removes the object file.
func (l *localStorage) Delete(ctx context.Context, key string) error {
	p, err := l.resolve(key)
	if err != nil {
		return err
	}
	if err := l.fs.Remove(p); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrObjectNotFound, key)
		}
		return err
	}
	return nil
}
