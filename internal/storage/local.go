package storage

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// LocalStorage keeps objects on the filesystem under RootPath. Object bytes
// live in RootPath/objects and their metadata in RootPath/meta, so no key can
// shadow another key's metadata.
//
// Publishing an object and writing its metadata happen under one lock, so an
// object is never paired with another write's metadata.
type LocalStorage struct {
	RootPath string

	mu sync.RWMutex
}

type localMeta struct {
	ETag         string `json:"etag"`
	Size         int64  `json:"size"`
	ContentType  string `json:"contentType"`
	CacheControl string `json:"cacheControl"`
}

// NewLocalStorage returns a LocalStorage rooted at root, creating it if needed.
func NewLocalStorage(root string) (*LocalStorage, error) {
	for _, dir := range []string{"objects", "meta"} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			return nil, fmt.Errorf("create %s dir: %w", dir, err)
		}
	}
	return &LocalStorage{RootPath: root}, nil
}

func (l *LocalStorage) paths(key string) (string, string, error) {
	rel := filepath.FromSlash(key)
	if !filepath.IsLocal(rel) {
		return "", "", fmt.Errorf("key %q escapes storage root", key)
	}
	return filepath.Join(l.RootPath, "objects", rel),
		filepath.Join(l.RootPath, "meta", rel+".meta"), nil
}

// Head returns metadata for key.
func (l *LocalStorage) Head(_ context.Context, key string) (*ObjectInfo, error) {
	objPath, metaPath, err := l.paths(key)
	if err != nil {
		return nil, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	st, err := os.Stat(objPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("stat %q: %w", key, err)
	}

	info := &ObjectInfo{Key: key, Size: st.Size(), LastModified: st.ModTime()}
	if raw, err := os.ReadFile(metaPath); err == nil {
		var m localMeta
		if json.Unmarshal(raw, &m) == nil {
			info.ETag, info.ContentType = m.ETag, m.ContentType
		}
	}
	return info, nil
}

// Put writes the body to a temp file next to the destination, then publishes
// it. With IfAbsent the temp file is hard-linked into place, which fails if
// the destination already exists; otherwise it is renamed over it.
func (l *LocalStorage) Put(_ context.Context, in PutInput) (*PutResult, error) {
	objPath, metaPath, err := l.paths(in.Key)
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(objPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create dir for %q: %w", in.Key, err)
	}

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) //nolint:errcheck

	h := md5.New()
	n, err := io.Copy(io.MultiWriter(tmp, h), in.Body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, fmt.Errorf("write %q: %w", in.Key, err)
	}

	etag := hex.EncodeToString(h.Sum(nil))
	meta, _ := json.Marshal(localMeta{
		ETag:         etag,
		Size:         n,
		ContentType:  in.ContentType,
		CacheControl: in.CacheControl,
	})

	l.mu.Lock()
	defer l.mu.Unlock()

	if in.IfAbsent {
		if err := os.Link(tmpPath, objPath); err != nil {
			if errors.Is(err, fs.ErrExist) {
				return nil, ErrExists
			}
			return nil, fmt.Errorf("publish %q: %w", in.Key, err)
		}
	} else if err := os.Rename(tmpPath, objPath); err != nil {
		return nil, fmt.Errorf("publish %q: %w", in.Key, err)
	}
	if err := writeFileAtomic(metaPath, meta); err != nil {
		return nil, fmt.Errorf("write meta for %q: %w", in.Key, err)
	}

	return &PutResult{Key: in.Key, ETag: etag, Size: n}, nil
}

// writeFileAtomic replaces path with data via a temp file and rename.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".meta-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	_, err = tmp.Write(data)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
