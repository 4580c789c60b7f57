package storage

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"sync"
	"time"
)

// MemoryObject is a stored object held by MemoryStorage.
type MemoryObject struct {
	Data         []byte
	ETag         string
	ContentType  string
	CacheControl string
	LastModified time.Time
}

// MemoryStorage keeps objects in process memory. Nothing survives a restart.
type MemoryStorage struct {
	mu   sync.RWMutex
	objs map[string]MemoryObject
}

// NewMemoryStorage returns an empty MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{objs: map[string]MemoryObject{}}
}

// Head returns metadata for key.
func (m *MemoryStorage) Head(_ context.Context, key string) (*ObjectInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.objs[key]
	if !ok {
		return nil, ErrNotFound
	}
	return &ObjectInfo{
		Key:          key,
		Size:         int64(len(o.Data)),
		ETag:         o.ETag,
		ContentType:  o.ContentType,
		LastModified: o.LastModified,
	}, nil
}

// Put reads the body and stores it. The existence check for IfAbsent and the
// insert happen under one lock.
func (m *MemoryStorage) Put(_ context.Context, in PutInput) (*PutResult, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, fmt.Errorf("read body for %q: %w", in.Key, err)
	}
	sum := md5.Sum(data)
	etag := hex.EncodeToString(sum[:])

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objs[in.Key]; ok && in.IfAbsent {
		return nil, ErrExists
	}
	m.objs[in.Key] = MemoryObject{
		Data:         data,
		ETag:         etag,
		ContentType:  in.ContentType,
		CacheControl: in.CacheControl,
		LastModified: time.Now().UTC(),
	}
	return &PutResult{Key: in.Key, ETag: etag, Size: int64(len(data))}, nil
}

// Object returns a copy of the stored object at key.
func (m *MemoryStorage) Object(key string) (MemoryObject, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.objs[key]
	if ok {
		o.Data = append([]byte(nil), o.Data...)
	}
	return o, ok
}

// Len returns the number of stored objects.
func (m *MemoryStorage) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objs)
}
