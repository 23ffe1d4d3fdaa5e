package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

// Package storage contains file/object storage abstractions for uploaded assets.
// Backends are the local filesystem (served statically) and S3-compatible object stores.

// ErrObjectNotFound is returned when a key does not exist in the backend.
var ErrObjectNotFound = errors.New("object not found")

// PutObjectOptions define optional parameters for uploading objects.
// Size should be the exact number of bytes if known; if unknown, set to -1 and the implementation
// will buffer/chunk as supported by the backend.
type PutObjectOptions struct {
	Size        int64
	ContentType string
	Metadata    map[string]string
}

// ObjectInfo contains basic information about an object in storage.
type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	ContentType  string
	LastModified time.Time
	Metadata     map[string]string
}

// Storage is a reusable asset storage client interface.
// Keys are slash-separated paths relative to the backend root, e.g. "avatars/jane-1700000000000.png".
type Storage interface {
	// Put writes an object under the given key. It returns only after the bytes are durable.
	Put(ctx context.Context, key string, r io.Reader, opt PutObjectOptions) (ObjectInfo, error)
	// Get retrieves an object's content as a streaming reader alongside its info.
	Get(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error)
	// Delete removes an object by key. Missing keys yield ErrObjectNotFound.
	Delete(ctx context.Context, key string) error
}
