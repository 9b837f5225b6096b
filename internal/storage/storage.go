// Package storage archives completed downloads to object storage.
package storage

import (
	"context"
	"io"
	"time"
)

type ObjectInfo struct {
	Key          string     `json:"key"`
	Size         int64      `json:"size"`
	LastModified *time.Time `json:"last_modified,omitempty"`
}

// Service is a bucket-scoped object store.
type Service interface {
	Upload(ctx context.Context, key string, body io.Reader) error
	ListObjects(ctx context.Context, prefix string) ([]ObjectInfo, error)
	DeletePrefix(ctx context.Context, prefix string) error
}
