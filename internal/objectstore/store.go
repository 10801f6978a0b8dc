// Package objectstore 负责竞标元数据与任务交付物的外部存储。
package objectstore

import "context"

// Store 抽象对象存储，Put 返回可写入链上的 URI。
type Store interface {
	Put(ctx context.Context, data []byte, contentType string) (string, error)
	Get(ctx context.Context, uri string) ([]byte, error)
	Close() error
}
