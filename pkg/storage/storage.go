// Package storage persists export artifacts. The local backend is the
// default; MinIO and S3 back deployments that serve exports elsewhere.
package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/sishengcao/paddleocr-api/pkg/logger"
	"github.com/sishengcao/paddleocr-api/pkg/storage/local"
	"github.com/sishengcao/paddleocr-api/pkg/storage/minio"
	"github.com/sishengcao/paddleocr-api/pkg/storage/s3"
)

// StorageType 定义存储类型
type StorageType string

const (
	StorageTypeLocal StorageType = "local"
	StorageTypeS3    StorageType = "s3"
	StorageTypeMinio StorageType = "minio"
)

// Storage 接口定义
type Storage interface {
	// Store 存储文件
	Store(ctx context.Context, reader io.Reader, filename string) (string, error)
	// Get 获取文件
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete 删除文件
	Delete(ctx context.Context, key string) error
	// CleanupBefore 清理过期文件
	CleanupBefore(ctx context.Context, threshold time.Time) error
}

// NewStorage 创建存储实例的工厂方法
func NewStorage(storageType StorageType, baseDir string, log logger.Logger) (Storage, error) {
	switch storageType {
	case StorageTypeLocal, "":
		return local.NewLocalStorage(baseDir, log)
	case StorageTypeS3:
		return s3.GetClient(log)
	case StorageTypeMinio:
		return minio.GetClient(log)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", storageType)
	}
}
