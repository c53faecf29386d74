package gcs

import (
	"context"
	"fmt"

	"cloud.google.com/go/storage"
	"github.com/go-kratos/kratos/v2/log"

	"github.com/bionicotaku/lingo-services-ingest/internal/infrastructure/configloader"
)

// NewClient 创建 GCS 客户端，返回的 cleanup 关闭底层连接。
func NewClient(ctx context.Context) (*storage.Client, func(), error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("init gcs client: %w", err)
	}
	return client, func() { _ = client.Close() }, nil
}

// ProvideObjectStore 供 Wire 注入使用。
func ProvideObjectStore(client *storage.Client, cfg configloader.StorageConfig, logger log.Logger) *ObjectStore {
	return NewObjectStore(client, cfg.GCS.Bucket, cfg.Prefix, 0, logger)
}

// ProvideURLSigner 创建读取地址签名器；凭据缺少私钥时返回 nil，播放地址不可用。
func ProvideURLSigner(ctx context.Context, cfg configloader.StorageConfig, logger log.Logger) *URLSigner {
	signer, err := NewURLSigner(ctx, cfg.GCS.Bucket, logger, WithServiceAccountFile(cfg.GCS.ServiceAccountKeyPath))
	if err != nil {
		log.NewHelper(logger).WithContext(ctx).Warnf("playback url signing disabled: %v", err)
		return nil
	}
	return signer
}
