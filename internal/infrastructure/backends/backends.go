// Package backends 按配置选择对象存储、视频平台与消息发布等外部依赖的实现。
package backends

import (
	"context"
	"fmt"

	"github.com/bionicotaku/lingo-services-ingest/internal/infrastructure/configloader"
	"github.com/bionicotaku/lingo-services-ingest/internal/infrastructure/gcs"
	"github.com/bionicotaku/lingo-services-ingest/internal/infrastructure/s3store"
	"github.com/bionicotaku/lingo-services-ingest/internal/infrastructure/transcoder"
	"github.com/bionicotaku/lingo-services-ingest/internal/infrastructure/videohost"
	"github.com/bionicotaku/lingo-services-ingest/internal/services"

	"github.com/bionicotaku/lingo-utils/gcpubsub"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
)

// ProviderSet 暴露外部依赖的构造器。
var ProviderSet = wire.NewSet(
	ProvideStorageBackend,
	ProvideObjectStore,
	ProvidePlaybackSigner,
	ProvideVideoHost,
	transcoder.Provide,
	wire.Bind(new(services.Transcoder), new(*transcoder.FFmpeg)),
)

// StorageBackend 为按配置选择的对象存储与播放地址签名器。
type StorageBackend struct {
	store  services.ObjectStore
	signer services.PlaybackSigner
}

// NewStorageBackend 组合已构造的实现，signer 可为 nil。
func NewStorageBackend(store services.ObjectStore, signer services.PlaybackSigner) *StorageBackend {
	return &StorageBackend{store: store, signer: signer}
}

// ProvideStorageBackend 按 storage.backend 构造 GCS 或 S3 实现。
func ProvideStorageBackend(ctx context.Context, cfg configloader.StorageConfig, logger log.Logger) (*StorageBackend, func(), error) {
	switch cfg.Backend {
	case configloader.StorageBackendS3:
		store, err := s3store.Provide(ctx, cfg, logger)
		if err != nil {
			return nil, nil, err
		}
		return &StorageBackend{store: store, signer: store}, func() {}, nil
	case configloader.StorageBackendGCS:
		client, cleanup, err := gcs.NewClient(ctx)
		if err != nil {
			return nil, nil, err
		}
		backend := &StorageBackend{store: gcs.ProvideObjectStore(client, cfg, logger)}
		if signer := gcs.ProvideURLSigner(ctx, cfg, logger); signer != nil {
			backend.signer = signer
		}
		return backend, cleanup, nil
	default:
		return nil, nil, fmt.Errorf("unsupported storage backend %q", cfg.Backend)
	}
}

// ProvideObjectStore 返回对象存储。
func ProvideObjectStore(b *StorageBackend) services.ObjectStore {
	return b.store
}

// ProvidePlaybackSigner 返回签名器；未配置时为 nil 接口。
func ProvidePlaybackSigner(b *StorageBackend) services.PlaybackSigner {
	return b.signer
}

// ProvideVideoHost 未启用时返回 nil 接口，上传阶段只写对象存储。
func ProvideVideoHost(ctx context.Context, cfg configloader.VideoHostConfig, logger log.Logger) (services.VideoHost, error) {
	client, err := videohost.Provide(ctx, cfg, logger)
	if err != nil || client == nil {
		return nil, err
	}
	return client, nil
}

// ProvidePublisher 未配置 Topic 时返回 nil，Outbox 事件保留在表中。
func ProvidePublisher(ctx context.Context, cfg gcpubsub.Config, logger log.Logger) (gcpubsub.Publisher, func(), error) {
	if cfg.TopicID == "" {
		return nil, func() {}, nil
	}
	component, cleanup, err := gcpubsub.NewComponent(ctx, cfg, gcpubsub.Dependencies{Logger: logger})
	if err != nil {
		return nil, nil, fmt.Errorf("init pubsub publisher: %w", err)
	}
	return gcpubsub.ProvidePublisher(component), cleanup, nil
}
