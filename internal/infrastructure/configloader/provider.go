package configloader

import (
	"github.com/bionicotaku/lingo-services-ingest/internal/services"
	"github.com/bionicotaku/lingo-services-ingest/internal/tasks/outbox"
	"github.com/bionicotaku/lingo-services-ingest/internal/tasks/recovery"

	"github.com/bionicotaku/lingo-utils/gcpubsub"
	obswire "github.com/bionicotaku/lingo-utils/observability"
	txconfig "github.com/bionicotaku/lingo-utils/txmanager"
	"github.com/google/wire"
)

// ProviderSet 暴露配置派生的依赖供 Wire 使用。
var ProviderSet = wire.NewSet(
	ProvideConfig,
	ProvideServiceMetadata,
	ProvideTxConfig,
	ProvideObservabilityConfig,
	ProvideMetricsConfig,
	ProvideServerConfig,
	ProvidePostgresConfig,
	ProvideStorageConfig,
	ProvideVideoHostConfig,
	ProvideTranscoderConfig,
	ProvideIngestConfig,
	ProvideWorkflowConfig,
	ProvideUploadConfig,
	ProvidePlaybackConfig,
	ProvideRecoveryConfig,
	ProvideOutboxConfig,
	ProvidePubSubConfig,
)

// ProvideConfig 返回根配置。
func ProvideConfig(b *Bundle) *Config {
	if b == nil || b.Config == nil {
		return &Config{}
	}
	return b.Config
}

// ProvideServiceMetadata 返回服务元信息。
func ProvideServiceMetadata(b *Bundle) ServiceMetadata {
	if b == nil {
		return ServiceMetadata{}
	}
	return b.Service
}

// ProvideTxConfig 返回 txmanager 配置。
func ProvideTxConfig(b *Bundle) txconfig.Config {
	if b == nil {
		return txconfig.Config{}
	}
	return b.TxConfig
}

// ProvideObservabilityConfig 返回规范化的可观测性配置。
func ProvideObservabilityConfig(b *Bundle) obswire.ObservabilityConfig {
	if b == nil {
		return obswire.ObservabilityConfig{}
	}
	return b.ObsConfig
}

// ProvideMetricsConfig 返回指标配置，可能为 nil。
func ProvideMetricsConfig(cfg obswire.ObservabilityConfig) *obswire.MetricsConfig {
	return cfg.Metrics
}

func ProvideServerConfig(c *Config) ServerConfig { return c.Server }
func ProvidePostgresConfig(c *Config) PostgresConfig { return c.Data.Postgres }
func ProvideStorageConfig(c *Config) StorageConfig { return c.Storage }
func ProvideVideoHostConfig(c *Config) VideoHostConfig { return c.VideoHost }
func ProvideTranscoderConfig(c *Config) TranscoderConfig { return c.Transcoder }

// ProvideIngestConfig 转换分片接收配置。
func ProvideIngestConfig(c *Config) services.IngestConfig {
	return services.IngestConfig{
		StagingDir:     c.Ingest.StagingDir,
		MaxTotalSize:   c.Ingest.MaxTotalSize,
		AutoAdvance:    c.Ingest.AutoAdvance,
		AdvanceTimeout: c.Ingest.AdvanceTimeout.Std(),
	}
}

func ProvideWorkflowConfig(c *Config) services.WorkflowConfig {
	return services.WorkflowConfig{
		MaxSteps:   c.Ingest.MaxSteps,
		RunTimeout: c.Ingest.AdvanceTimeout.Std(),
	}
}

func ProvideUploadConfig(c *Config) services.UploadConfig {
	return services.UploadConfig{TeeChunkSize: c.Ingest.TeeChunkSize}
}

// ProvidePlaybackConfig 使用 GCS 的签名有效期作为播放地址有效期。
func ProvidePlaybackConfig(c *Config) services.PlaybackConfig {
	return services.PlaybackConfig{URLTTL: c.Storage.GCS.SignedURLTTL.Std()}
}

func ProvideRecoveryConfig(c *Config) recovery.Config {
	return recovery.Config{
		Workers:       c.Recovery.Workers,
		PageSize:      c.Recovery.PageSize,
		RecordTimeout: c.Recovery.RecordTimeout.Std(),
	}
}

// RecoverOnBoot 报告启动时是否执行一次恢复扫描，默认开启。
func (c RecoveryConfig) RecoverOnBoot() bool {
	return c.OnBoot == nil || *c.OnBoot
}

func ProvideOutboxConfig(c *Config) outbox.Config {
	o := c.Messaging.Outbox
	return outbox.Config{
		BatchSize:      o.BatchSize,
		TickInterval:   o.TickInterval.Std(),
		InitialBackoff: o.InitialBackoff.Std(),
		MaxBackoff:     o.MaxBackoff.Std(),
		MaxAttempts:    o.MaxAttempts,
		PublishTimeout: o.PublishTimeout.Std(),
		Workers:        o.Workers,
	}
}

// ProvidePubSubConfig 转换为 gcpubsub.Config；未配置 Topic 时发布任务不会启动。
func ProvidePubSubConfig(c *Config) gcpubsub.Config {
	p := c.Messaging.PubSub
	return gcpubsub.Config{
		ProjectID:        p.ProjectID,
		TopicID:          p.TopicID,
		EmulatorEndpoint: p.EmulatorEndpoint,
		EnableLogging:    p.EnableLogging,
		EnableMetrics:    p.EnableMetrics,
		MeterName:        "lingo-services-ingest.gcpubsub",
	}
}
