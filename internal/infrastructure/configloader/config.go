// Package configloader 加载 ingest 服务的 YAML 配置，叠加 .env 与环境变量覆盖，
// 并把各配置段转换为组件所需的强类型配置。
package configloader

// Config 为配置文件的根结构。
type Config struct {
	Server     ServerConfig     `json:"server"`
	Data       DataConfig       `json:"data"`
	Ingest     IngestConfig     `json:"ingest"`
	Storage    StorageConfig    `json:"storage"`
	VideoHost  VideoHostConfig  `json:"video_host"`
	Transcoder TranscoderConfig `json:"transcoder"`
	Recovery   RecoveryConfig   `json:"recovery"`
	Messaging  MessagingConfig  `json:"messaging"`
	// Observability 对应 lingo-utils/observability 的追踪与指标导出。
	Observability ObservabilityConfig `json:"observability"`
}

// ServerConfig 描述 HTTP 与 gRPC 监听配置。
type ServerConfig struct {
	HTTP ListenerConfig `json:"http"`
	GRPC ListenerConfig `json:"grpc"`
}

// ListenerConfig 描述单个监听器。
type ListenerConfig struct {
	Network string   `json:"network"`
	Addr    string   `json:"addr"`
	Timeout Duration `json:"timeout"`
}

// DataConfig 描述数据层配置。
type DataConfig struct {
	Postgres PostgresConfig `json:"postgres"`
}

// PostgresConfig 描述连接池参数。
type PostgresConfig struct {
	DSN               string   `json:"dsn"`
	MaxOpenConns      int32    `json:"max_open_conns"`
	MinOpenConns      int32    `json:"min_open_conns"`
	MaxConnLifetime   Duration `json:"max_conn_lifetime"`
	MaxConnIdleTime   Duration `json:"max_conn_idle_time"`
	HealthCheckPeriod Duration `json:"health_check_period"`
	Schema            string   `json:"schema"`
	// EnablePreparedStatements 默认开启；jsonb 参数依赖扩展协议。
	EnablePreparedStatements *bool             `json:"enable_prepared_statements"`
	Transaction              TransactionConfig `json:"transaction"`
}

// TransactionConfig 映射 txmanager.Config。
type TransactionConfig struct {
	DefaultIsolation string   `json:"default_isolation"`
	DefaultTimeout   Duration `json:"default_timeout"`
	LockTimeout      Duration `json:"lock_timeout"`
	MaxRetries       int      `json:"max_retries"`
	MetricsEnabled   *bool    `json:"metrics_enabled"`
}

// IngestConfig 描述分片接收与流水线参数。
type IngestConfig struct {
	StagingDir     string   `json:"staging_dir"`
	MaxTotalSize   int64    `json:"max_total_size"`
	AutoAdvance    bool     `json:"auto_advance"`
	AdvanceTimeout Duration `json:"advance_timeout"`
	MaxSteps       int      `json:"max_steps"`
	TeeChunkSize   int      `json:"tee_chunk_size"`
}

// 对象存储后端。
const (
	StorageBackendGCS = "gcs"
	StorageBackendS3  = "s3"
)

// StorageConfig 描述持久化对象存储。
type StorageConfig struct {
	Backend string    `json:"backend"`
	Prefix  string    `json:"prefix"`
	GCS     GCSConfig `json:"gcs"`
	S3      S3Config  `json:"s3"`
}

// GCSConfig 描述 GCS 存储与签名 URL。
type GCSConfig struct {
	Bucket                string   `json:"bucket"`
	SignedURLTTL          Duration `json:"signed_url_ttl"`
	ServiceAccountKeyPath string   `json:"service_account_key_path"`
}

// S3Config 描述 S3 兼容存储。
type S3Config struct {
	Bucket          string `json:"bucket"`
	Region          string `json:"region"`
	Endpoint        string `json:"endpoint"`
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
	UsePathStyle    bool   `json:"use_path_style"`
	PartSizeMB      int64  `json:"part_size_mb"`
	Concurrency     int    `json:"concurrency"`
}

// VideoHostConfig 描述视频平台上传端点。
type VideoHostConfig struct {
	Enabled      bool     `json:"enabled"`
	BaseURL      string   `json:"base_url"`
	AccessToken  string   `json:"access_token"`
	Privacy      string   `json:"privacy"`
	InitTimeout  Duration `json:"init_timeout"`
	RetryMax     int      `json:"retry_max"`
	RetryWaitMax Duration `json:"retry_wait_max"`
}

// TranscoderConfig 描述 ffmpeg / ffprobe。
type TranscoderConfig struct {
	FFmpegPath  string   `json:"ffmpeg_path"`
	FFprobePath string   `json:"ffprobe_path"`
	Timeout     Duration `json:"timeout"`
}

// RecoveryConfig 描述恢复扫描。
type RecoveryConfig struct {
	OnBoot        *bool    `json:"on_boot"`
	Workers       int      `json:"workers"`
	PageSize      int      `json:"page_size"`
	RecordTimeout Duration `json:"record_timeout"`
}

// MessagingConfig 描述领域事件投递。
type MessagingConfig struct {
	PubSub PubSubConfig `json:"pubsub"`
	Outbox OutboxConfig `json:"outbox"`
}

// PubSubConfig 描述 Pub/Sub Topic。
type PubSubConfig struct {
	ProjectID        string `json:"project_id"`
	TopicID          string `json:"topic_id"`
	EmulatorEndpoint string `json:"emulator_endpoint"`
	EnableLogging    *bool  `json:"enable_logging"`
	EnableMetrics    *bool  `json:"enable_metrics"`
}

// OutboxConfig 描述发布循环参数。
type OutboxConfig struct {
	BatchSize      int      `json:"batch_size"`
	TickInterval   Duration `json:"tick_interval"`
	InitialBackoff Duration `json:"initial_backoff"`
	MaxBackoff     Duration `json:"max_backoff"`
	MaxAttempts    int      `json:"max_attempts"`
	PublishTimeout Duration `json:"publish_timeout"`
	Workers        int      `json:"workers"`
}

// ObservabilityConfig 描述追踪与指标导出。
type ObservabilityConfig struct {
	GlobalAttributes map[string]string `json:"global_attributes"`
	Tracing          *TracingConfig    `json:"tracing"`
	Metrics          *MetricsConfig    `json:"metrics"`
}

// TracingConfig 描述 trace 导出器。
type TracingConfig struct {
	Enabled       bool              `json:"enabled"`
	Exporter      string            `json:"exporter"`
	Endpoint      string            `json:"endpoint"`
	Headers       map[string]string `json:"headers"`
	Insecure      bool              `json:"insecure"`
	SamplingRatio float64           `json:"sampling_ratio"`
	BatchTimeout  Duration          `json:"batch_timeout"`
	ExportTimeout Duration          `json:"export_timeout"`
	Required      bool              `json:"required"`
}

// MetricsConfig 描述 OTel 指标导出器。
type MetricsConfig struct {
	Enabled             bool              `json:"enabled"`
	Exporter            string            `json:"exporter"`
	Endpoint            string            `json:"endpoint"`
	Headers             map[string]string `json:"headers"`
	Insecure            bool              `json:"insecure"`
	Interval            Duration          `json:"interval"`
	DisableRuntimeStats bool              `json:"disable_runtime_stats"`
	Required            bool              `json:"required"`
	GRPCEnabled         *bool             `json:"grpc_enabled"`
	GRPCIncludeHealth   bool              `json:"grpc_include_health"`
}
