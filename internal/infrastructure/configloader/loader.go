package configloader

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/bionicotaku/lingo-utils/gclog"
	obswire "github.com/bionicotaku/lingo-utils/observability"
	txconfig "github.com/bionicotaku/lingo-utils/txmanager"
	"github.com/go-kratos/kratos/v2/config"
	"github.com/go-kratos/kratos/v2/config/file"
	"github.com/joho/godotenv"
)

const (
	defaultConfPath    = "configs"
	defaultServiceName = "lingo-services-ingest"
	defaultVersion     = "dev"
	defaultEnvironment = "development"

	envConfPath       = "CONF_PATH"
	envServiceName    = "SERVICE_NAME"
	envServiceVersion = "SERVICE_VERSION"
	envAppEnv         = "APP_ENV"
	envDatabaseURL    = "DATABASE_URL"
	envPort           = "PORT"
	envGRPCPort       = "GRPC_PORT"
	envStagingDir     = "STAGING_DIR"
	envStorageBucket  = "STORAGE_BUCKET"
	envVideoHostToken = "VIDEO_HOST_TOKEN"
)

var envFileNames = []string{".env.local", ".env"}

// Params 包含构造配置 Bundle 所需的运行时输入参数。
type Params struct {
	ConfPath string
}

// ServiceMetadata 保存服务标识信息，供日志组件使用。
type ServiceMetadata struct {
	Name        string
	Version     string
	Environment string
	InstanceID  string
}

// ObservabilityInfo 将服务元信息转换为 observability.ServiceInfo。
func (m ServiceMetadata) ObservabilityInfo() obswire.ServiceInfo {
	return obswire.ServiceInfo{
		Name:        m.Name,
		Version:     m.Version,
		Environment: m.Environment,
	}
}

// LoggerConfig 将服务元信息转换为 gclog.Config。
func (m ServiceMetadata) LoggerConfig() gclog.Config {
	labels := map[string]string{}
	if m.InstanceID != "" {
		labels["service.id"] = m.InstanceID
	}
	return gclog.Config{
		Service:              m.Name,
		Version:              m.Version,
		Environment:          m.Environment,
		InstanceID:           m.InstanceID,
		StaticLabels:         labels,
		EnableSourceLocation: true,
	}
}

// Bundle 聚合加载后的配置与派生结构，供 Wire 注入。
type Bundle struct {
	Config    *Config
	Service   ServiceMetadata
	TxConfig  txconfig.Config
	ObsConfig obswire.ObservabilityConfig
}

// BuildError 捕获配置构建过程中的上下文错误信息。
type BuildError struct {
	Stage string
	Path  string
	Err   error
}

// Error 实现 error 接口。
func (e BuildError) Error() string {
	if e.Stage == "" {
		return e.Err.Error()
	}
	if e.Path != "" {
		return fmt.Sprintf("config %s at %q: %v", e.Stage, e.Path, e.Err)
	}
	return fmt.Sprintf("config %s: %v", e.Stage, e.Err)
}

// Unwrap 暴露底层错误。
func (e BuildError) Unwrap() error {
	return e.Err
}

// Build 加载配置文件并构建 Bundle。
//
// 流程：
// 1. 解析配置路径并加载 .env 文件
// 2. 使用 kratos config 读取 YAML 并扫描到 Config
// 3. 应用环境变量覆盖
// 4. 填充默认值并校验
func Build(params Params) (*Bundle, error) {
	confPath := ResolveConfPath(params.ConfPath)
	loadEnvFiles(confPath)

	cfg, err := load(confPath)
	if err != nil {
		return nil, err
	}
	return &Bundle{
		Config:    cfg,
		Service:   buildServiceMetadata(),
		TxConfig:  toTxManagerConfig(cfg.Data.Postgres.Transaction),
		ObsConfig: toObservabilityConfig(cfg.Observability),
	}, nil
}

// ResolveConfPath 优先级：显式路径 > CONF_PATH > 默认目录。
func ResolveConfPath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if env := os.Getenv(envConfPath); env != "" {
		return env
	}
	return defaultConfPath
}

func load(confPath string) (*Config, error) {
	c := config.New(config.WithSource(file.NewSource(confPath)))
	if err := c.Load(); err != nil {
		return nil, BuildError{Stage: "load", Path: confPath, Err: err}
	}
	defer c.Close()

	var cfg Config
	if err := c.Scan(&cfg); err != nil {
		return nil, BuildError{Stage: "scan", Path: confPath, Err: err}
	}
	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, BuildError{Stage: "validate", Path: confPath, Err: err}
	}
	return &cfg, nil
}

// applyEnvOverrides 用环境变量覆盖部署相关字段，空值不覆盖。
//
//   - DATABASE_URL: data.postgres.dsn
//   - PORT: server.http.addr 的端口（Cloud Run 动态端口）
//   - GRPC_PORT: server.grpc.addr 的端口
//   - STAGING_DIR: ingest.staging_dir
//   - STORAGE_BUCKET: 当前后端的 bucket
//   - VIDEO_HOST_TOKEN: video_host.access_token
func applyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}
	if dsn := os.Getenv(envDatabaseURL); dsn != "" {
		cfg.Data.Postgres.DSN = dsn
	}
	if port := os.Getenv(envPort); port != "" {
		cfg.Server.HTTP.Addr = replacePort(cfg.Server.HTTP.Addr, port)
	}
	if port := os.Getenv(envGRPCPort); port != "" {
		cfg.Server.GRPC.Addr = replacePort(cfg.Server.GRPC.Addr, port)
	}
	if dir := os.Getenv(envStagingDir); dir != "" {
		cfg.Ingest.StagingDir = dir
	}
	if bucket := os.Getenv(envStorageBucket); bucket != "" {
		if strings.EqualFold(cfg.Storage.Backend, StorageBackendS3) {
			cfg.Storage.S3.Bucket = bucket
		} else {
			cfg.Storage.GCS.Bucket = bucket
		}
	}
	if token := os.Getenv(envVideoHostToken); token != "" {
		cfg.VideoHost.AccessToken = token
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.HTTP.Network == "" {
		cfg.Server.HTTP.Network = "tcp"
	}
	if cfg.Server.HTTP.Addr == "" {
		cfg.Server.HTTP.Addr = "0.0.0.0:8080"
	}
	if cfg.Server.GRPC.Network == "" {
		cfg.Server.GRPC.Network = "tcp"
	}
	if cfg.Server.GRPC.Addr == "" {
		cfg.Server.GRPC.Addr = "0.0.0.0:9000"
	}
	if cfg.Ingest.StagingDir == "" {
		cfg.Ingest.StagingDir = filepath.Join(os.TempDir(), "lingo-ingest")
	}
	cfg.Storage.Backend = strings.ToLower(strings.TrimSpace(cfg.Storage.Backend))
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = StorageBackendGCS
	}
	if cfg.Transcoder.FFmpegPath == "" {
		cfg.Transcoder.FFmpegPath = "ffmpeg"
	}
	if cfg.Transcoder.FFprobePath == "" {
		cfg.Transcoder.FFprobePath = "ffprobe"
	}
}

// Validate 校验必填字段与取值范围。
func (c *Config) Validate() error {
	var problems []string
	if c.Data.Postgres.DSN == "" {
		problems = append(problems, "data.postgres.dsn is required (set DATABASE_URL)")
	}
	if c.Ingest.MaxTotalSize < 0 {
		problems = append(problems, "ingest.max_total_size must not be negative")
	}
	switch c.Storage.Backend {
	case StorageBackendGCS:
		if c.Storage.GCS.Bucket == "" {
			problems = append(problems, "storage.gcs.bucket is required")
		}
	case StorageBackendS3:
		if c.Storage.S3.Bucket == "" {
			problems = append(problems, "storage.s3.bucket is required")
		}
		if c.Storage.S3.Region == "" {
			problems = append(problems, "storage.s3.region is required")
		}
	default:
		problems = append(problems, fmt.Sprintf("storage.backend %q is not supported", c.Storage.Backend))
	}
	if c.VideoHost.Enabled && c.VideoHost.BaseURL == "" {
		problems = append(problems, "video_host.base_url is required when enabled")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%s", strings.Join(problems, "; "))
	}
	return nil
}

func buildServiceMetadata() ServiceMetadata {
	name := os.Getenv(envServiceName)
	if name == "" {
		name = defaultServiceName
	}
	version := os.Getenv(envServiceVersion)
	if version == "" {
		version = defaultVersion
	}
	env := os.Getenv(envAppEnv)
	if env == "" {
		env = defaultEnvironment
	}
	host, _ := os.Hostname()
	return ServiceMetadata{Name: name, Version: version, Environment: env, InstanceID: host}
}

// loadEnvFiles best-effort 加载 .env 文件，失败时忽略。
func loadEnvFiles(confPath string) {
	files := envFileCandidates(confPath)
	if len(files) == 0 {
		return
	}
	_ = godotenv.Load(files...)
}

// envFileCandidates 依次在配置目录与工作目录中查找 .env.local 和 .env。
// godotenv 不覆盖已设置的变量，因此列表靠前的文件优先。
func envFileCandidates(confPath string) []string {
	seen := make(map[string]struct{})
	var files []string
	for _, dir := range orderedDirs(confPath) {
		for _, name := range envFileNames {
			candidate := filepath.Join(dir, name)
			if _, err := os.Stat(candidate); err != nil {
				continue
			}
			if _, ok := seen[candidate]; ok {
				continue
			}
			files = append(files, candidate)
			seen[candidate] = struct{}{}
		}
	}
	return files
}

func orderedDirs(confPath string) []string {
	var dirs []string
	appendUnique := func(path string) {
		if path == "" {
			return
		}
		clean := filepath.Clean(path)
		for _, existing := range dirs {
			if existing == clean {
				return
			}
		}
		dirs = append(dirs, clean)
	}
	if confPath != "" {
		if info, err := os.Stat(confPath); err == nil {
			if info.IsDir() {
				appendUnique(confPath)
			} else {
				appendUnique(filepath.Dir(confPath))
			}
		}
	}
	if cwd, err := os.Getwd(); err == nil {
		appendUnique(cwd)
	}
	return dirs
}

// replacePort 替换地址中的端口并保留 host：
//   - "0.0.0.0:9090" -> "0.0.0.0:8080"
//   - "[::1]:9090" -> "[::1]:8080"
func replacePort(addr, newPort string) string {
	if addr == "" {
		return "0.0.0.0:" + newPort
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return "0.0.0.0:" + newPort
	}
	return net.JoinHostPort(host, newPort)
}

func toTxManagerConfig(tx TransactionConfig) txconfig.Config {
	cfg := txconfig.Config{
		DefaultIsolation: tx.DefaultIsolation,
		DefaultTimeout:   tx.DefaultTimeout.Std(),
		LockTimeout:      tx.LockTimeout.Std(),
		MaxRetries:       tx.MaxRetries,
	}
	if tx.MetricsEnabled != nil {
		v := *tx.MetricsEnabled
		cfg.MetricsEnabled = &v
	}
	return cfg
}

// toObservabilityConfig 转换为 observability 包的规范化结构，gRPC 指标默认开启。
func toObservabilityConfig(src ObservabilityConfig) obswire.ObservabilityConfig {
	cfg := obswire.ObservabilityConfig{GlobalAttributes: cloneStringMap(src.GlobalAttributes)}
	if tr := src.Tracing; tr != nil {
		cfg.Tracing = &obswire.TracingConfig{
			Enabled:       tr.Enabled,
			Exporter:      tr.Exporter,
			Endpoint:      tr.Endpoint,
			Headers:       cloneStringMap(tr.Headers),
			Insecure:      tr.Insecure,
			SamplingRatio: tr.SamplingRatio,
			BatchTimeout:  tr.BatchTimeout.Std(),
			ExportTimeout: tr.ExportTimeout.Std(),
			Required:      tr.Required,
		}
	}
	if mt := src.Metrics; mt != nil {
		grpcEnabled := true
		if mt.GRPCEnabled != nil {
			grpcEnabled = *mt.GRPCEnabled
		}
		cfg.Metrics = &obswire.MetricsConfig{
			Enabled:             mt.Enabled,
			Exporter:            mt.Exporter,
			Endpoint:            mt.Endpoint,
			Headers:             cloneStringMap(mt.Headers),
			Insecure:            mt.Insecure,
			Interval:            mt.Interval.Std(),
			DisableRuntimeStats: mt.DisableRuntimeStats,
			Required:            mt.Required,
			GRPCEnabled:         grpcEnabled,
			GRPCIncludeHealth:   mt.GRPCIncludeHealth,
		}
	}
	return cfg
}

func cloneStringMap(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
