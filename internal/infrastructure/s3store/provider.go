package s3store

import (
	"context"
	"fmt"

	"github.com/bionicotaku/lingo-services-ingest/internal/infrastructure/configloader"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/go-kratos/kratos/v2/log"
)

// LoadAWSConfig 读取默认凭据链；配置了静态密钥时优先使用。
func LoadAWSConfig(ctx context.Context, cfg configloader.S3Config) (aws.Config, error) {
	if cfg.Region == "" {
		return aws.Config{}, fmt.Errorf("s3 region must not be empty")
	}
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	return awsCfg, nil
}

// NewClient 基于配置创建 S3 客户端，支持自定义 endpoint（MinIO 等）。
func NewClient(awsCfg aws.Config, cfg configloader.S3Config) *s3.Client {
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
}

// Provide 组装 Store，供 Wire 注入使用。
func Provide(ctx context.Context, cfg configloader.StorageConfig, logger log.Logger) (*Store, error) {
	awsCfg, err := LoadAWSConfig(ctx, cfg.S3)
	if err != nil {
		return nil, err
	}
	client := NewClient(awsCfg, cfg.S3)
	return New(client, s3.NewPresignClient(client), Options{
		Bucket:      cfg.S3.Bucket,
		Prefix:      cfg.Prefix,
		PartSizeMB:  cfg.S3.PartSizeMB,
		Concurrency: cfg.S3.Concurrency,
	}, logger), nil
}
