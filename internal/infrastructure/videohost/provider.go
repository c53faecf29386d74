package videohost

import (
	"context"
	"fmt"

	"github.com/bionicotaku/lingo-services-ingest/internal/infrastructure/configloader"

	"github.com/go-kratos/kratos/v2/log"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const uploadScope = "https://www.googleapis.com/auth/youtube.upload"

// TokenSource 优先使用配置中的访问令牌，否则读取默认凭据。
func TokenSource(ctx context.Context, cfg configloader.VideoHostConfig) (oauth2.TokenSource, error) {
	if cfg.AccessToken != "" {
		return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.AccessToken, TokenType: "Bearer"}), nil
	}
	ts, err := google.DefaultTokenSource(ctx, uploadScope)
	if err != nil {
		return nil, fmt.Errorf("videohost credentials: %w", err)
	}
	return ts, nil
}

// Provide 在启用时构造 Client；未启用返回 nil，上传阶段只写对象存储。
func Provide(ctx context.Context, cfg configloader.VideoHostConfig, logger log.Logger) (*Client, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	ts, err := TokenSource(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return New(oauth2.NewClient(ctx, ts), Options{
		BaseURL:      cfg.BaseURL,
		Privacy:      cfg.Privacy,
		InitTimeout:  cfg.InitTimeout.Std(),
		RetryMax:     cfg.RetryMax,
		RetryWaitMax: cfg.RetryWaitMax.Std(),
	}, logger), nil
}
