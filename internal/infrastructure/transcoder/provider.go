package transcoder

import (
	"github.com/bionicotaku/lingo-services-ingest/internal/infrastructure/configloader"

	"github.com/go-kratos/kratos/v2/log"
)

// Provide 供 Wire 注入使用。
func Provide(cfg configloader.TranscoderConfig, logger log.Logger) *FFmpeg {
	return New(Options{
		FFmpegPath:  cfg.FFmpegPath,
		FFprobePath: cfg.FFprobePath,
		Timeout:     cfg.Timeout.Std(),
	}, logger)
}
