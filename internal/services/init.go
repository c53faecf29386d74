package services

import (
	"github.com/bionicotaku/lingo-services-ingest/internal/repositories"

	"github.com/google/wire"
)

// ProviderSet 暴露 Service 层构造器供 Wire 依赖注入使用。
var ProviderSet = wire.NewSet(
	NewIngestService,
	NewWorkflow,
	NewPhaseTable,
	NewDualUploader,
	NewVideoService,
	wire.Bind(new(VideoStore), new(*repositories.VideoRepository)),
	wire.Bind(new(OutboxWriter), new(*repositories.OutboxRepository)),
)
