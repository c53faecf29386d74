package outbox

import (
	"github.com/bionicotaku/lingo-services-ingest/internal/repositories"

	"github.com/bionicotaku/lingo-utils/gcpubsub"
	"github.com/bionicotaku/lingo-utils/txmanager"
	"github.com/go-kratos/kratos/v2/log"
	"go.opentelemetry.io/otel"
)

// ProvidePublisherTask 将 Outbox 仓储与 Pub/Sub 发布器包装为发布任务。
// 未配置 Topic 时返回 nil，调用方应跳过启动。
func ProvidePublisherTask(
	repo *repositories.OutboxRepository,
	publisher gcpubsub.Publisher,
	pubCfg gcpubsub.Config,
	txm txmanager.Manager,
	cfg Config,
	logger log.Logger,
) *PublisherTask {
	if repo == nil || publisher == nil || pubCfg.TopicID == "" {
		return nil
	}
	meter := otel.GetMeterProvider().Meter("lingo-services-ingest.outbox")
	return NewPublisherTask(repo, publisher, txm, cfg, logger, meter)
}
