//go:build wireinject
// +build wireinject

// Package main 为 ingest 服务提供 Wire 依赖注入定义。
package main

import (
	"context"

	"github.com/bionicotaku/lingo-services-ingest/internal/infrastructure/backends"
	"github.com/bionicotaku/lingo-services-ingest/internal/infrastructure/configloader"
	"github.com/bionicotaku/lingo-services-ingest/internal/infrastructure/database"
	"github.com/bionicotaku/lingo-services-ingest/internal/repositories"
	"github.com/bionicotaku/lingo-services-ingest/internal/server"
	"github.com/bionicotaku/lingo-services-ingest/internal/services"
	"github.com/bionicotaku/lingo-services-ingest/internal/tasks/outbox"
	"github.com/bionicotaku/lingo-services-ingest/internal/tasks/recovery"

	"github.com/bionicotaku/lingo-utils/txmanager"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:generate go run github.com/google/wire/cmd/wire

func wireApp(context.Context, *configloader.Bundle, log.Logger) (*ingestApp, func(), error) {
	panic(wire.Build(
		configloader.ProviderSet,
		database.ProviderSet,
		txmanager.NewComponent,
		txmanager.ProvideManager,
		repositories.ProviderSet,
		backends.ProviderSet,
		services.ProviderSet,
		recovery.ProviderSet,
		backends.ProvidePublisher,
		outbox.ProvidePublisherTask,
		wire.Bind(new(server.Pinger), new(*pgxpool.Pool)),
		server.ProviderSet,
		newIngestApp,
	))
}
