//go:build wireinject
// +build wireinject

// Package main 为恢复扫描 CLI 提供 Wire 依赖注入定义。
package main

import (
	"context"

	"github.com/bionicotaku/lingo-services-ingest/internal/infrastructure/backends"
	"github.com/bionicotaku/lingo-services-ingest/internal/infrastructure/configloader"
	"github.com/bionicotaku/lingo-services-ingest/internal/infrastructure/database"
	loginfra "github.com/bionicotaku/lingo-services-ingest/internal/infrastructure/logger"
	"github.com/bionicotaku/lingo-services-ingest/internal/repositories"
	"github.com/bionicotaku/lingo-services-ingest/internal/services"
	"github.com/bionicotaku/lingo-services-ingest/internal/tasks/recovery"

	"github.com/bionicotaku/lingo-utils/txmanager"
	"github.com/google/wire"
)

//go:generate go run github.com/google/wire/cmd/wire

func wireRecoveryTask(context.Context, *configloader.Bundle) (*recoveryTask, func(), error) {
	panic(wire.Build(
		configloader.ProviderSet,
		loginfra.ProviderSet,
		database.ProviderSet,
		txmanager.NewComponent,
		txmanager.ProvideManager,
		repositories.ProviderSet,
		backends.ProviderSet,
		services.ProviderSet,
		recovery.ProviderSet,
		newRecoveryTask,
	))
}
