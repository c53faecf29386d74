// Package main 启动 ingest 服务：HTTP/gRPC 探活、Outbox 发布循环与启动时的恢复扫描。
package main

import (
	"context"
	"flag"
	"sync"
	"time"

	"github.com/bionicotaku/lingo-services-ingest/internal/infrastructure/configloader"
	loginfra "github.com/bionicotaku/lingo-services-ingest/internal/infrastructure/logger"
	"github.com/bionicotaku/lingo-services-ingest/internal/services"
	"github.com/bionicotaku/lingo-services-ingest/internal/tasks/outbox"
	"github.com/bionicotaku/lingo-services-ingest/internal/tasks/recovery"

	"github.com/bionicotaku/lingo-utils/observability"
	"github.com/go-kratos/kratos/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/transport/grpc"
	"github.com/go-kratos/kratos/v2/transport/http"

	_ "go.uber.org/automaxprocs"
)

// go build -ldflags "-X main.Version=x.y.z"
var (
	// Name is the name of the compiled software.
	Name string
	// Version is the version of the compiled software.
	Version string
)

// ingestApp 聚合进程内的长驻组件。
type ingestApp struct {
	App      *kratos.App
	Logger   log.Logger
	Ingest   *services.IngestService
	Scanner  *recovery.Scanner
	Outbox   *outbox.PublisherTask
	Recovery configloader.RecoveryConfig
}

func newIngestApp(
	logger log.Logger,
	meta configloader.ServiceMetadata,
	cfg *configloader.Config,
	hs *http.Server,
	gs *grpc.Server,
	ingest *services.IngestService,
	scanner *recovery.Scanner,
	task *outbox.PublisherTask,
) *ingestApp {
	name := meta.Name
	if Name != "" {
		name = Name
	}
	version := meta.Version
	if Version != "" {
		version = Version
	}
	app := kratos.New(
		kratos.ID(meta.InstanceID),
		kratos.Name(name),
		kratos.Version(version),
		kratos.Metadata(map[string]string{"environment": meta.Environment}),
		kratos.Logger(logger),
		kratos.Server(hs, gs),
	)
	return &ingestApp{
		App:      app,
		Logger:   logger,
		Ingest:   ingest,
		Scanner:  scanner,
		Outbox:   task,
		Recovery: cfg.Recovery,
	}
}

func main() {
	confFlag := flag.String("conf", "", "config path or directory, eg: -conf configs/config.yaml")
	flag.Parse()

	bundle, err := configloader.Build(configloader.Params{ConfPath: *confFlag})
	if err != nil {
		panic(err)
	}

	logger, err := loginfra.NewLogger(loginfra.FromMetadata(bundle.Service))
	if err != nil {
		panic(err)
	}
	helper := log.NewHelper(logger)

	ctx := context.Background()
	obsShutdown, err := observability.Init(ctx, bundle.ObsConfig,
		observability.WithLogger(logger),
		observability.WithServiceName(bundle.Service.Name),
		observability.WithServiceVersion(bundle.Service.Version),
		observability.WithEnvironment(bundle.Service.Environment),
	)
	if err != nil {
		panic(err)
	}

	defer func() {
		if obsShutdown == nil {
			return
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := obsShutdown(shutdownCtx); err != nil {
			helper.Warnf("shutdown observability: %v", err)
		}
	}()

	app, cleanup, err := wireApp(ctx, bundle, logger)
	if err != nil {
		panic(err)
	}
	defer cleanup()

	bgCtx, stopBackground := context.WithCancel(ctx)
	var wg sync.WaitGroup

	if app.Outbox != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := app.Outbox.Run(bgCtx); err != nil && bgCtx.Err() == nil {
				helper.Errorf("outbox publisher stopped unexpectedly: %v", err)
			}
		}()
	} else {
		helper.Warn("outbox publisher disabled (messaging.pubsub.topic_id not configured)")
	}

	if app.Recovery.RecoverOnBoot() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			report, err := app.Scanner.ResumeAllStuck(bgCtx)
			if err != nil {
				helper.Errorf("boot recovery scan failed: %v", err)
				return
			}
			helper.Infof("boot recovery scan finished: scanned=%d completed=%d failed=%d regenerated=%d skipped=%d errors=%d",
				report.Scanned, report.Completed, report.Failed, report.Regenerated, report.Skipped, report.Errors)
		}()
	}

	runErr := app.App.Run()

	stopBackground()
	wg.Wait()
	app.Ingest.Wait()

	if runErr != nil {
		helper.Errorf("ingest service stopped: %v", runErr)
		panic(runErr)
	}
}
