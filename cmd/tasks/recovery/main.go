// Package main 提供恢复扫描的一次性命令：扫描所有未终结的上传记录并推进到终态。
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/bionicotaku/lingo-services-ingest/internal/infrastructure/configloader"
	"github.com/bionicotaku/lingo-services-ingest/internal/tasks/recovery"

	"github.com/go-kratos/kratos/v2/log"

	_ "go.uber.org/automaxprocs"
)

type recoveryTask struct {
	Scanner *recovery.Scanner
	Logger  log.Logger
}

func newRecoveryTask(scanner *recovery.Scanner, logger log.Logger) *recoveryTask {
	return &recoveryTask{Scanner: scanner, Logger: logger}
}

func main() {
	confFlag := flag.String("conf", "", "config path or directory, eg: -conf configs/config.yaml")
	flag.Parse()

	bundle, err := configloader.Build(configloader.Params{ConfPath: *confFlag})
	if err != nil {
		panic(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	task, cleanup, err := wireRecoveryTask(ctx, bundle)
	if err != nil {
		panic(err)
	}
	defer cleanup()
	helper := log.NewHelper(task.Logger)

	helper.Info("starting recovery scan")
	report, err := task.Scanner.ResumeAllStuck(ctx)
	if err != nil {
		helper.Errorf("recovery scan failed: %v", err)
		cleanup()
		os.Exit(1)
	}
	helper.Infof("recovery scan finished: scanned=%d completed=%d failed=%d regenerated=%d skipped=%d errors=%d duration=%s",
		report.Scanned, report.Completed, report.Failed, report.Regenerated, report.Skipped, report.Errors, report.Duration)
	if report.Errors > 0 {
		cleanup()
		os.Exit(2)
	}
}
