package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"cryptomonitor/config"
	"cryptomonitor/internal/metrics"
	"cryptomonitor/logger"
	"cryptomonitor/scheduler"
)

func main() {
	os.Exit(run())
}

func run() int {
	log := logger.GetLogger()

	envDir := flag.String("env-dir", ".", "Directory holding .env, .env.dev and .env.prod")
	flag.Parse()

	cfg, err := config.Load(*envDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cryptomonitor: %v\n", err)
		log.WithError(err).WithEnv("TARGET_ENV").Error("failed to load configuration")
		return 1
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		fmt.Fprintf(os.Stderr, "cryptomonitor: %v\n", err)
		log.WithError(err).Error("failed to configure logger")
		return 1
	}

	log.WithFields(logger.Fields{
		"target_env":     cfg.TargetEnv,
		"workdir":        cfg.WorkDir,
		"currency":       cfg.Currency,
		"file_archive":   cfg.FileArchive,
		"influx_archive": cfg.InfluxArchive,
		"s3_archive":     cfg.S3Archive,
	}).Info("starting cryptomonitor")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cfg.CloudWatch.Enabled {
		if err := logger.InitCloudWatch(ctx, cfg.S3.Region, cfg.CloudWatch.Namespace, cfg.CloudWatch.Dashboard); err != nil {
			log.WithComponent("cloudwatch").WithError(err).Warn("CloudWatch metrics disabled")
		}
	}

	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, 30*time.Second)
	}

	var wg sync.WaitGroup
	if cfg.MetricsAddr != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := metrics.Serve(ctx, cfg.MetricsAddr); err != nil {
				log.WithComponent("metrics").WithError(err).Warn("metrics listener stopped")
			}
		}()
	}

	sched := scheduler.New(scheduler.EnvLoader(*envDir), scheduler.NewDefaultFactory())
	err = sched.Run(ctx)
	cancel()
	wg.Wait()

	if err != nil {
		var fatal *scheduler.FatalError
		if errors.As(err, &fatal) {
			fmt.Fprintf(os.Stderr, "cryptomonitor: %s: %v\n", fatal.Op, fatal.Err)
		} else {
			fmt.Fprintf(os.Stderr, "cryptomonitor: %v\n", err)
		}
		log.WithError(err).Error("cryptomonitor stopped")
		return 1
	}

	log.Info("cryptomonitor stopped")
	return 0
}
