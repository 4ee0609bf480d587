package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/coocood/freecache"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/infigaming-com/go-pubsub-worker/cache"
	"github.com/infigaming-com/go-pubsub-worker/observability/metrics"
	"github.com/infigaming-com/go-pubsub-worker/pubsub"
	"github.com/infigaming-com/go-pubsub-worker/pubsub/driver/google"
	"github.com/infigaming-com/go-pubsub-worker/uid"
	"github.com/infigaming-com/go-pubsub-worker/util"
	"github.com/infigaming-com/go-pubsub-worker/web"
)

type Job struct {
	Kind string `json:"kind"`
	Text string `json:"text"`
}

type Result struct {
	JobID  pubsub.TaskID `json:"job_id"`
	Output string        `json:"output"`
}

func main() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	lg, sync := util.NewLogger(cfg.LogLevel)
	defer sync()
	lg = lg.With(zap.String("instance", uuid.NewString()))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, lg); err != nil {
		lg.Error("worker stopped with error", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *Config, lg *zap.Logger) error {
	transport, err := google.New(ctx, google.Config{ProjectID: cfg.ProjectID, Logger: lg})
	if err != nil {
		return err
	}

	opts := []pubsub.Option{pubsub.WithConfig(cfg.Backend), pubsub.WithLogger(lg)}

	if cfg.Redis.Addr != "" {
		redisClient, err := util.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer redisClient.Close()
		ids, err := uid.NewRedisCounter(redisClient, cfg.Subscription)
		if err != nil {
			return err
		}
		opts = append(opts,
			pubsub.WithIDGenerator(ids),
			pubsub.WithDeduplication(cache.NewRedisCache(lg, redisClient, "worker"), cfg.DedupeTTL))
	} else if cfg.DedupeTTL > 0 {
		opts = append(opts,
			pubsub.WithDeduplication(cache.NewFreeCache(freecache.NewCache(32*1024*1024)), cfg.DedupeTTL))
	}

	if cfg.OTLPEndpoint != "" {
		exporter, err := metrics.NewMetricExporter(
			metrics.WithServiceName("pubsub-worker"),
			metrics.WithOTLPEndpoint(cfg.OTLPEndpoint),
		)
		if err != nil {
			return err
		}
		defer exporter.Close(context.Background())
		hook, err := metrics.NewPubSubMetrics(exporter.Meter())
		if err != nil {
			return err
		}
		opts = append(opts, pubsub.WithMetrics(hook))
	}

	jobs, err := pubsub.New[Job](ctx, transport, "", cfg.Subscription, opts...)
	if err != nil {
		return err
	}
	results, err := pubsub.New[Result](ctx, transport, cfg.ResultTopic, "", pubsub.WithLogger(lg))
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := errors.Join(jobs.Close(closeCtx), results.Close(closeCtx)); err != nil {
			lg.Error("failed to close backends", zap.Error(err))
		}
	}()

	worker := pubsub.NewWorker(jobs, func(ctx context.Context, task *pubsub.Task[Job]) error {
		output, err := process(task.Payload)
		if err != nil {
			return err
		}
		results.Sink().Accept(&pubsub.Task[Result]{
			Payload: Result{JobID: task.ID, Output: output},
			ID:      task.ID,
		})
		return nil
	}, pubsub.WithWorkerConcurrency(cfg.Concurrency))

	server := web.NewServer(lg, web.WithPort(cfg.Port), web.WithHealth(jobs.Health))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer jobs.Shutdown()
		return worker.Run(gctx)
	})
	g.Go(func() error {
		return server.Run(gctx)
	})
	g.Go(func() error {
		return flushLoop(gctx, results.Sink(), cfg.FlushEvery, lg)
	})
	return g.Wait()
}

// flushLoop drains the result sink periodically. Failed batches are logged and not retried.
func flushLoop(ctx context.Context, sink *pubsub.Sink[Result], every time.Duration, lg *zap.Logger) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := sink.Drain(); err != nil {
				lg.Error("failed to publish results", zap.Error(err))
			}
		}
	}
}

func process(job Job) (string, error) {
	switch job.Kind {
	case "upper":
		return strings.ToUpper(job.Text), nil
	case "reverse":
		r := []rune(job.Text)
		for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
			r[i], r[j] = r[j], r[i]
		}
		return string(r), nil
	default:
		return "", fmt.Errorf("unknown job kind %q", job.Kind)
	}
}
