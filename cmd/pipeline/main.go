package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/kunal/gpu-warp-router/pkg/config"
	"github.com/kunal/gpu-warp-router/pkg/loader"
	"github.com/kunal/gpu-warp-router/pkg/pipeline"
	"github.com/kunal/gpu-warp-router/pkg/worker"
)

func main() {
	cfg := config.Load()
	log.SetFlags(log.Ltime | log.Lmicroseconds)
	log.Printf("🏭 Pipeline starting: batch=%d, batches=%d, shard=%d/%d",
		cfg.PipelineBatchSize, cfg.PipelineBatches, cfg.ShardID, cfg.NumShards)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		src loader.Source
		err error
	)
	if cfg.LoaderSource == "" {
		src, err = pipeline.SyntheticSource(4*cfg.PipelineBatchSize, 1)
	} else {
		src, err = loader.Open(cfg.LoaderSource, cfg.AWSRegion)
	}
	if err != nil {
		log.Fatalf("❌ Failed to open source: %v", err)
	}

	l, err := loader.New(ctx, src, loader.Options{ShardID: cfg.ShardID, NumShards: cfg.NumShards})
	if err != nil {
		log.Fatalf("❌ Failed to list %s: %v", src.Name(), err)
	}
	log.Printf("📂 Source %s: %d samples", src.Name(), l.Size())

	exec, err := worker.NewExecutor(cfg)
	if err != nil {
		log.Fatalf("❌ Failed to create executor: %v", err)
	}

	p, err := pipeline.New(l, exec, pipeline.DefaultOptions(cfg.PipelineBatchSize))
	if err != nil {
		log.Fatalf("❌ Failed to create pipeline: %v", err)
	}

	var warped, skipped int
	err = p.Run(ctx, cfg.PipelineBatches, func(b *pipeline.Batch) error {
		warped += b.Warped
		skipped += len(b.Items) - b.Warped
		log.Printf("📦 Batch %d: warped=%d, mode=%s, blocks=%d, grid=%v, latency=%v",
			b.Index, b.Warped, b.Mode, b.Blocks, b.Grid, b.Elapsed)
		return nil
	})
	if err != nil {
		log.Fatalf("❌ Pipeline failed: %v", err)
	}
	log.Printf("✅ Done: %d samples warped, %d skipped", warped, skipped)
}
