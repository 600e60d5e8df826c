package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the router, worker and pipeline.
type Config struct {
	// Common
	WorkerID string

	// Router
	RouterPort      int
	WorkerEndpoints []string
	PollInterval    time.Duration
	DashboardPort   int

	// Worker
	WorkerPort   int
	MetricsPort  int
	MaxBatchSize int
	MaxWaitTime  time.Duration
	ExecutorType string // "device" or "reference"

	// Device and engine
	DeviceUnits    int
	DeviceMemoryMB int
	TileW, TileH   int
	UnitW, UnitH   int
	BorderMode     string // "constant", "clamp" or "wrap"
	BorderValue    int

	// Pipeline
	LoaderSource      string // dir://<path>, s3://<bucket>/<prefix>, or empty for synthetic samples
	AWSRegion         string
	ShardID           int
	NumShards         int
	PipelineBatchSize int
	PipelineBatches   int
}

// Load reads configuration from environment variables with sane defaults.
func Load() *Config {
	c := &Config{
		WorkerID:          envStr("WORKER_ID", "worker-0"),
		RouterPort:        envInt("ROUTER_PORT", 50051),
		WorkerPort:        envInt("WORKER_PORT", 50052),
		MetricsPort:       envInt("METRICS_PORT", 9090),
		DashboardPort:     envInt("DASHBOARD_PORT", 8080),
		MaxBatchSize:      envInt("MAX_BATCH_SIZE", 32),
		MaxWaitTime:       time.Duration(envInt("MAX_WAIT_MS", 50)) * time.Millisecond,
		PollInterval:      time.Duration(envInt("POLL_INTERVAL_MS", 500)) * time.Millisecond,
		ExecutorType:      envStr("EXECUTOR_TYPE", "device"),
		DeviceUnits:       envInt("DEVICE_UNITS", 0),
		DeviceMemoryMB:    envInt("DEVICE_MEMORY_MB", 512),
		TileW:             envInt("TILE_W", 64),
		TileH:             envInt("TILE_H", 64),
		UnitW:             envInt("UNIT_W", 32),
		UnitH:             envInt("UNIT_H", 32),
		BorderMode:        strings.ToLower(envStr("BORDER_MODE", "constant")),
		BorderValue:       envInt("BORDER_VALUE", 0),
		LoaderSource:      envStr("LOADER_SOURCE", ""),
		AWSRegion:         envStr("AWS_REGION", "us-west-2"),
		ShardID:           envInt("SHARD_ID", 0),
		NumShards:         envInt("NUM_SHARDS", 1),
		PipelineBatchSize: envInt("PIPELINE_BATCH_SIZE", 8),
		PipelineBatches:   envInt("PIPELINE_BATCHES", 10),
	}

	// Parse worker endpoints: "host1:port1,host2:port2,..."
	if eps := os.Getenv("WORKER_ENDPOINTS"); eps != "" {
		for _, ep := range strings.Split(eps, ",") {
			if ep = strings.TrimSpace(ep); ep != "" {
				c.WorkerEndpoints = append(c.WorkerEndpoints, ep)
			}
		}
	}

	return c
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
