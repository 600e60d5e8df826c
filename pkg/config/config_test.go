package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	c := Load()
	if c.MaxBatchSize != 32 || c.MaxWaitTime != 50*time.Millisecond {
		t.Errorf("batching defaults = %d, %v", c.MaxBatchSize, c.MaxWaitTime)
	}
	if c.TileW != 64 || c.TileH != 64 || c.UnitW != 32 || c.UnitH != 32 {
		t.Errorf("engine defaults = tile %dx%d unit %dx%d", c.TileW, c.TileH, c.UnitW, c.UnitH)
	}
	if c.ExecutorType != "device" || c.BorderMode != "constant" || c.NumShards != 1 {
		t.Errorf("defaults = %+v", c)
	}
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("WORKER_ENDPOINTS", "a:1, b:2,,c:3")
	t.Setenv("TILE_W", "128")
	t.Setenv("MAX_WAIT_MS", "5")
	t.Setenv("BORDER_MODE", "Clamp")
	t.Setenv("DEVICE_UNITS", "not a number")
	t.Setenv("LOADER_SOURCE", "s3://bucket/train")

	c := Load()
	if len(c.WorkerEndpoints) != 3 || c.WorkerEndpoints[1] != "b:2" {
		t.Errorf("WorkerEndpoints = %q", c.WorkerEndpoints)
	}
	if c.TileW != 128 || c.MaxWaitTime != 5*time.Millisecond {
		t.Errorf("TileW = %d, MaxWaitTime = %v", c.TileW, c.MaxWaitTime)
	}
	if c.BorderMode != "clamp" {
		t.Errorf("BorderMode = %q", c.BorderMode)
	}
	if c.DeviceUnits != 0 {
		t.Errorf("unparsable DEVICE_UNITS gave %d, want the default", c.DeviceUnits)
	}
	if c.LoaderSource != "s3://bucket/train" {
		t.Errorf("LoaderSource = %q", c.LoaderSource)
	}
}
