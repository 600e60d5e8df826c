package router

import (
	"context"
	"log"
	"sync"
	"time"

	warpv1 "github.com/kunal/gpu-warp-router/pkg/api/warpv1"
)

const pollTimeout = 200 * time.Millisecond

// Poller periodically fetches metrics from all registered workers.
type Poller struct {
	registry *Registry
	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func NewPoller(registry *Registry, interval time.Duration) *Poller {
	return &Poller{
		registry: registry,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the polling loop.
func (p *Poller) Start() {
	p.wg.Add(1)
	go p.loop()
	log.Printf("📡 Poller started: interval=%v", p.interval)
}

// Stop gracefully shuts down the poller.
func (p *Poller) Stop() {
	close(p.stopCh)
	p.wg.Wait()
}

func (p *Poller) loop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	// Do an immediate first poll
	p.PollAll()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.PollAll()
		}
	}
}

// PollAll fetches metrics from every worker in parallel and waits for all
// of them.
func (p *Poller) PollAll() {
	var wg sync.WaitGroup
	for _, w := range p.registry.GetAll() {
		if w.MetricsClient == nil {
			continue
		}
		wg.Add(1)
		go func(entry WorkerEntry) {
			defer wg.Done()

			ctx, cancel := context.WithTimeout(context.Background(), pollTimeout)
			defer cancel()

			metrics, err := entry.MetricsClient.GetMetrics(ctx, &warpv1.MetricsRequest{})
			if err != nil {
				p.registry.MarkFailed(entry.Address)
				return
			}
			p.registry.UpdateMetrics(entry.Address, metrics)
		}(w)
	}
	wg.Wait()
}
