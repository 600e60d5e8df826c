package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	warpv1 "github.com/kunal/gpu-warp-router/pkg/api/warpv1"
)

func main() {
	addr := flag.String("addr", "localhost:50051", "Router address")
	concurrency := flag.Int("concurrency", 50, "Number of concurrent clients")
	duration := flag.Duration("duration", 30*time.Second, "Test duration")
	inSize := flag.Int("in", 128, "Input image side in pixels")
	maxOut := flag.Int("max-out", 256, "Largest requested output side in pixels")
	uniform := flag.Bool("uniform", false, "Request the same output size every time")
	flag.Parse()

	log.Printf("🚀 Load test starting: addr=%s, concurrency=%d, duration=%v", *addr, *concurrency, *duration)

	conn, err := grpc.NewClient(*addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()

	client := warpv1.NewWarpServiceClient(conn)

	// One shared RGB input; only the requested geometry varies.
	img := make([]byte, *inSize**inSize*3)
	for i := range img {
		img[i] = byte(i)
	}

	var (
		totalRequests atomic.Int64
		totalErrors   atomic.Int64
		mu            sync.Mutex
		latencies     []time.Duration
		workerDist    = make(map[string]int)
		priorityDist  = make(map[string]int)
		modeDist      = make(map[string]int)
		batchSizes    []int
	)

	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	start := time.Now()
	var wg sync.WaitGroup

	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func(clientID int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(int64(clientID)))
			for {
				select {
				case <-ctx.Done():
					return
				default:
				}

				// 60% LOW, 30% MEDIUM, 10% HIGH
				var pri warpv1.Priority
				switch r := rng.Intn(100); {
				case r < 60:
					pri = warpv1.Priority_LOW
				case r < 90:
					pri = warpv1.Priority_MEDIUM
				default:
					pri = warpv1.Priority_HIGH
				}

				out := int32(*maxOut)
				if !*uniform {
					out = int32(16 + rng.Intn(*maxOut-15))
				}
				interp := warpv1.Interp_NEAREST
				if rng.Intn(2) == 0 {
					interp = warpv1.Interp_LINEAR
				}

				reqStart := time.Now()
				resp, err := client.Warp(ctx, &warpv1.WarpRequest{
					RequestId: fmt.Sprintf("req-%d-%d", clientID, totalRequests.Load()),
					Image:     img,
					Width:     int32(*inSize),
					Height:    int32(*inSize),
					Channels:  3,
					OutWidth:  out,
					OutHeight: out,
					Matrix:    rotateScale(*inSize, int(out), rng.Float64()*2*math.Pi),
					Interp:    interp,
					Priority:  pri,
					Timestamp: time.Now().UnixNano(),
				})
				if err != nil {
					totalErrors.Add(1)
					continue
				}

				elapsed := time.Since(reqStart)
				totalRequests.Add(1)

				mu.Lock()
				latencies = append(latencies, elapsed)
				workerDist[resp.WorkerId]++
				priorityDist[resp.PriorityUsed]++
				modeDist[resp.Mode]++
				batchSizes = append(batchSizes, int(resp.BatchSize))
				mu.Unlock()
			}
		}(i)
	}

	wg.Wait()
	elapsed := time.Since(start)

	mu.Lock()
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	mu.Unlock()

	total := totalRequests.Load()
	errors := totalErrors.Load()
	throughput := float64(total) / elapsed.Seconds()

	fmt.Println("\n" + "═══════════════════════════════════════════════════")
	fmt.Println("   🏁 LOAD TEST RESULTS")
	fmt.Println("═══════════════════════════════════════════════════")
	fmt.Printf("   Duration:      %v\n", elapsed.Round(time.Millisecond))
	fmt.Printf("   Concurrency:   %d\n", *concurrency)
	fmt.Printf("   Total Reqs:    %d\n", total)
	fmt.Printf("   Errors:        %d (%.1f%%)\n", errors, float64(errors)/float64(max(total+errors, 1))*100)
	fmt.Printf("   Throughput:    %.1f req/sec\n", throughput)
	fmt.Println()

	if len(latencies) > 0 {
		fmt.Println("   📊 Latency Percentiles:")
		fmt.Printf("      p50:  %v\n", latencies[len(latencies)*50/100])
		fmt.Printf("      p95:  %v\n", latencies[len(latencies)*95/100])
		fmt.Printf("      p99:  %v\n", latencies[len(latencies)*99/100])
		fmt.Printf("      max:  %v\n", latencies[len(latencies)-1])

		sum := 0
		for _, b := range batchSizes {
			sum += b
		}
		fmt.Printf("   📦 Mean batch size seen by a request: %.1f\n", float64(sum)/float64(len(batchSizes)))
	}

	printDist("🎯 Routing Distribution", workerDist, total)
	printDist("🏷️  Priority Distribution", priorityDist, total)
	printDist("🧩 Dispatch Mode Distribution", modeDist, total)
	fmt.Println("═══════════════════════════════════════════════════")
}

func printDist(title string, dist map[string]int, total int64) {
	fmt.Println()
	fmt.Println("   " + title + ":")
	keys := make([]string, 0, len(dist))
	for k := range dist {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		pct := float64(dist[k]) / float64(total) * 100
		fmt.Printf("      %s: %d (%.1f%%)\n", k, dist[k], pct)
	}
}

// rotateScale returns the forward transform that rotates an in×in image by
// theta about its centre and scales it onto an out×out canvas.
func rotateScale(in, out int, theta float64) []float64 {
	s := float64(out) / float64(in)
	c, n := math.Cos(theta)*s, math.Sin(theta)*s
	ci, co := float64(in)/2, float64(out)/2
	return []float64{
		c, -n, co - c*ci + n*ci,
		n, c, co - n*ci - c*ci,
	}
}
