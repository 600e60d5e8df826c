// Package pipeline feeds encoded samples from a loader through a batch feed
// into a warp executor, the way a training input pipeline applies random
// geometric augmentation on the device.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"math"
	"math/rand"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/image/math/f64"
	"golang.org/x/sync/errgroup"

	"github.com/kunal/gpu-warp-router/pkg/device"
	"github.com/kunal/gpu-warp-router/pkg/feed"
	"github.com/kunal/gpu-warp-router/pkg/imageio"
	"github.com/kunal/gpu-warp-router/pkg/loader"
	"github.com/kunal/gpu-warp-router/pkg/warp"
	"github.com/kunal/gpu-warp-router/pkg/worker/executor"
)

// Options configures the augmentation.
type Options struct {
	BatchSize int

	// MinOut and MaxOut bound each side of a randomly chosen output size.
	// Equal values give every sample the same output size.
	MinOut, MaxOut int

	// MaxAngle is the largest rotation in radians; MaxScale the largest
	// zoom factor (at least 1).
	MaxAngle float64
	MaxScale float64

	Seed int64
}

// DefaultOptions returns moderate augmentation for batches of batchSize.
func DefaultOptions(batchSize int) Options {
	return Options{
		BatchSize: batchSize,
		MinOut:    32,
		MaxOut:    224,
		MaxAngle:  math.Pi / 6,
		MaxScale:  1.25,
		Seed:      1,
	}
}

func (o Options) validate() error {
	switch {
	case o.BatchSize <= 0:
		return errors.Errorf("pipeline: batch size %d is not positive", o.BatchSize)
	case o.MinOut <= 0 || o.MaxOut < o.MinOut:
		return errors.Errorf("pipeline: output bounds [%d, %d] are invalid", o.MinOut, o.MaxOut)
	case o.MaxScale < 1:
		return errors.Errorf("pipeline: max scale %v is below 1", o.MaxScale)
	}
	return nil
}

// Item is one sample of a processed batch.
type Item struct {
	Origin string
	Skip   bool // cached downstream; passed through without warping
	Image  []byte
	Shape  warp.TensorShape
}

// Batch is a processed batch with its dispatch statistics.
type Batch struct {
	Index   int
	Items   []Item
	Warped  int
	Mode    warp.Mode
	Blocks  int
	Grid    device.Dim3
	Elapsed time.Duration
}

// Pipeline reads, decodes and warps batches.
type Pipeline struct {
	loader *loader.Loader
	exec   executor.WarpExecutor
	opts   Options
	rng    *rand.Rand
}

// New creates a pipeline reading from l and warping on exec.
func New(l *loader.Loader, exec executor.WarpExecutor, opts Options) (*Pipeline, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return &Pipeline{
		loader: l,
		exec:   exec,
		opts:   opts,
		rng:    rand.New(rand.NewSource(opts.Seed)),
	}, nil
}

// Run processes n batches, calling emit for each one in order. A loader
// goroutine keeps the feed one batch ahead of the device.
func (p *Pipeline) Run(ctx context.Context, n int, emit func(*Batch) error) error {
	f, err := feed.New[loader.Sample](p.opts.BatchSize)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for i := 0; ; i = (i + 1) % p.opts.BatchSize {
			s, err := p.loader.ReadNext(gctx)
			if err == nil {
				err = f.PushSample(gctx, i, s)
			}
			if err != nil {
				// Stopped by the consumer or by the caller.
				if gctx.Err() != nil || errors.Is(err, feed.ErrClosed) {
					return nil
				}
				return err
			}
		}
	})
	g.Go(func() error {
		defer cancel()
		defer f.Close()
		for b := 0; b < n; b++ {
			samples, err := f.Next(gctx)
			if err != nil {
				return err
			}
			batch, err := p.process(gctx, b, samples)
			if err != nil {
				return err
			}
			if err := emit(batch); err != nil {
				return err
			}
		}
		return nil
	})
	return g.Wait()
}

// process decodes a batch, draws its augmentation and warps it.
func (p *Pipeline) process(ctx context.Context, index int, samples []loader.Sample) (*Batch, error) {
	batch := &Batch{Index: index, Items: make([]Item, len(samples))}
	var (
		work []executor.Sample
		pos  []int
	)
	for i, s := range samples {
		batch.Items[i] = Item{Origin: s.Origin, Skip: s.Skip}
		if s.Skip {
			continue
		}
		pix, shape, _, err := imageio.Decode(s.Data)
		if err != nil {
			return nil, errors.WithMessagef(err, "pipeline: %s", s.Origin)
		}
		ws, err := p.augment(pix, shape)
		if err != nil {
			return nil, errors.WithMessagef(err, "pipeline: %s", s.Origin)
		}
		work = append(work, ws)
		pos = append(pos, i)
	}
	if len(work) == 0 {
		return batch, nil
	}

	start := time.Now()
	results, stats, err := p.exec.ExecuteBatch(ctx, work)
	if err != nil {
		return nil, errors.WithMessagef(err, "pipeline: batch %d", index)
	}
	batch.Elapsed = time.Since(start)
	batch.Warped = len(work)
	batch.Mode, batch.Blocks, batch.Grid = stats.Mode, stats.Blocks, stats.Grid
	for j, r := range results {
		it := &batch.Items[pos[j]]
		it.Image, it.Shape = r.Image, r.Shape
	}
	return batch, nil
}

// augment draws an output size and a random rotation and zoom about the
// image centre.
func (p *Pipeline) augment(pix []byte, shape warp.TensorShape) (executor.Sample, error) {
	o := p.opts
	out := warp.Extent{
		W: o.MinOut + p.rng.Intn(o.MaxOut-o.MinOut+1),
		H: o.MinOut + p.rng.Intn(o.MaxOut-o.MinOut+1),
	}
	theta := (2*p.rng.Float64() - 1) * o.MaxAngle
	zoom := 1 + p.rng.Float64()*(o.MaxScale-1)

	m, err := warp.InvertAffine(centredTransform(shape.Extent(), out, theta, zoom))
	if err != nil {
		return executor.Sample{}, err
	}
	interp := warp.InterpLinear
	if p.rng.Intn(4) == 0 {
		interp = warp.InterpNN
	}
	return executor.Sample{Image: pix, Shape: shape, Out: out, Mapping: m, Interp: interp}, nil
}

// centredTransform is the forward transform fitting in onto out, rotated by
// theta and zoomed by zoom about the centres.
func centredTransform(in, out warp.Extent, theta, zoom float64) f64.Aff3 {
	sx := zoom * float64(out.W) / float64(in.W)
	sy := zoom * float64(out.H) / float64(in.H)
	c, s := math.Cos(theta), math.Sin(theta)
	cx, cy := float64(in.W)/2, float64(in.H)/2
	ox, oy := float64(out.W)/2, float64(out.H)/2
	a, b := c*sx, -s*sx
	d, e := s*sy, c*sy
	return f64.Aff3{
		a, b, ox - a*cx - b*cy,
		d, e, oy - d*cx - e*cy,
	}
}

// SyntheticSource fills a memory source with n PNG images of random sizes,
// for running the pipeline without a dataset.
func SyntheticSource(n int, seed int64) (*loader.MemorySource, error) {
	rng := rand.New(rand.NewSource(seed))
	src := loader.NewMemorySource()
	for i := 0; i < n; i++ {
		shape := warp.TensorShape{W: 16 + rng.Intn(241), H: 16 + rng.Intn(241), C: 4}
		pix := make([]byte, shape.Bytes())
		for y := 0; y < shape.H; y++ {
			for x := 0; x < shape.W; x++ {
				px := pix[(y*shape.W+x)*4:]
				px[0], px[1], px[2], px[3] = byte(x*255/shape.W), byte(y*255/shape.H), byte((x^y)&0xff), 255
			}
		}
		data, err := imageio.EncodePNG(pix, shape)
		if err != nil {
			return nil, err
		}
		src.Put(keyOf(i), data)
	}
	log.Printf("🧪 Synthetic source: %d images", n)
	return src, nil
}

func keyOf(i int) string { return fmt.Sprintf("img-%05d.png", i) }
