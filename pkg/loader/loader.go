// Package loader reads encoded samples from a keyed store in a fixed order,
// one shard of the store per reader.
package loader

import (
	"context"

	"github.com/pkg/errors"
)

var (
	ErrNoSamples = errors.New("loader: source has no samples")
	ErrNotFound  = errors.New("loader: sample not found")
)

// Sample is one record read from a source. Skipped samples carry their
// metadata only.
type Sample struct {
	Key    string
	Origin string // "<source> at key <key>"
	Index  int
	Data   []byte
	Skip   bool
}

// SkipCache reports samples whose results are already cached downstream, so
// their payload need not be read.
type SkipCache interface {
	Contains(origin string) bool
}

// KeySet is a SkipCache over a fixed set of origins.
type KeySet map[string]struct{}

func (s KeySet) Contains(origin string) bool {
	_, ok := s[origin]
	return ok
}

// Options configures a Loader.
type Options struct {
	ShardID   int
	NumShards int

	// StickToShard keeps the reader inside its shard: it wraps to the shard
	// start at the shard end instead of moving on into the next shard.
	StickToShard bool

	Cache SkipCache
}

// Loader reads the samples of a source in key order, starting at its shard.
// It is not safe for concurrent use.
type Loader struct {
	src   Source
	keys  []string
	opts  Options
	index int
}

// New lists the source and positions the reader at the start of its shard.
func New(ctx context.Context, src Source, opts Options) (*Loader, error) {
	if opts.NumShards <= 0 {
		opts.NumShards = 1
	}
	if opts.ShardID < 0 || opts.ShardID >= opts.NumShards {
		return nil, errors.Errorf("loader: shard %d out of range [0,%d)", opts.ShardID, opts.NumShards)
	}
	keys, err := src.Keys(ctx)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, errors.Wrap(ErrNoSamples, src.Name())
	}
	l := &Loader{src: src, keys: keys, opts: opts}
	l.Reset(true)
	return l, nil
}

// Size returns the number of samples in the whole source.
func (l *Loader) Size() int { return len(l.keys) }

func (l *Loader) ShardID() int   { return l.opts.ShardID }
func (l *Loader) NumShards() int { return l.opts.NumShards }

// StartIndex returns the first sample of shard in a store of size samples.
func StartIndex(shard, numShards, size int) int {
	return size * shard / numShards
}

// Reset moves the reader to the start of its shard, or to the first sample
// of the source when wrapToShard is false.
func (l *Loader) Reset(wrapToShard bool) {
	if wrapToShard {
		l.index = StartIndex(l.opts.ShardID, l.opts.NumShards, l.Size())
	} else {
		l.index = 0
	}
}

// ReadNext returns the sample at the current position and advances. At the
// end of the source, or of the shard with StickToShard, the reader wraps to
// its shard start.
func (l *Loader) ReadNext(ctx context.Context) (Sample, error) {
	if err := ctx.Err(); err != nil {
		return Sample{}, err
	}
	i := l.index
	key := l.keys[i]
	s := Sample{
		Key:    key,
		Origin: l.src.Name() + " at key " + key,
		Index:  i,
	}
	l.index++
	if l.atShardEnd() {
		l.Reset(true)
	}

	if l.opts.Cache != nil && l.opts.Cache.Contains(s.Origin) {
		s.Skip = true
		return s, nil
	}
	data, err := l.src.Fetch(ctx, key)
	if err != nil {
		return Sample{}, err
	}
	s.Data = data
	return s, nil
}

func (l *Loader) atShardEnd() bool {
	if l.index >= l.Size() {
		return true
	}
	next := l.opts.ShardID + 1
	return l.opts.StickToShard && next < l.opts.NumShards &&
		l.index >= StartIndex(next, l.opts.NumShards, l.Size())
}
