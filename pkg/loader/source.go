package loader

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/pkg/errors"
)

// Source is a keyed store of encoded samples.
type Source interface {
	// Keys lists every sample key in a stable order.
	Keys(ctx context.Context) ([]string, error)

	// Fetch returns the payload stored under key.
	Fetch(ctx context.Context, key string) ([]byte, error)

	// Name identifies the store in sample metadata.
	Name() string
}

// Open returns the source for a URI: dir://<path> or s3://<bucket>/<prefix>.
// region is used for S3 only.
func Open(uri, region string) (Source, error) {
	switch {
	case strings.HasPrefix(uri, "dir://"):
		return &DirSource{Root: strings.TrimPrefix(uri, "dir://")}, nil
	case strings.HasPrefix(uri, "s3://"):
		bucket, prefix, _ := strings.Cut(strings.TrimPrefix(uri, "s3://"), "/")
		if bucket == "" {
			return nil, errors.Errorf("loader: no bucket in %q", uri)
		}
		return NewS3Source(region, bucket, prefix)
	}
	return nil, errors.Errorf("loader: unsupported source %q", uri)
}

// DirSource serves every regular file below Root, keyed by its slash
// separated path relative to Root.
type DirSource struct {
	Root string
}

func (d *DirSource) Name() string { return "dir://" + d.Root }

func (d *DirSource) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(d.Root, func(path string, e fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !e.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(d.Root, path)
		if err != nil {
			return err
		}
		keys = append(keys, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "loader: list %s", d.Root)
	}
	slices.Sort(keys)
	return keys, nil
}

func (d *DirSource) Fetch(ctx context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(d.Root, filepath.FromSlash(key)))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, errors.Wrapf(ErrNotFound, "%s at key %s", d.Name(), key)
	}
	return data, errors.Wrapf(err, "loader: read %s", key)
}

// S3Source serves the objects under Prefix in Bucket.
type S3Source struct {
	Client s3iface.S3API
	Bucket string
	Prefix string
}

// NewS3Source creates an S3 source with a session for region.
func NewS3Source(region, bucket, prefix string) (*S3Source, error) {
	sess, err := session.NewSession(&aws.Config{
		Region: aws.String(region),
	})
	if err != nil {
		return nil, errors.Wrap(err, "loader: create aws session")
	}
	return &S3Source{Client: s3.New(sess), Bucket: bucket, Prefix: prefix}, nil
}

func (s *S3Source) Name() string { return "s3://" + s.Bucket + "/" + s.Prefix }

func (s *S3Source) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	err := s.Client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.Bucket),
		Prefix: aws.String(s.Prefix),
	}, func(page *s3.ListObjectsV2Output, last bool) bool {
		for _, obj := range page.Contents {
			if k := aws.StringValue(obj.Key); !strings.HasSuffix(k, "/") {
				keys = append(keys, k)
			}
		}
		return true
	})
	if err != nil {
		return nil, errors.Wrapf(err, "loader: list %s", s.Name())
	}
	slices.Sort(keys)
	return keys, nil
}

func (s *S3Source) Fetch(ctx context.Context, key string) ([]byte, error) {
	out, err := s.Client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var aerr awserr.Error
		if errors.As(err, &aerr) && aerr.Code() == s3.ErrCodeNoSuchKey {
			return nil, errors.Wrapf(ErrNotFound, "%s at key %s", s.Name(), key)
		}
		return nil, errors.Wrapf(err, "loader: get %s", key)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	return data, errors.Wrapf(err, "loader: read %s", key)
}

// MemorySource serves samples held in memory.
type MemorySource struct {
	mu    sync.RWMutex
	items map[string][]byte
}

func NewMemorySource() *MemorySource {
	return &MemorySource{items: make(map[string][]byte)}
}

// Put stores data under key.
func (m *MemorySource) Put(key string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = data
}

func (m *MemorySource) Name() string { return "mem" }

func (m *MemorySource) Keys(context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.items))
	for k := range m.items {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys, nil
}

func (m *MemorySource) Fetch(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.items[key]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "mem at key %s", key)
	}
	return data, nil
}
