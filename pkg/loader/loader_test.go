package loader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
)

func memSource(n int) *MemorySource {
	m := NewMemorySource()
	for i := range n {
		m.Put(fmt.Sprintf("%03d", i), []byte{byte(i)})
	}
	return m
}

func readIndices(t *testing.T, l *Loader, n int) []int {
	t.Helper()
	var got []int
	for range n {
		s, err := l.ReadNext(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, s.Index)
	}
	return got
}

// =============================================================================
// Loader Tests
// =============================================================================

func TestStartIndex(t *testing.T) {
	tests := []struct{ shard, n, size, want int }{
		{0, 1, 10, 0},
		{0, 3, 10, 0},
		{1, 3, 10, 3},
		{2, 3, 10, 6},
		{3, 4, 7, 5},
	}
	for _, tt := range tests {
		if got := StartIndex(tt.shard, tt.n, tt.size); got != tt.want {
			t.Errorf("StartIndex(%d, %d, %d) = %d, want %d", tt.shard, tt.n, tt.size, got, tt.want)
		}
	}
}

func TestLoader_WrapsToShardStart(t *testing.T) {
	l, err := New(context.Background(), memSource(10), Options{ShardID: 1, NumShards: 3})
	if err != nil {
		t.Fatal(err)
	}
	got := readIndices(t, l, 9)
	want := []int{3, 4, 5, 6, 7, 8, 9, 3, 4}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("read order %v, want %v", got, want)
	}
}

func TestLoader_StickToShard(t *testing.T) {
	l, err := New(context.Background(), memSource(10), Options{ShardID: 1, NumShards: 3, StickToShard: true})
	if err != nil {
		t.Fatal(err)
	}
	got := readIndices(t, l, 7)
	want := []int{3, 4, 5, 3, 4, 5, 3}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("read order %v, want %v", got, want)
	}
}

func TestLoader_Reset(t *testing.T) {
	l, _ := New(context.Background(), memSource(4), Options{ShardID: 1, NumShards: 2})
	readIndices(t, l, 1)
	l.Reset(false)
	if got := readIndices(t, l, 1); got[0] != 0 {
		t.Errorf("after Reset(false) read %d, want 0", got[0])
	}
	l.Reset(true)
	if got := readIndices(t, l, 1); got[0] != 2 {
		t.Errorf("after Reset(true) read %d, want 2", got[0])
	}
}

func TestLoader_SkipCache(t *testing.T) {
	cache := KeySet{"mem at key 001": {}}
	l, err := New(context.Background(), memSource(3), Options{Cache: cache})
	if err != nil {
		t.Fatal(err)
	}
	for i := range 3 {
		s, err := l.ReadNext(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if s.Skip != (i == 1) {
			t.Errorf("sample %d: Skip = %v", i, s.Skip)
		}
		if s.Skip && s.Data != nil {
			t.Errorf("skipped sample %d carries a payload", i)
		}
		if !s.Skip && !bytes.Equal(s.Data, []byte{byte(i)}) {
			t.Errorf("sample %d: data %v", i, s.Data)
		}
	}
}

func TestLoader_Rejects(t *testing.T) {
	ctx := context.Background()
	if _, err := New(ctx, NewMemorySource(), Options{}); !errors.Is(err, ErrNoSamples) {
		t.Errorf("empty source: err = %v, want ErrNoSamples", err)
	}
	if _, err := New(ctx, memSource(3), Options{ShardID: 2, NumShards: 2}); err == nil {
		t.Error("shard out of range accepted")
	}
}

func TestLoader_CanceledContext(t *testing.T) {
	l, _ := New(context.Background(), memSource(3), Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := l.ReadNext(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

// =============================================================================
// Source Tests
// =============================================================================

func TestDirSource(t *testing.T) {
	root := t.TempDir()
	files := map[string]string{"b.png": "B", "a/z.png": "Z", "a/y.png": "Y"}
	for name, data := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(data), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	src, err := Open("dir://"+root, "")
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	keys, err := src.Keys(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if fmt.Sprint(keys) != "[a/y.png a/z.png b.png]" {
		t.Errorf("keys = %v", keys)
	}
	data, err := src.Fetch(ctx, "a/z.png")
	if err != nil || string(data) != "Z" {
		t.Errorf("Fetch = %q, %v", data, err)
	}
	if _, err := src.Fetch(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing key: err = %v, want ErrNotFound", err)
	}
}

func TestOpen_Unsupported(t *testing.T) {
	for _, uri := range []string{"ftp://x", "s3://", "plain/path"} {
		if _, err := Open(uri, "us-east-1"); err == nil {
			t.Errorf("Open(%q) succeeded", uri)
		}
	}
}

type fakeS3 struct {
	s3iface.S3API
	objects map[string][]byte
	pages   [][]string
}

func (f *fakeS3) ListObjectsV2PagesWithContext(_ aws.Context, in *s3.ListObjectsV2Input,
	fn func(*s3.ListObjectsV2Output, bool) bool, _ ...request.Option) error {
	for i, page := range f.pages {
		out := &s3.ListObjectsV2Output{}
		for _, k := range page {
			out.Contents = append(out.Contents, &s3.Object{Key: aws.String(k)})
		}
		if !fn(out, i == len(f.pages)-1) {
			break
		}
	}
	return nil
}

func (f *fakeS3) GetObjectWithContext(_ aws.Context, in *s3.GetObjectInput, _ ...request.Option) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[aws.StringValue(in.Key)]
	if !ok {
		return nil, awserr.New(s3.ErrCodeNoSuchKey, "no such key", nil)
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func TestS3Source(t *testing.T) {
	fake := &fakeS3{
		objects: map[string][]byte{"train/2.png": {2}, "train/1.png": {1}},
		pages:   [][]string{{"train/2.png", "train/"}, {"train/1.png"}},
	}
	src := &S3Source{Client: fake, Bucket: "data", Prefix: "train/"}

	l, err := New(context.Background(), src, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if l.Size() != 2 {
		t.Fatalf("Size() = %d, want 2 (directory markers excluded)", l.Size())
	}
	s, err := l.ReadNext(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if s.Key != "train/1.png" || !bytes.Equal(s.Data, []byte{1}) {
		t.Errorf("first sample = %+v", s)
	}
	if s.Origin != "s3://data/train/ at key train/1.png" {
		t.Errorf("Origin = %q", s.Origin)
	}

	if _, err := src.Fetch(context.Background(), "train/3.png"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing object: err = %v, want ErrNotFound", err)
	}
}
