package feed

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestFeed_ReleasesFullBatch(t *testing.T) {
	f, err := New[string](3)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	for _, i := range []int{2, 0, 1} {
		if err := f.PushSample(ctx, i, string(rune('a'+i))); err != nil {
			t.Fatalf("PushSample(%d): %v", i, err)
		}
	}
	batch, err := f.Next(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(batch) != 3 || batch[0] != "a" || batch[1] != "b" || batch[2] != "c" {
		t.Errorf("batch = %v", batch)
	}
}

func TestFeed_NoSignalBeforeFull(t *testing.T) {
	f, _ := New[int](2)
	if err := f.PushSample(context.Background(), 0, 1); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := f.Next(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Next on a partial batch = %v, want DeadlineExceeded", err)
	}
}

func TestFeed_Rejects(t *testing.T) {
	f, _ := New[int](2)
	ctx := context.Background()
	if err := f.PushSample(ctx, 2, 0); !errors.Is(err, ErrIndex) {
		t.Errorf("out of range: %v, want ErrIndex", err)
	}
	if err := f.PushSample(ctx, -1, 0); !errors.Is(err, ErrIndex) {
		t.Errorf("negative: %v, want ErrIndex", err)
	}
	if err := f.PushSample(ctx, 0, 0); err != nil {
		t.Fatal(err)
	}
	if err := f.PushSample(ctx, 0, 0); !errors.Is(err, ErrDuplicate) {
		t.Errorf("duplicate: %v, want ErrDuplicate", err)
	}
	if _, err := New[int](0); err == nil {
		t.Error("zero batch size accepted")
	}
}

// TestFeed_ProducerBlocksOnUnclaimedBatch fills two batches ahead of the
// consumer; the push completing the second must wait for the first Next.
func TestFeed_ProducerBlocksOnUnclaimedBatch(t *testing.T) {
	f, _ := New[int](1)
	ctx := context.Background()
	if err := f.PushSample(ctx, 0, 1); err != nil {
		t.Fatal(err)
	}

	pushed := make(chan error, 1)
	go func() { pushed <- f.PushSample(ctx, 0, 2) }()

	select {
	case err := <-pushed:
		t.Fatalf("second batch released while the first was unclaimed (err=%v)", err)
	case <-time.After(20 * time.Millisecond):
	}

	for want := 1; want <= 2; want++ {
		batch, err := f.Next(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if batch[0] != want {
			t.Errorf("batch %v, want [%d]", batch, want)
		}
	}
	if err := <-pushed; err != nil {
		t.Errorf("blocked push returned %v", err)
	}
}

func TestFeed_ProducerConsumer(t *testing.T) {
	const batches, size = 50, 4
	f, _ := New[int](size)
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for b := range batches {
			for i := range size {
				if err := f.PushSample(ctx, i, b*size+i); err != nil {
					t.Error(err)
					return
				}
			}
		}
	}()

	for b := range batches {
		batch, err := f.Next(ctx)
		if err != nil {
			t.Fatal(err)
		}
		for i, v := range batch {
			if v != b*size+i {
				t.Fatalf("batch %d slot %d = %d", b, i, v)
			}
		}
	}
	wg.Wait()
}

func TestFeed_Close(t *testing.T) {
	f, _ := New[int](1)
	ctx := context.Background()
	_ = f.PushSample(ctx, 0, 7)
	f.Close()

	batch, err := f.Next(ctx)
	if err != nil || batch[0] != 7 {
		t.Errorf("pending batch after Close = %v, %v", batch, err)
	}
	if _, err := f.Next(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("Next after Close = %v, want ErrClosed", err)
	}
	if err := f.PushSample(ctx, 0, 1); !errors.Is(err, ErrClosed) {
		t.Errorf("PushSample after Close = %v, want ErrClosed", err)
	}
	f.Close()
}
