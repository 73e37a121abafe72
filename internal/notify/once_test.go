package notify_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"fleetregistry/internal/notify"
)

func TestOnceFirstWriterWins(t *testing.T) {
	o := notify.NewOnce[string]()
	o.Set("first")
	o.Set("second")

	v, ok := o.TryGet()
	if !ok || v != "first" {
		t.Fatalf("expected first writer to win, got %q ok=%v", v, ok)
	}
}

func TestOnceWaitBlocksUntilSet(t *testing.T) {
	o := notify.NewOnce[int]()
	var wg sync.WaitGroup
	results := make(chan int, 3)

	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := o.Wait(context.Background())
			if err != nil {
				t.Errorf("Wait: %v", err)
				return
			}
			results <- v
		}()
	}

	time.Sleep(10 * time.Millisecond)
	o.Set(42)
	wg.Wait()
	close(results)

	for v := range results {
		if v != 42 {
			t.Fatalf("expected every waiter to observe 42, got %d", v)
		}
	}
}

func TestOnceWaitRespectsContext(t *testing.T) {
	o := notify.NewOnce[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := o.Wait(ctx)
	if err == nil {
		t.Fatal("expected context deadline error")
	}
}
