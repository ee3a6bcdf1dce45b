package watch

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestSpanOverlaps(t *testing.T) {
	tests := []struct {
		name string
		a, b Span
		want bool
	}{
		{"same", Span{0, 10}, Span{0, 10}, true},
		{"inside", Span{0, 10}, Span{3, 4}, true},
		{"touching end is exclusive", Span{0, 10}, Span{10, 20}, false},
		{"touching start is exclusive", Span{10, 20}, Span{0, 10}, false},
		{"partial", Span{0, 10}, Span{9, 20}, true},
		{"instant at start", Span{5, 10}, At(5), true},
		{"instant at end", Span{5, 10}, At(10), false},
		{"everything", Everything, Span{-1, 0}, true},
		{"largest instant", Everything, At(math.MaxInt64), true},
		{"smallest instant", Everything, At(math.MinInt64), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Overlaps(tt.b); got != tt.want {
				t.Errorf("Overlaps(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestRegistry_InitialDeliveryAndNotify(t *testing.T) {
	r := NewRegistry("items", nil)
	var calls atomic.Int32

	sub := r.Add(context.Background(), Span{0, 100}, func(context.Context) {
		calls.Add(1)
	})
	defer sub.Close()

	if got := calls.Load(); got != 1 {
		t.Fatalf("expected initial delivery, got %d calls", got)
	}

	if n := r.Notify(context.Background(), Span{50, 60}); n != 1 {
		t.Fatalf("expected 1 listener refreshed, got %d", n)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("expected overlapping change to notify, got %d calls", got)
	}

	r.Notify(context.Background(), Span{100, 200}, Span{-10, 0})
	if got := calls.Load(); got != 2 {
		t.Fatalf("expected disjoint changes to be ignored, got %d calls", got)
	}

	r.Notify(context.Background())
	if got := calls.Load(); got != 2 {
		t.Fatalf("expected empty notify to be ignored, got %d calls", got)
	}
}

func TestRegistry_Close(t *testing.T) {
	r := NewRegistry("items", nil)
	var calls atomic.Int32

	sub := r.Add(context.Background(), Everything, func(context.Context) { calls.Add(1) })
	if r.Len() != 1 {
		t.Fatalf("expected 1 listener, got %d", r.Len())
	}

	sub.Close()
	sub.Close()
	if r.Len() != 0 {
		t.Fatalf("expected 0 listeners after close, got %d", r.Len())
	}

	r.Notify(context.Background(), Span{0, 1})
	if got := calls.Load(); got != 1 {
		t.Fatalf("closed listener was notified: %d calls", got)
	}
}

func TestRegistry_CloseAll(t *testing.T) {
	r := NewRegistry("items", nil)
	var calls atomic.Int32

	r.Add(context.Background(), Everything, func(context.Context) { calls.Add(1) })
	r.Add(context.Background(), Span{0, 10}, func(context.Context) { calls.Add(1) })
	r.CloseAll()

	if n := r.Notify(context.Background(), Span{0, 1}); n != 0 {
		t.Fatalf("expected no listeners after CloseAll, got %d", n)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("expected only initial deliveries, got %d", got)
	}
}

func TestRegistry_CloseFromCallback(t *testing.T) {
	r := NewRegistry("items", nil)
	var sub *Subscription
	var calls int

	sub = r.Add(context.Background(), Everything, func(context.Context) {
		calls++
		if sub != nil {
			sub.Close()
		}
	})

	r.Notify(context.Background(), Span{0, 1})
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
	if r.Len() != 0 {
		t.Fatalf("expected listener removed, got %d", r.Len())
	}
}

func TestRegistry_ContextCancelRemovesListener(t *testing.T) {
	r := NewRegistry("snapshots", nil)
	ctx, cancel := context.WithCancel(context.Background())

	r.Add(ctx, Everything, func(context.Context) {})
	cancel()

	deadline := time.Now().Add(2 * time.Second)
	for r.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("listener was not removed after context cancel")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRegistry_PanicIsContained(t *testing.T) {
	r := NewRegistry("items", nil)
	var healthy atomic.Int32

	first := true
	r.Add(context.Background(), Everything, func(context.Context) {
		if first {
			first = false
			return
		}
		panic("boom")
	})
	r.Add(context.Background(), Everything, func(context.Context) { healthy.Add(1) })

	r.Notify(context.Background(), Span{0, 1})
	if got := healthy.Load(); got != 2 {
		t.Fatalf("expected healthy listener to keep receiving, got %d", got)
	}
}

func TestRegistry_ConcurrentNotify(t *testing.T) {
	r := NewRegistry("items", nil)
	var inFlight, maxInFlight atomic.Int32

	sub := r.Add(context.Background(), Everything, func(context.Context) {
		n := inFlight.Add(1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		inFlight.Add(-1)
	})
	defer sub.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Notify(context.Background(), Span{0, 1})
		}()
	}
	wg.Wait()

	if got := maxInFlight.Load(); got != 1 {
		t.Fatalf("deliveries to one listener overlapped: max in flight %d", got)
	}
}
