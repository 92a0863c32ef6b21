package unread

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestTotal(t *testing.T) {
	tests := []struct {
		messages, notifications, want int
	}{
		{0, 0, 0},
		{1, 0, 1},
		{0, 4, 4},
		{3, 4, 7},
		{120, 5, 125},
	}
	for _, tt := range tests {
		if got := Total(tt.messages, tt.notifications); got != tt.want {
			t.Errorf("Total(%d, %d) = %d, want %d", tt.messages, tt.notifications, got, tt.want)
		}
	}
}

func TestAggregator_PublishesEveryUpdate(t *testing.T) {
	a := NewAggregator()
	var got []int
	a.Subscribe(func(total int) { got = append(got, total) })

	a.SetMessages(2)
	a.SetNotifications(3)
	a.SetNotifications(3)
	a.SetMessages(0)

	want := []int{0, 2, 5, 5, 3}
	if len(got) != len(want) {
		t.Fatalf("published %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("published %v, want %v", got, want)
		}
	}
	if a.Total() != 3 || a.Messages() != 0 || a.Notifications() != 3 {
		t.Errorf("state = (%d, %d, %d)", a.Messages(), a.Notifications(), a.Total())
	}
}

func TestAggregator_ConcurrentUpdatesPublishInOrder(t *testing.T) {
	a := NewAggregator()
	entered := make(chan struct{})
	gate := make(chan struct{})
	var mu sync.Mutex
	var last int
	first := true
	a.Subscribe(func(total int) {
		mu.Lock()
		hold := first && total == 1
		if total == 1 {
			first = false
		}
		mu.Unlock()
		if hold {
			close(entered)
			<-gate
		}
		mu.Lock()
		last = total
		mu.Unlock()
	})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		a.SetMessages(1)
	}()
	<-entered
	go func() {
		defer wg.Done()
		a.SetNotifications(1)
	}()
	time.Sleep(20 * time.Millisecond)
	close(gate)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if last != a.Total() {
		t.Errorf("last published = %d, Total() = %d", last, a.Total())
	}
}

func TestCounter_InvalidateRefetches(t *testing.T) {
	var calls atomic.Int32
	values := make(chan int, 8)
	fetch := func(ctx context.Context) (int, error) {
		return int(calls.Add(1)), nil
	}
	c := NewCounter("messages", fetch, time.Hour, func(n int) { values <- n })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	expect := func(want int) {
		t.Helper()
		select {
		case got := <-values:
			if got != want {
				t.Fatalf("onChange(%d), want %d", got, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %d", want)
		}
	}
	expect(1)
	c.Invalidate()
	expect(2)
	if c.Value() != 2 {
		t.Errorf("Value() = %d, want 2", c.Value())
	}
}

func TestCounter_PollsOnInterval(t *testing.T) {
	var calls atomic.Int32
	fetch := func(ctx context.Context) (int, error) {
		calls.Add(1)
		return 1, nil
	}
	c := NewCounter("notifications", fetch, 5*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for calls.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	cancel()
	<-done
	if calls.Load() < 3 {
		t.Errorf("fetch calls = %d, want >= 3", calls.Load())
	}
}

func TestCounter_FailedFetchKeepsValue(t *testing.T) {
	var mu sync.Mutex
	fail := false
	fetch := func(ctx context.Context) (int, error) {
		mu.Lock()
		defer mu.Unlock()
		if fail {
			return 0, errors.New("boom")
		}
		return 4, nil
	}
	c := NewCounter("messages", fetch, time.Hour, nil)

	ctx := context.Background()
	c.refresh(ctx)
	mu.Lock()
	fail = true
	mu.Unlock()
	c.refresh(ctx)

	if c.Value() != 4 {
		t.Errorf("Value() = %d, want 4", c.Value())
	}
}

func TestCounter_InvalidateNeverBlocks(t *testing.T) {
	c := NewCounter("messages", func(context.Context) (int, error) { return 0, nil }, time.Hour, nil)
	for i := 0; i < 10; i++ {
		c.Invalidate()
	}
}
