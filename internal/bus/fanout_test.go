package bus

import (
	"context"
	"testing"
	"time"
)

func TestFanOut_BroadcastsToAll(t *testing.T) {
	fo := New[int](10, DropNewest)
	out1 := fo.Subscribe()
	out2 := fo.Subscribe()

	input := make(chan int, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go fo.Run(ctx, input)

	input <- 42

	for i, out := range []<-chan int{out1, out2} {
		select {
		case v := <-out:
			if v != 42 {
				t.Errorf("out%d: expected 42, got %d", i+1, v)
			}
		case <-time.After(time.Second):
			t.Fatalf("out%d: timed out waiting for value", i+1)
		}
	}
}

func TestFanOut_DropNewestWhenFull(t *testing.T) {
	fo := New[int](1, DropNewest)
	out := fo.Subscribe()

	drops := 0
	fo.OnDrop = func(int) { drops++ }

	fo.Publish(1)
	fo.Publish(2)

	if drops != 1 {
		t.Errorf("expected 1 drop, got %d", drops)
	}
	if v := <-out; v != 1 {
		t.Errorf("expected first value kept, got %d", v)
	}
}

func TestFanOut_KeepLatestReplacesStale(t *testing.T) {
	fo := New[int](1, KeepLatest)
	out := fo.Subscribe()

	drops := 0
	fo.OnDrop = func(int) { drops++ }

	for i := 1; i <= 5; i++ {
		fo.Publish(i)
	}

	if drops != 0 {
		t.Errorf("expected no drops, got %d", drops)
	}
	if v := <-out; v != 5 {
		t.Errorf("expected latest value 5, got %d", v)
	}
}

func TestFanOut_CloseOnInputClose(t *testing.T) {
	fo := New[string](4, DropNewest)
	out := fo.Subscribe()

	input := make(chan string)
	done := make(chan struct{})
	go func() {
		fo.Run(context.Background(), input)
		close(done)
	}()
	close(input)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after input closed")
	}
	if _, ok := <-out; ok {
		t.Error("expected subscriber channel to be closed")
	}
	if _, ok := <-fo.Subscribe(); ok {
		t.Error("expected subscribe after close to return closed channel")
	}
}

func TestFanOut_Unsubscribe(t *testing.T) {
	fo := New[int](2, DropNewest)
	a := fo.Subscribe()
	b := fo.Subscribe()
	fo.Unsubscribe(a)

	fo.Publish(7)

	if _, ok := <-a; ok {
		t.Error("expected unsubscribed channel to be closed")
	}
	if v := <-b; v != 7 {
		t.Errorf("expected 7, got %d", v)
	}
	if stats := fo.ChannelStats(); len(stats) != 1 || stats[0].Cap != 2 {
		t.Errorf("unexpected stats %+v", stats)
	}
}
