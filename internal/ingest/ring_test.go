package ingest

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/crowdsight/crowd-density-server/internal/vision"
)

func frameSeq(seq uint64) *vision.Frame {
	return &vision.Frame{Seq: seq, Width: 1, Height: 1, Pixels: []uint8{0}}
}

func TestRingKeepsNewestFramesInOrder(t *testing.T) {
	r := NewRing(2)
	for seq := uint64(1); seq <= 5; seq++ {
		r.Push(frameSeq(seq))
	}

	if got := r.Dropped(); got != 3 {
		t.Fatalf("dropped = %d, want 3", got)
	}

	ctx := context.Background()
	for _, want := range []uint64{4, 5} {
		f, err := r.Pop(ctx)
		if err != nil {
			t.Fatalf("pop: %v", err)
		}
		if f.Seq != want {
			t.Fatalf("pop seq = %d, want %d", f.Seq, want)
		}
	}
}

func TestRingPushNeverBlocks(t *testing.T) {
	r := NewRing(1)
	done := make(chan struct{})
	go func() {
		for seq := uint64(0); seq < 1000; seq++ {
			r.Push(frameSeq(seq))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("producer blocked on a full ring")
	}
}

func TestRingPopDrainsThenEOF(t *testing.T) {
	r := NewRing(2)
	r.Push(frameSeq(1))
	r.Close()

	ctx := context.Background()
	if f, err := r.Pop(ctx); err != nil || f.Seq != 1 {
		t.Fatalf("pop after close = %v, %v; want buffered frame", f, err)
	}
	if _, err := r.Pop(ctx); err != io.EOF {
		t.Fatalf("pop on drained closed ring = %v, want io.EOF", err)
	}
}

func TestRingPopHonorsContext(t *testing.T) {
	r := NewRing(2)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := r.Pop(ctx); err != context.DeadlineExceeded {
		t.Fatalf("pop = %v, want context deadline", err)
	}
}

func TestRingPushAfterCloseIsNoop(t *testing.T) {
	r := NewRing(2)
	r.Close()
	r.Push(frameSeq(1))
	if r.Len() != 0 {
		t.Fatalf("len after push-on-closed = %d, want 0", r.Len())
	}
}

func TestRingUnblocksWaitingConsumer(t *testing.T) {
	r := NewRing(2)
	got := make(chan uint64, 1)
	go func() {
		f, err := r.Pop(context.Background())
		if err == nil {
			got <- f.Seq
		}
	}()

	time.Sleep(10 * time.Millisecond)
	r.Push(frameSeq(7))

	select {
	case seq := <-got:
		if seq != 7 {
			t.Fatalf("consumer got seq %d, want 7", seq)
		}
	case <-time.After(time.Second):
		t.Fatalf("consumer never woke up")
	}
}
