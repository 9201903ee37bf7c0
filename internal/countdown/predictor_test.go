package countdown

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func TestPredictUnknownBeforeFirstAuthoritative(t *testing.T) {
	p := New(clockwork.NewFakeClock())

	if _, _, ok := p.Predict(); ok {
		t.Fatal("prediction should be unknown before any authoritative value")
	}
}

func TestPredictExtrapolatesElapsedSeconds(t *testing.T) {
	clock := clockwork.NewFakeClock()
	p := New(clock)

	p.SetAuthoritative(60)
	clock.Advance(5 * time.Second)

	got, _, ok := p.Predict()
	if !ok {
		t.Fatal("prediction should be known")
	}
	if got != 55 {
		t.Fatalf("predicted %d, want 55", got)
	}
}

func TestPredictNeverExceedsAuthoritativeMinusElapsed(t *testing.T) {
	clock := clockwork.NewFakeClock()
	p := New(clock)

	p.SetAuthoritative(60)
	for elapsed := int64(1); elapsed <= 70; elapsed++ {
		clock.Advance(time.Second)
		got, _, _ := p.Predict()

		bound := 60 - elapsed
		if bound < 0 {
			bound = 0
		}
		if got > bound {
			t.Fatalf("after %ds predicted %d, exceeds bound %d", elapsed, got, bound)
		}
	}
}

func TestPredictClampsAtZero(t *testing.T) {
	clock := clockwork.NewFakeClock()
	p := New(clock)

	p.SetAuthoritative(10)
	clock.Advance(12 * time.Second)

	got, _, ok := p.Predict()
	if !ok || got != 0 {
		t.Fatalf("predicted (%d, %v), want (0, true)", got, ok)
	}
}

func TestAuthoritativeAlwaysWins(t *testing.T) {
	clock := clockwork.NewFakeClock()
	p := New(clock)

	gen1 := p.SetAuthoritative(60)
	clock.Advance(5 * time.Second)

	// A fresh server value replaces the local extrapolation outright, even
	// when it is larger than the predicted value.
	gen2 := p.SetAuthoritative(58)
	if gen2 <= gen1 {
		t.Fatalf("generation did not advance: %d then %d", gen1, gen2)
	}

	got, gen, _ := p.Predict()
	if got != 58 || gen != gen2 {
		t.Fatalf("predicted (%d, gen %d), want (58, gen %d)", got, gen, gen2)
	}
}

func TestNegativeAuthoritativeClampsToZero(t *testing.T) {
	p := New(clockwork.NewFakeClock())

	p.SetAuthoritative(-3)
	got, _, ok := p.Predict()
	if !ok || got != 0 {
		t.Fatalf("predicted (%d, %v), want (0, true)", got, ok)
	}
}

func TestRunPublishesOncePerSecond(t *testing.T) {
	clock := clockwork.NewFakeClock()
	p := New(clock)
	p.SetAuthoritative(30)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	published := make(chan int64, 16)
	go p.Run(ctx, func(seconds int64, gen uint64) {
		published <- seconds
	})

	if err := clock.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("waiting for ticker: %v", err)
	}

	for want := int64(29); want >= 27; want-- {
		clock.Advance(time.Second)
		if got := recvSeconds(t, published); got != want {
			t.Fatalf("tick published %d, want %d", got, want)
		}
	}
}

func TestRunSkipsTicksWhileUnknown(t *testing.T) {
	clock := clockwork.NewFakeClock()
	p := New(clock)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	published := make(chan int64, 16)
	go p.Run(ctx, func(seconds int64, gen uint64) {
		published <- seconds
	})

	if err := clock.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("waiting for ticker: %v", err)
	}

	clock.Advance(time.Second)
	select {
	case got := <-published:
		t.Fatalf("tick published %d before any authoritative value", got)
	case <-time.After(50 * time.Millisecond):
	}

	p.SetAuthoritative(10)
	clock.Advance(time.Second)
	if got := recvSeconds(t, published); got != 9 {
		t.Fatalf("tick published %d, want 9", got)
	}
}

func recvSeconds(t *testing.T, ch <-chan int64) int64 {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for published prediction")
		return 0
	}
}
