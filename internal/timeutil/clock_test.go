package timeutil

import (
	"testing"
	"time"
)

func TestRealClockNow(t *testing.T) {
	c := RealClock{}
	before := time.Now()
	got := c.Now()
	after := time.Now()
	if got.Before(before) || got.After(after) {
		t.Errorf("Now() = %v, want between %v and %v", got, before, after)
	}
}

func TestMockClockAdvance(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c := NewMockClock(start)

	if got := c.Now(); !got.Equal(start) {
		t.Fatalf("Now() = %v, want %v", got, start)
	}

	c.Advance(90 * time.Second)
	want := start.Add(90 * time.Second)
	if got := c.Now(); !got.Equal(want) {
		t.Errorf("after Advance, Now() = %v, want %v", got, want)
	}
	if got := c.Since(start); got != 90*time.Second {
		t.Errorf("Since(start) = %v, want 90s", got)
	}
}

func TestMockClockAfter(t *testing.T) {
	c := NewMockClock(time.Unix(0, 0))
	ch := c.After(50 * time.Millisecond)

	select {
	case <-ch:
		t.Fatal("After fired before the clock advanced")
	default:
	}

	c.Advance(49 * time.Millisecond)
	select {
	case <-ch:
		t.Fatal("After fired before its deadline")
	default:
	}

	c.Advance(1 * time.Millisecond)
	select {
	case got := <-ch:
		want := time.Unix(0, 0).Add(50 * time.Millisecond)
		if !got.Equal(want) {
			t.Errorf("After delivered %v, want %v", got, want)
		}
	default:
		t.Fatal("After did not fire at its deadline")
	}
}

func TestMockTickerFiresOnSchedule(t *testing.T) {
	c := NewMockClock(time.Unix(100, 0))
	tk := c.NewTicker(100 * time.Millisecond)

	c.Advance(99 * time.Millisecond)
	select {
	case <-tk.C():
		t.Fatal("ticker fired early")
	default:
	}

	c.Advance(1 * time.Millisecond)
	select {
	case <-tk.C():
	default:
		t.Fatal("ticker did not fire at its period")
	}

	// Stopped tickers stay quiet.
	tk.Stop()
	c.Advance(time.Second)
	select {
	case <-tk.C():
		t.Fatal("stopped ticker fired")
	default:
	}
}

func TestMockTickerTrigger(t *testing.T) {
	c := NewMockClock(time.Unix(0, 0))
	c.NewTicker(time.Hour)

	tickers := c.Tickers()
	if len(tickers) != 1 {
		t.Fatalf("Tickers() returned %d tickers, want 1", len(tickers))
	}

	at := time.Unix(42, 0)
	tickers[0].Trigger(at)
	select {
	case got := <-tickers[0].C():
		if !got.Equal(at) {
			t.Errorf("Trigger delivered %v, want %v", got, at)
		}
	default:
		t.Fatal("Trigger did not deliver a tick")
	}
}
