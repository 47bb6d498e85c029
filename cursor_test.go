package durablestreams

import (
	"strconv"
	"testing"
	"time"
)

func TestCursorComputerCurrentIsStableWithinInterval(t *testing.T) {
	c := newCursorComputer(time.Hour)

	a := c.current()
	b := c.current()
	if a != b {
		t.Errorf("expected two immediate calls within the same hour-long bucket to match, got %q and %q", a, b)
	}

	n, err := strconv.ParseInt(a, 10, 64)
	if err != nil {
		t.Fatalf("expected an integer bucket number, got %q: %v", a, err)
	}
	if n < 0 {
		t.Errorf("expected a non-negative bucket number since the epoch is in the past, got %d", n)
	}
}

func TestCursorComputerDefaultsInterval(t *testing.T) {
	c := newCursorComputer(0)
	if c.interval != defaultCursorInterval {
		t.Errorf("expected a non-positive interval to fall back to defaultCursorInterval, got %v", c.interval)
	}

	neg := newCursorComputer(-5 * time.Second)
	if neg.interval != defaultCursorInterval {
		t.Errorf("expected a negative interval to fall back to defaultCursorInterval, got %v", neg.interval)
	}
}

func TestCursorComputerNextIgnoresJitterAndClientCursor(t *testing.T) {
	c := newCursorComputer(time.Hour)

	// next() must be a pure function of wall time, never of the
	// client-supplied cursor, so two different clients in the same bucket
	// collapse onto an identical CDN cache key.
	withEmpty := c.next("")
	withStale := c.next("-999999")
	if withEmpty != withStale {
		t.Errorf("expected next() to ignore the client cursor entirely, got %q vs %q", withEmpty, withStale)
	}
	if withEmpty != c.current() {
		t.Errorf("expected next() to equal current(), got %q vs %q", withEmpty, c.current())
	}
}

func TestCursorComputerAdvancesAcrossIntervalBoundary(t *testing.T) {
	c := &cursorComputer{epoch: time.Now().Add(-2 * time.Millisecond), interval: time.Millisecond}

	first := c.current()
	time.Sleep(5 * time.Millisecond)
	second := c.current()

	if first == second {
		t.Errorf("expected the bucket number to advance once the interval elapses, got %q both times", first)
	}
}
