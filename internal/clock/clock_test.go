package clock_test

import (
	"sync"
	"testing"
	"time"

	"github.com/custodia-labs/installations/internal/clock"
)

func TestRealNowUsesUTC(t *testing.T) {
	t.Parallel()

	now := clock.Real{}.Now()
	if loc := now.Location(); loc != time.UTC {
		t.Fatalf("expected UTC location, got %v", loc)
	}
	if delta := time.Since(now); delta < 0 || delta > time.Second {
		t.Fatalf("unexpected Now delta: %v", delta)
	}
}

func TestManualAdvance(t *testing.T) {
	t.Parallel()

	m := clock.NewManualUnix(1000)
	if got := m.Now().Unix(); got != 1000 {
		t.Fatalf("Now() = %d, want 1000", got)
	}

	if got := m.Advance(90 * time.Second).Unix(); got != 1090 {
		t.Errorf("Advance() = %d, want 1090", got)
	}
	if got := m.Advance(-time.Hour).Unix(); got != 1090 {
		t.Errorf("negative Advance moved the clock to %d", got)
	}

	m.Set(time.Unix(10, 0))
	if got := m.Now().Unix(); got != 10 {
		t.Errorf("Set() left clock at %d", got)
	}
}

func TestManualConcurrentAdvance(t *testing.T) {
	t.Parallel()

	m := clock.NewManualUnix(0)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Advance(time.Second)
		}()
	}
	wg.Wait()

	if got := m.Now().Unix(); got != 50 {
		t.Fatalf("Now() = %d, want 50", got)
	}
}
