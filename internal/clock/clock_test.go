package clock_test

import (
	"testing"
	"time"

	"github.com/jmerrifield20/anchorkit/internal/clock"
)

func TestManual_advanceAndSet(t *testing.T) {
	start := time.Unix(1_000, 0)
	c := clock.NewManual(start)

	c.Advance(90 * time.Second)
	if got := c.Now().Unix(); got != 1_090 {
		t.Errorf("after Advance: got %d, want 1090", got)
	}

	c.Set(time.Unix(5, 0))
	if got := c.Now().Unix(); got != 5 {
		t.Errorf("after Set: got %d, want 5", got)
	}
	if c.Now().Location() != time.UTC {
		t.Error("expected UTC location")
	}
}

func TestSystem_isUTC(t *testing.T) {
	if (clock.System{}).Now().Location() != time.UTC {
		t.Error("System clock should report UTC")
	}
}
