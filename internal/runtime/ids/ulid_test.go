package ids

import (
	"testing"

	"github.com/oklog/ulid/v2"
)

func TestRequestIDsAreMonotonic(t *testing.T) {
	prev := NewRequestID()
	for i := 0; i < 100; i++ {
		next := NewRequestID()
		if next <= prev {
			t.Fatalf("expected %s > %s", next, prev)
		}
		prev = next
	}
}

func TestFlitIDParses(t *testing.T) {
	if _, err := ulid.Parse(NewFlitID()); err != nil {
		t.Fatalf("flit id is not a ULID: %v", err)
	}
}
