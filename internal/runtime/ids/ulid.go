package ids

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewRequestID returns a time-sortable ULID identifying one request. Request
// ids are local bookkeeping and never travel on the channel.
func NewRequestID() string {
	return newULID(time.Now()).String()
}

// NewFlitID returns the message UUID used when a flit is published.
func NewFlitID() string {
	return newULID(time.Now()).String()
}

func newULID(at time.Time) ulid.ULID {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(at), entropy)
}
