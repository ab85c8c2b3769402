package track

import (
	"time"

	"github.com/google/uuid"
)

// Clock abstracts time retrieval so business logic is deterministic in tests.
type Clock interface {
	Now() time.Time
}

// RealClock returns the actual current time.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// IDGenerator abstracts unique ID generation so tests are deterministic.
type IDGenerator interface {
	New() string
}

// UUIDv7Generator produces time-ordered UUIDs. Their string form sorts in
// creation order, which import ids rely on.
type UUIDv7Generator struct{}

func (UUIDv7Generator) New() string { return uuid.Must(uuid.NewV7()).String() }
