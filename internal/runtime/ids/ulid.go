// Package ids mints message identities and reply destination suffixes.
package ids

import (
	"crypto/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// CreateULID returns a time-sortable ULID encoded as a 26-character string.
// Outbound requests without a UUID get one of these.
func CreateULID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// CreateShortUUID returns the first eight hex digits of a random UUID.
func CreateShortUUID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// ReplyDestination names a private reply topic below prefix, e.g. "replies.1a2b3c4d".
func ReplyDestination(prefix string) string {
	if prefix == "" {
		prefix = "replies"
	}
	return prefix + "." + CreateShortUUID()
}
