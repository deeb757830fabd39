package generic

import (
	mathrand "math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// NewID returns a random entity identifier.
func NewID() string {
	return uuid.NewString()
}

// NewSortableID returns an identifier that sorts after every id handed out
// before it by this process. Used where ties on a timestamp must keep
// insertion order.
func NewSortableID() string {
	return newULID().String()
}

func newULID() ulid.ULID {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
}

// EndToEndPrefix marks identifiers generated by this engine in bank files.
const EndToEndPrefix = "E2E"

// MaxEndToEndLength is the SEPA limit for EndToEndId.
const MaxEndToEndLength = 35

// NewEndToEndID returns a bank-grade end-to-end identifier: "E2E" followed by
// a monotonic ULID. 29 characters of [0-9A-Z], strictly increasing within the
// process, so an id is never handed out twice even for settlements that are
// later cancelled.
func NewEndToEndID() string {
	return EndToEndPrefix + newULID().String()
}

// NewReference returns a short human-readable code such as "DEP-7K3M9QX2AB".
// The suffix is the tail of a ULID (timestamp low bits + entropy).
func NewReference(prefix string) string {
	id := newULID().String()
	return strings.ToUpper(prefix) + "-" + id[len(id)-10:]
}

// ValidEndToEndID reports whether id is usable in a SEPA file.
func ValidEndToEndID(id string) bool {
	if id == "" || len(id) > MaxEndToEndLength {
		return false
	}
	for _, r := range id {
		if !strings.ContainsRune(sepaIDChars, r) {
			return false
		}
	}
	return true
}

const sepaIDChars = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789/-?:().,'+"
