package common

import (
	"crypto/rand"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// GenerateUUID generates a UUID with an optional prefix
func GenerateUUID(prefix string) string {
	id := uuid.New()
	if prefix != "" {
		return fmt.Sprintf("%s_%s", prefix, strings.ReplaceAll(id.String(), "-", ""))
	}
	return id.String()
}

// GeneratePositionID generates a position ID scoped to its owner: "<owner>-<uuid>".
func GeneratePositionID(owner string) string {
	if owner == "" {
		return GenerateUUID("pos")
	}
	return fmt.Sprintf("%s-%s", owner, uuid.New().String())
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// GenerateEventID returns a lexically sortable event ID with "evt" prefix.
func GenerateEventID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return "evt_" + ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}
