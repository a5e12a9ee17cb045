// Package ulid provides ULID generation utilities.
package ulid

import (
	"crypto/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropy     = ulid.Monotonic(rand.Reader, 0)
	entropyLock sync.Mutex
)

// New generates a new ULID.
func New() string {
	return NewFromTime(time.Now())
}

// NewFromTime generates a new ULID with a specific timestamp.
func NewFromTime(t time.Time) string {
	entropyLock.Lock()
	defer entropyLock.Unlock()

	id := ulid.MustNew(ulid.Timestamp(t), entropy)
	return id.String()
}

// NewDeploymentID generates a deployment identifier ("dep_" prefix).
// The embedded timestamp makes deployment ids sort by acceptance time,
// which the CurrentRunningState projection relies on.
func NewDeploymentID(t time.Time) string {
	return "dep_" + NewFromTime(t)
}

// NewEventID generates an audit event identifier ("evt_" prefix).
func NewEventID(t time.Time) string {
	return "evt_" + NewFromTime(t)
}

// IsValid checks if a string is a valid ULID, ignoring a known prefix.
func IsValid(s string) bool {
	if i := strings.IndexByte(s, '_'); i >= 0 {
		s = s[i+1:]
	}
	_, err := ulid.Parse(s)
	return err == nil
}

// Time extracts the timestamp from a ULID string, ignoring a known prefix.
func Time(s string) (time.Time, error) {
	if i := strings.IndexByte(s, '_'); i >= 0 {
		s = s[i+1:]
	}
	id, err := ulid.Parse(s)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(id.Time()), nil
}
