// Package ids generates request identifiers.
package ids

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// RequestID returns a ULID; ids from one process sort by creation time.
func RequestID() string {
	return ulid.Make().String()
}

// Time extracts the creation time of a ULID produced by RequestID.
func Time(id string) (time.Time, bool) {
	u, err := ulid.ParseStrict(id)
	if err != nil {
		return time.Time{}, false
	}
	return ulid.Time(u.Time()), true
}
