// Package ids issues sortable document identifiers.
//
// Identifiers are ULIDs: lexically sortable by creation time, so listing a
// collection and sorting the ids yields creation order.
package ids

import (
	"strings"

	"github.com/oklog/ulid/v2"
)

// New returns a new ULID string. Ids from one process are strictly
// increasing, including within the same millisecond.
func New() string {
	return ulid.Make().String()
}

// Valid reports whether s is a well-formed ULID. Callers treat malformed ids
// exactly like ids that do not exist.
func Valid(s string) bool {
	if len(s) != ulid.EncodedSize {
		return false
	}
	_, err := ulid.ParseStrict(strings.ToUpper(s))
	return err == nil
}
