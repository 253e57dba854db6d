// Package uuid generates the identifiers the sync engine hands out: conflict
// ids, sync session ids and mutation ids created on behalf of CLI callers.
package uuid

import (
	"strings"

	"github.com/google/uuid"
)

// New generates a new random UUID string.
func New() string {
	return uuid.New().String()
}

// NewSessionID returns an id for one drain.
func NewSessionID() string {
	return "sync-" + uuid.New().String()
}

// NewMutationID returns a mutation id. Caller-chosen ids are preferred; this
// is for callers with no natural key.
func NewMutationID() string {
	return "mut-" + uuid.New().String()
}

// IsValid reports whether s is a UUID, optionally behind one of the prefixes
// produced by this package.
func IsValid(s string) bool {
	for _, p := range []string{"sync-", "mut-"} {
		if strings.HasPrefix(s, p) {
			s = strings.TrimPrefix(s, p)
			break
		}
	}
	_, err := uuid.Parse(s)
	return err == nil && len(s) == 36
}
