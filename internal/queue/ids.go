package queue

import (
	"strings"

	"github.com/google/uuid"
)

// TempIDPrefix marks entity ids generated locally for optimistic creates.
const TempIDPrefix = "temp_"

// IDGenerator produces unique identifiers.
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 strings.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 and returns it as a hyphenated string.
// Panics if UUID generation fails (should never happen in practice).
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// NewTempID returns a fresh temporary entity id.
func NewTempID() string {
	return TempIDPrefix + uuid.NewString()
}

// IsTempID reports whether id was generated by NewTempID (or follows the
// same convention).
func IsTempID(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}
