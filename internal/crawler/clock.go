package crawler

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SystemClock implements Clock using time.Now.
type SystemClock struct{}

// Now returns the current time in UTC.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// UUIDGenerator creates UUID v7 job IDs.
type UUIDGenerator struct{}

// NewID returns a UUID7 string.
func (UUIDGenerator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}
