package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID returns a random identifier tagged with a type prefix: "tmr" for
// timer sessions, "ts" for timesheets, "xhr" for extra-hours requests.
// Twelve random bytes keep collisions negligible at this service's volume.
func NewID(prefix string) string {
	bytes := make([]byte, 12)
	_, _ = rand.Read(bytes)
	if prefix == "" {
		return hex.EncodeToString(bytes)
	}
	return prefix + "_" + hex.EncodeToString(bytes)
}
