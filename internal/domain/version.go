package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// InitialVersion is the version assigned to a newly created entity.
const InitialVersion = 0.1

// RoundVersion normalizes a version number to one decimal place. All version
// arithmetic goes through this so that repeated 0.1 increments stay exact.
func RoundVersion(v float64) float64 {
	return math.Round(v*10) / 10
}

// NextVersion computes the version that follows current. A major change moves
// to the next integer; anything else adds a tenth.
func NextVersion(current float64, major bool) float64 {
	if major {
		return RoundVersion(math.Floor(current) + 1.0)
	}
	return RoundVersion(current + 0.1)
}

// FormatVersion renders a version the way it is stored and compared, with a
// single decimal digit.
func FormatVersion(v float64) string {
	return strconv.FormatFloat(RoundVersion(v), 'f', 1, 64)
}

// ParseVersion parses a version string produced by FormatVersion.
func ParseVersion(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid version %q: %w", s, err)
	}
	return RoundVersion(v), nil
}

// VersionRecord is one immutable historical snapshot of an entity. Exactly one
// record exists per (EntityID, Version) pair; records are never deleted except
// when the entity itself is hard-deleted.
type VersionRecord struct {
	EntityID   uuid.UUID       `json:"entityId"`
	EntityType string          `json:"entityType"`
	Version    float64         `json:"version"`
	Snapshot   json.RawMessage `json:"snapshot"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}
