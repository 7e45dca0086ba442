package models

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrInvalidKind indicates a kind outside the closed set.
	ErrInvalidKind = errors.New("invalid asset kind")

	// ErrInvalidEnergy indicates an energy level outside 0-100.
	ErrInvalidEnergy = errors.New("energy level out of range")
)

// AssetKind enumerates the closed set of playable content kinds.
type AssetKind string

const (
	KindMusic  AssetKind = "music"  // continuous rotation music
	KindBreak  AssetKind = "break"  // time-sensitive bulletin
	KindBumper AssetKind = "bumper" // short station ident / filler
	KindBed    AssetKind = "bed"    // background bed
	KindSafety AssetKind = "safety" // last-resort fallback loop content
)

// ParseKind validates a kind string against the closed set.
func ParseKind(s string) (AssetKind, error) {
	kind := AssetKind(strings.ToLower(strings.TrimSpace(s)))
	switch kind {
	case KindMusic, KindBreak, KindBumper, KindBed, KindSafety:
		return kind, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidKind, s)
}

// ValidateEnergy checks an energy ordinal is within 0-100.
func ValidateEnergy(level int) error {
	if level < 0 || level > 100 {
		return fmt.Errorf("%w: %d", ErrInvalidEnergy, level)
	}
	return nil
}

// EnergyBand groups the 0-100 energy ordinal into selection bands.
type EnergyBand string

const (
	BandLow    EnergyBand = "low"
	BandMedium EnergyBand = "medium"
	BandHigh   EnergyBand = "high"
	BandAny    EnergyBand = "any"
)

// BandBounds returns the inclusive energy range for a band. BandAny spans
// the whole scale.
func BandBounds(band EnergyBand) (int, int) {
	switch band {
	case BandLow:
		return 0, 33
	case BandMedium:
		return 34, 66
	case BandHigh:
		return 67, 100
	default:
		return 0, 100
	}
}

// Asset is one playable unit in the content-addressable catalog. ID is the
// sha256 hex of the source audio bytes and never changes; two byte-identical
// files resolve to the same row regardless of path or name.
type Asset struct {
	ID           string    `gorm:"primaryKey;type:varchar(80)"`
	Path         string    `gorm:"index"`
	Kind         AssetKind `gorm:"type:varchar(16);index"`
	Duration     time.Duration
	LoudnessLUFS *float64 // integrated loudness, absent until measured
	TruePeakDB   *float64
	EnergyLevel  *int // optional 0-100 ordinal for flow selection
	Title        string
	Artist       string
	Album        string
	CreatedAt    time.Time `gorm:"index"`
}

// PlayHistory is an append-only fact recording a completed playout. AssetID
// may reference a since-deleted asset; reads resolve it with left-join
// semantics rather than a foreign key.
type PlayHistory struct {
	ID         uint      `gorm:"primaryKey;autoIncrement"`
	AssetID    string    `gorm:"index;type:varchar(256)"`
	PlayedAt   time.Time `gorm:"index"`
	SourceKind AssetKind `gorm:"type:varchar(16)"` // denormalized from the asset at play time
}

// TableName keeps the history table named as the wire schema expects.
func (PlayHistory) TableName() string { return "play_history" }

// OrphanPrefix marks synthetic assets created during reconciliation for
// legacy names whose files no longer exist. A content hash is bare hex, so
// the prefix can never collide with a real id.
const OrphanPrefix = "orphan:"

// OrphanID derives a deterministic id for a vanished legacy name.
func OrphanID(legacyName string) string {
	sum := sha256.Sum256([]byte(legacyName))
	return OrphanPrefix + hex.EncodeToString(sum[:])
}

// IsOrphanID reports whether an asset id is a reconciliation marker.
func IsOrphanID(id string) bool {
	return strings.HasPrefix(id, OrphanPrefix)
}
