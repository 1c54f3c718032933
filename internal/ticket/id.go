// Package ticket encodes and decodes numeric ticket identifiers. The layout
// packs the event code, a coded tier digit, and a per-tier sequence into one
// decimal number so the tier is recoverable from the identifier alone:
//
//	id = eventCode*1_000_000_000 + (tierIndex+1)*100_000 + sequence
//
// The coded digit at the 100_000 place is tierIndex+1, so a zero digit only
// appears on legacy identifiers minted before tiers were coded in; those
// decode to tier 0.
package ticket

import (
	"fmt"

	apperrors "github.com/stagegate/stagegate/internal/platform/errors"
)

const (
	eventMultiplier = 1_000_000_000
	tierMultiplier  = 100_000

	// MaxTier is the highest encodable tier index; the coded digit must fit
	// in one decimal place.
	MaxTier = 8
	// MaxSequence is the highest per-tier sequence number.
	MaxSequence = tierMultiplier - 1
)

// Encode builds the identifier for a ticket.
func Encode(eventCode uint64, tierIndex int, sequence uint64) (uint64, error) {
	if eventCode == 0 {
		return 0, apperrors.New(apperrors.CodeTicketIDInvalid, "event code must be nonzero")
	}
	if tierIndex < 0 || tierIndex > MaxTier {
		return 0, apperrors.WithMetadata(apperrors.CodeTicketIDInvalid,
			fmt.Sprintf("tier index %d out of range", tierIndex),
			map[string]string{"tier": fmt.Sprint(tierIndex)})
	}
	if sequence > MaxSequence {
		return 0, apperrors.WithMetadata(apperrors.CodeTicketIDInvalid,
			fmt.Sprintf("sequence %d out of range", sequence),
			map[string]string{"sequence": fmt.Sprint(sequence)})
	}
	return eventCode*eventMultiplier + uint64(tierIndex+1)*tierMultiplier + sequence, nil
}

// TierOf decodes the tier index from an identifier. A nonzero coded digit d
// decodes to tier d-1; a zero digit decodes to tier 0.
func TierOf(id uint64) int {
	digit := (id / tierMultiplier) % 10
	if digit == 0 {
		return 0
	}
	return int(digit - 1)
}

// EventCodeOf decodes the event code from an identifier.
func EventCodeOf(id uint64) uint64 {
	return id / eventMultiplier
}

// SequenceOf decodes the per-tier sequence from an identifier.
func SequenceOf(id uint64) uint64 {
	return id % tierMultiplier
}
