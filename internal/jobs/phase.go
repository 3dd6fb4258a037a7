// Package jobs implements the conversion job lifecycle core: phase
// normalization, the canonical state store, progress aggregation, event
// handler registration, and the orchestrator that callers start jobs with.
package jobs

import (
	"strings"

	"doc-converter/internal/domain"
)

// rawPhaseTable maps every raw worker status the converters emit to its
// canonical phase. Each converter kind has its own vocabulary; all of them
// normalize through this one table.
var rawPhaseTable = map[string]domain.Phase{
	// shared
	"initializing": domain.PhaseInitializing,
	"preparing":    domain.PhasePreparing,
	"processing":   domain.PhaseConverting,
	"converting":   domain.PhaseConverting,
	"cleaning_up":  domain.PhaseCleaningUp,
	"completed":    domain.PhaseCompleted,
	"complete":     domain.PhaseCompleted,
	"done":         domain.PhaseCompleted,
	"failed":       domain.PhaseError,
	"error":        domain.PhaseError,
	"cancelled":    domain.PhaseCancelled,
	"canceled":     domain.PhaseCancelled,

	// audio converter
	"preprocessing": domain.PhasePreparing,
	"transcribing":  domain.PhaseConverting,
	"exporting":     domain.PhaseCleaningUp,

	// website crawler
	"finding_sitemap":  domain.PhasePreparing,
	"parsing_sitemap":  domain.PhasePreparing,
	"crawling_pages":   domain.PhaseConverting,
	"converting_pages": domain.PhaseConverting,
}

// MapRawStatus normalizes a raw worker status string to a canonical phase.
// Unknown statuses return ok=false and must not overwrite the current phase:
// a malformed payload never corrupts visible state.
func MapRawStatus(raw string) (domain.Phase, bool) {
	phase, ok := rawPhaseTable[strings.ToLower(strings.TrimSpace(raw))]
	return phase, ok
}
