package dto

import (
	"sort"

	"ledgerbridge/internal/domain/posting"
)

// BreakerResetResponse reports a reset.
type BreakerResetResponse struct {
	WasTripped bool                  `json:"was_tripped"`
	Status     posting.BreakerStatus `json:"status"`
}

// SetFlagRequest changes one runtime flag.
type SetFlagRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// FlagResponse is one runtime flag.
type FlagResponse struct {
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
}

// FromFlags sorts a flag snapshot by name.
func FromFlags(flags map[string]bool) []FlagResponse {
	out := make([]FlagResponse, 0, len(flags))
	for name, enabled := range flags {
		out = append(out, FlagResponse{Name: name, Enabled: enabled})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
