// Package types holds the JSON shapes exchanged with roster clients.
package types

import "time"

const (
	PhaseNoSession = "no_session"
	PhaseActive    = "active"
)

// View:
//
//	session_id: string
//	phase: "no_session" | "active"
//	invalid_session: boolean // last resolve named an unknown session
//	locations: { team | reserve | cemetery: LocationView }
type View struct {
	SessionID      string                  `json:"session_id,omitempty"`
	Phase          string                  `json:"phase"`
	InvalidSession bool                    `json:"invalid_session"`
	Locations      map[string]LocationView `json:"locations"`
}

// LocationView is one enriched location. Version follows the live feed.
// Error is set when catalog enrichment failed for one or more entries.
type LocationView struct {
	Version int         `json:"version"`
	Entries []EntryView `json:"entries"`
	Error   string      `json:"error,omitempty"`
}

type EntryView struct {
	ID         string    `json:"id"`
	SpeciesID  int       `json:"species_id"`
	Nickname   string    `json:"nickname"`
	Level      int       `json:"level"`
	Gender     string    `json:"gender"`
	PlacedAt   time.Time `json:"placed_at"`
	Species    *Species  `json:"species,omitempty"`
	Evolutions []Species `json:"evolutions"`
	Error      string    `json:"error,omitempty"`
}

type Species struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
}
