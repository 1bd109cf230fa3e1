package types

// Client -> Server
//
// Add:
//   location: "team" | "reserve" | "cemetery"
//   species_id: number
//   nickname, gender: string (optional)
//   level: number (optional, defaults to 1)
//
// Move:
//   location, to: location
//   entry_id: string
//
// Remove | LevelUp | LevelDown:
//   location: location
//   entry_id: string
//
// Update:
//   location: location
//   entry_id: string
//   field: "nickname" | "level" | "gender"
//   value: string
//
// request_id is echoed back on the Error it caused.
type ClientMessage struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`
	Location  string `json:"location,omitempty"`
	To        string `json:"to,omitempty"`
	EntryID   string `json:"entry_id,omitempty"`
	SpeciesID int    `json:"species_id,omitempty"`
	Nickname  string `json:"nickname,omitempty"`
	Level     int    `json:"level,omitempty"`
	Gender    string `json:"gender,omitempty"`
	Field     string `json:"field,omitempty"`
	Value     string `json:"value,omitempty"`
}

const (
	MsgView  = "View"
	MsgError = "Error"
)

// Server -> Client
//
// View: the controller's full view after every change.
// Error: a command from this client failed.
type ServerMessage struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`
	View      *View  `json:"view,omitempty"`
	Error     string `json:"error,omitempty"`
}
