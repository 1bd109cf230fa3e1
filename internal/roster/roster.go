package roster

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

var ErrInvalidLocation = errors.New("invalid location")
var ErrInvalidGender = errors.New("invalid gender")
var ErrInvalidLevel = errors.New("level out of range")
var ErrInvalidSpecies = errors.New("invalid species id")
var ErrUnknownField = errors.New("unknown field")
var ErrUnsupportedCommand = errors.New("unsupported command")
var ErrLocationFull = errors.New("location is full")
var ErrEntryNotFound = errors.New("entry not found")
var ErrSessionNotFound = errors.New("session not found")
var ErrSessionExists = errors.New("session already exists")
var ErrSessionNotEmpty = errors.New("session still has entries")

type Location string

const (
	LocationTeam     Location = "team"
	LocationReserve  Location = "reserve"
	LocationCemetery Location = "cemetery"
)

// Locations lists every location in display order.
var Locations = []Location{LocationTeam, LocationReserve, LocationCemetery}

func ParseLocation(s string) (Location, error) {
	switch loc := Location(strings.ToLower(strings.TrimSpace(s))); loc {
	case LocationTeam, LocationReserve, LocationCemetery:
		return loc, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidLocation, s)
	}
}

// Valid reports whether l is one of the canonical (lower-case) locations.
func (l Location) Valid() bool {
	return slices.Contains(Locations, l)
}

type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
	GenderNone   Gender = "none"
)

func ParseGender(s string) (Gender, error) {
	switch g := Gender(strings.ToLower(strings.TrimSpace(s))); g {
	case GenderMale, GenderFemale, GenderNone:
		return g, nil
	case "":
		return GenderNone, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidGender, s)
	}
}

const (
	MinLevel = 1
	MaxLevel = 100
)

// Entry is one Pokémon owned by a session. Location is a field, so moving an
// entry never changes its ID.
type Entry struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Location  Location  `json:"location"`
	SpeciesID int       `json:"species_id"`
	Nickname  string    `json:"nickname"`
	Level     int       `json:"level"`
	Gender    Gender    `json:"gender"`
	PlacedAt  time.Time `json:"placed_at"`
}

type Field string

const (
	FieldNickname Field = "nickname"
	FieldLevel    Field = "level"
	FieldGender   Field = "gender"
)

// Patch carries the fields an update touches; nil means unchanged.
type Patch struct {
	Nickname *string
	Level    *int
	Gender   *Gender
}

func (p Patch) Empty() bool {
	return p.Nickname == nil && p.Level == nil && p.Gender == nil
}

// Apply returns e with the patch applied.
func (p Patch) Apply(e Entry) Entry {
	if p.Nickname != nil {
		e.Nickname = *p.Nickname
	}
	if p.Level != nil {
		e.Level = *p.Level
	}
	if p.Gender != nil {
		e.Gender = *p.Gender
	}
	return e
}

type CommandType string

const (
	CmdAdd       CommandType = "Add"
	CmdMove      CommandType = "Move"
	CmdRemove    CommandType = "Remove"
	CmdUpdate    CommandType = "Update"
	CmdLevelUp   CommandType = "LevelUp"
	CmdLevelDown CommandType = "LevelDown"
)

/*
	CmdAdd       -> insert Entry into Location (fresh ID)
	CmdMove      -> relocate EntryID from Location to To, ID kept
	CmdRemove    -> delete EntryID from Location
	CmdUpdate    -> patch Field of EntryID with Value
	CmdLevelUp   -> Level+1, no write at MaxLevel
	CmdLevelDown -> Level-1, no write at MinLevel
*/

type Command struct {
	Type     CommandType
	Location Location
	To       Location
	EntryID  string
	Entry    Entry
	Field    Field
	Value    string
}
