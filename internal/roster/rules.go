package roster

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
)

// DefaultTeamCap is how many entries a team holds.
const DefaultTeamCap = 6

// NewEntry fills defaults for a freshly caught entry.
func NewEntry(speciesID int) Entry {
	return Entry{SpeciesID: speciesID, Level: MinLevel, Gender: GenderNone}
}

func ValidateEntry(e Entry) error {
	if e.SpeciesID <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidSpecies, e.SpeciesID)
	}
	if e.Level < MinLevel || e.Level > MaxLevel {
		return fmt.Errorf("%w: %d", ErrInvalidLevel, e.Level)
	}
	if _, err := ParseGender(string(e.Gender)); err != nil {
		return err
	}
	return nil
}

// Normalize trims the nickname and defaults an empty gender and zero level.
func Normalize(e Entry) Entry {
	e.Nickname = strings.TrimSpace(e.Nickname)
	if e.Gender == "" {
		e.Gender = GenderNone
	}
	if e.Level == 0 {
		e.Level = MinLevel
	}
	return e
}

// FieldPatch parses a textual field update into a Patch.
func FieldPatch(field Field, value string) (Patch, error) {
	switch field {
	case FieldNickname:
		v := strings.TrimSpace(value)
		return Patch{Nickname: &v}, nil
	case FieldLevel:
		lvl, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || lvl < MinLevel || lvl > MaxLevel {
			return Patch{}, fmt.Errorf("%w: %q", ErrInvalidLevel, value)
		}
		return Patch{Level: &lvl}, nil
	case FieldGender:
		g, err := ParseGender(value)
		if err != nil {
			return Patch{}, err
		}
		return Patch{Gender: &g}, nil
	default:
		return Patch{}, fmt.Errorf("%w: %q", ErrUnknownField, field)
	}
}

// StepLevel moves level by delta within bounds. changed is false when the
// level is already at the bound.
func StepLevel(level, delta int) (next int, changed bool) {
	next = min(max(level+delta, MinLevel), MaxLevel)
	return next, next != level
}

// Capacity is the write-side limit for a location; 0 means unbounded.
func Capacity(loc Location, teamCap int) int {
	if loc == LocationTeam {
		return teamCap
	}
	return 0
}

// Visible truncates a location's entries to what a reader may see.
func Visible(loc Location, entries []Entry, teamCap int) []Entry {
	if limit := Capacity(loc, teamCap); limit > 0 && len(entries) > limit {
		return entries[:limit]
	}
	return entries
}

// Sort orders entries by placement time, then ID.
func Sort(entries []Entry) {
	slices.SortStableFunc(entries, func(a, b Entry) int {
		if c := a.PlacedAt.Compare(b.PlacedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}

// Validate checks a command's shape before it reaches a store.
func Validate(cmd Command) error {
	switch cmd.Type {
	case CmdAdd:
		if !cmd.Location.Valid() {
			return fmt.Errorf("%w: %q", ErrInvalidLocation, cmd.Location)
		}
		return ValidateEntry(Normalize(cmd.Entry))
	case CmdMove:
		if !cmd.Location.Valid() || !cmd.To.Valid() {
			return fmt.Errorf("%w: %q -> %q", ErrInvalidLocation, cmd.Location, cmd.To)
		}
	case CmdRemove, CmdLevelUp, CmdLevelDown:
		if !cmd.Location.Valid() {
			return fmt.Errorf("%w: %q", ErrInvalidLocation, cmd.Location)
		}
	case CmdUpdate:
		if !cmd.Location.Valid() {
			return fmt.Errorf("%w: %q", ErrInvalidLocation, cmd.Location)
		}
		if _, err := FieldPatch(cmd.Field, cmd.Value); err != nil {
			return err
		}
	default:
		return ErrUnsupportedCommand
	}
	if cmd.EntryID == "" {
		return ErrEntryNotFound
	}
	return nil
}

// Placed stamps an entry's placement time.
func Placed(e Entry, loc Location, at time.Time) Entry {
	e.Location = loc
	e.PlacedAt = at.UTC()
	return e
}
