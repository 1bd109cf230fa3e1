package catalog

import (
	"context"
	"fmt"

	"golang.org/x/text/language"
)

// Entry is a species as shown to users.
type Entry struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
}

// Detail is a species together with the other stages of its evolution chain.
type Detail struct {
	Entry
	Evolutions []Entry `json:"evolutions"`
}

// FormatName renders "025 - <secondary> / <primary>". Missing names stay empty.
func FormatName(id int, secondary, primary string) string {
	return fmt.Sprintf("%03d - %s / %s", id, secondary, primary)
}

// LocalName picks the name whose language best matches want, or "" when
// nothing matches closely enough.
func LocalName(names []Name, want language.Tag) string {
	tags := make([]language.Tag, 0, len(names))
	idx := make([]int, 0, len(names))
	for i, n := range names {
		tag, err := language.Parse(n.Language.Name)
		if err != nil {
			continue // PokeAPI carries a few non-BCP47 codes such as "roomaji"
		}
		tags = append(tags, tag)
		idx = append(idx, i)
	}
	if len(tags) == 0 {
		return ""
	}
	_, i, conf := language.NewMatcher(tags).Match(want)
	if conf < language.High {
		return ""
	}
	return names[idx[i]].Name
}

func (c *Client) DisplayName(s Species) string {
	return FormatName(s.ID, LocalName(s.Names, c.secondary), LocalName(s.Names, c.primary))
}

func (c *Client) Describe(s Species) Entry {
	return Entry{ID: s.ID, Name: s.Name, DisplayName: c.DisplayName(s)}
}

// Stages walks a chain depth first and returns every species name once.
func Stages(root ChainLink) []string {
	var (
		out     []string
		visited = map[string]bool{}
		walk    func(ChainLink)
	)
	walk = func(link ChainLink) {
		name := link.Species.Name
		if name == "" || visited[name] {
			return
		}
		visited[name] = true
		out = append(out, name)
		for _, next := range link.EvolvesTo {
			walk(next)
		}
	}
	walk(root)
	return out
}

// Evolutions resolves every other stage of s's evolution chain.
func (c *Client) Evolutions(ctx context.Context, s Species) ([]Entry, error) {
	id, err := ChainID(s.EvolutionChain.URL)
	if err != nil {
		return nil, err
	}
	chain, err := c.EvolutionChain(ctx, id)
	if err != nil {
		return nil, err
	}

	var out []Entry
	for _, name := range Stages(chain.Chain) {
		if name == s.Name {
			continue
		}
		stage, err := c.SpeciesByName(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("evolution %q: %w", name, err)
		}
		out = append(out, c.Describe(stage))
	}
	return out, nil
}

// Detail looks up a species by name or numeric id and resolves its evolutions.
func (c *Client) Detail(ctx context.Context, nameOrID string) (Detail, error) {
	s, err := c.SpeciesByName(ctx, nameOrID)
	if err != nil {
		return Detail{}, err
	}
	evos, err := c.Evolutions(ctx, s)
	if err != nil {
		return Detail{}, err
	}
	return Detail{Entry: c.Describe(s), Evolutions: evos}, nil
}
