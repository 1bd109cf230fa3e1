package controller

import (
	"context"
	"fmt"
	"slices"

	"github.com/DoyleJ11/pokeroster/internal/catalog"
	"github.com/DoyleJ11/pokeroster/internal/feed"
	"github.com/DoyleJ11/pokeroster/internal/roster"
	"github.com/DoyleJ11/pokeroster/internal/service"
	"github.com/DoyleJ11/pokeroster/pkg/types"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func (c *Controller) pump(ctx context.Context, session string, sub *service.Subscription) {
	defer c.pumps.Done()
	for snap := range sub.C {
		c.enrich(ctx, session, snap)
	}
}

// enrich starts a pass for snap, cancelling the pass it supersedes.
func (c *Controller) enrich(ctx context.Context, session string, snap feed.Snapshot) {
	c.mu.Lock()
	if c.session != session {
		c.mu.Unlock()
		return
	}
	c.stamp++
	stamp := c.stamp
	if prev, ok := c.passes[snap.Location]; ok {
		prev.cancel()
	}
	pctx, cancel := context.WithCancel(ctx)
	c.passes[snap.Location] = pass{stamp: stamp, cancel: cancel}
	c.enrichers.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.enrichers.Done()
		defer cancel()
		lv := c.enrichLocation(pctx, snap)
		c.commit(session, snap.Location, stamp, lv)
	}()
}

// commit publishes lv unless a newer pass for the location has started since.
func (c *Controller) commit(session string, loc roster.Location, stamp uint64, lv types.LocationView) {
	c.mu.Lock()
	p, ok := c.passes[loc]
	if c.session != session || !ok || p.stamp != stamp {
		c.mu.Unlock()
		c.log.Debug("discarding stale enrichment", zap.String("location", string(loc)), zap.Uint64("stamp", stamp))
		return
	}
	delete(c.passes, loc)
	c.locations[loc] = lv
	c.mu.Unlock()

	if lv.Error != "" {
		c.log.Warn("enrichment incomplete",
			zap.String("session", session), zap.String("location", string(loc)), zap.String("error", lv.Error))
	}
	c.publish()
}

func (c *Controller) enrichLocation(ctx context.Context, snap feed.Snapshot) types.LocationView {
	entries := make([]types.EntryView, len(snap.Entries))
	errs := make([]error, len(snap.Entries))

	var g errgroup.Group
	g.SetLimit(c.limit)
	for i, e := range snap.Entries {
		g.Go(func() error {
			entries[i], errs[i] = c.enrichEntry(ctx, e)
			return nil // one failed entry must not cancel its siblings
		})
	}
	_ = g.Wait()

	lv := types.LocationView{Version: snap.Version, Entries: entries}
	if err := multierr.Combine(errs...); err != nil {
		lv.Error = err.Error()
	}
	return lv
}

func (c *Controller) enrichEntry(ctx context.Context, e roster.Entry) (types.EntryView, error) {
	v := types.EntryView{
		ID:         e.ID,
		SpeciesID:  e.SpeciesID,
		Nickname:   e.Nickname,
		Level:      e.Level,
		Gender:     string(e.Gender),
		PlacedAt:   e.PlacedAt,
		Evolutions: []types.Species{},
	}

	s, err := c.catalog.SpeciesByID(ctx, e.SpeciesID)
	if err != nil {
		v.Error = err.Error()
		return v, fmt.Errorf("species %d: %w", e.SpeciesID, err)
	}
	sp := toSpecies(c.catalog.Describe(s))
	v.Species = &sp

	evos, err := c.catalog.Evolutions(ctx, s)
	if err != nil {
		v.Error = err.Error()
		return v, fmt.Errorf("evolutions of %s: %w", s.Name, err)
	}
	for _, evo := range evos {
		v.Evolutions = append(v.Evolutions, toSpecies(evo))
	}
	return v, nil
}

func toSpecies(e catalog.Entry) types.Species {
	return types.Species{ID: e.ID, Name: e.Name, DisplayName: e.DisplayName}
}

// LoadCatalog lists the whole species catalog and resolves every display name.
// Species that fail to resolve are left out and reported in the returned error.
func (c *Controller) LoadCatalog(ctx context.Context) ([]catalog.Entry, error) {
	list, err := c.catalog.ListSpecies(ctx, 0, c.catalog.PageLimit())
	if err != nil {
		return nil, fmt.Errorf("list species: %w", err)
	}

	resolved := make([]catalog.Entry, len(list.Results))
	errs := make([]error, len(list.Results))

	var g errgroup.Group
	g.SetLimit(c.limit)
	for i, res := range list.Results {
		g.Go(func() error {
			s, err := c.catalog.SpeciesByName(ctx, res.Name)
			if err != nil {
				errs[i] = fmt.Errorf("species %q: %w", res.Name, err)
				return nil
			}
			resolved[i] = c.catalog.Describe(s)
			return nil
		})
	}
	_ = g.Wait()

	out := slices.DeleteFunc(resolved, func(e catalog.Entry) bool { return e.ID == 0 })
	slices.SortFunc(out, func(a, b catalog.Entry) int { return a.ID - b.ID })

	c.mu.Lock()
	c.species = out
	c.mu.Unlock()

	err = multierr.Combine(errs...)
	if err != nil {
		c.log.Warn("catalog partially loaded", zap.Int("loaded", len(out)), zap.Int("listed", len(list.Results)), zap.Error(err))
	}
	return slices.Clone(out), err
}

func (c *Controller) Dispatch(ctx context.Context, cmd roster.Command) (roster.Entry, error) {
	session := c.Session()
	if session == "" {
		return roster.Entry{}, ErrNoSession
	}
	return c.roster.Apply(ctx, session, cmd)
}

func (c *Controller) Add(ctx context.Context, loc roster.Location, e roster.Entry) (roster.Entry, error) {
	return c.Dispatch(ctx, roster.Command{Type: roster.CmdAdd, Location: loc, Entry: e})
}

func (c *Controller) Move(ctx context.Context, id string, from, to roster.Location) (roster.Entry, error) {
	return c.Dispatch(ctx, roster.Command{Type: roster.CmdMove, Location: from, To: to, EntryID: id})
}

func (c *Controller) Remove(ctx context.Context, loc roster.Location, id string) error {
	_, err := c.Dispatch(ctx, roster.Command{Type: roster.CmdRemove, Location: loc, EntryID: id})
	return err
}

func (c *Controller) Update(ctx context.Context, loc roster.Location, id string, field roster.Field, value string) (roster.Entry, error) {
	return c.Dispatch(ctx, roster.Command{Type: roster.CmdUpdate, Location: loc, EntryID: id, Field: field, Value: value})
}

func (c *Controller) LevelUp(ctx context.Context, loc roster.Location, id string) (roster.Entry, error) {
	return c.Dispatch(ctx, roster.Command{Type: roster.CmdLevelUp, Location: loc, EntryID: id})
}

func (c *Controller) LevelDown(ctx context.Context, loc roster.Location, id string) (roster.Entry, error) {
	return c.Dispatch(ctx, roster.Command{Type: roster.CmdLevelDown, Location: loc, EntryID: id})
}
