// Package controller drives one client's view of a roster: it resolves the
// session, keeps three live subscriptions open, enriches every snapshot with
// catalog data and publishes the result.
package controller

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/DoyleJ11/pokeroster/internal/catalog"
	"github.com/DoyleJ11/pokeroster/internal/localstate"
	"github.com/DoyleJ11/pokeroster/internal/roster"
	"github.com/DoyleJ11/pokeroster/internal/service"
	"github.com/DoyleJ11/pokeroster/pkg/types"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var (
	ErrNoSession  = errors.New("no active session")
	ErrNotDrained = errors.New("session still has entries")
)

const (
	DefaultConcurrency = 8
	viewBuffer         = 16
	maxDrainRounds     = 32
)

// Roster is the store surface the controller needs; *service.Service has it.
type Roster interface {
	CreateSession(ctx context.Context) (string, error)
	SessionExists(ctx context.Context, id string) (bool, error)
	DeleteSession(ctx context.Context, id string) error
	List(ctx context.Context, session string, loc roster.Location) ([]roster.Entry, error)
	Apply(ctx context.Context, session string, cmd roster.Command) (roster.Entry, error)
	Subscribe(ctx context.Context, session string, loc roster.Location) (*service.Subscription, error)
}

// Catalog is the species lookup surface; *catalog.Client has it.
type Catalog interface {
	PageLimit() int
	ListSpecies(ctx context.Context, offset, limit int) (catalog.ResourceList, error)
	SpeciesByName(ctx context.Context, name string) (catalog.Species, error)
	SpeciesByID(ctx context.Context, id int) (catalog.Species, error)
	Describe(s catalog.Species) catalog.Entry
	Evolutions(ctx context.Context, s catalog.Species) ([]catalog.Entry, error)
}

type Options struct {
	// Concurrency caps in-flight catalog lookups per enrichment pass.
	Concurrency int
}

// pass is the enrichment currently allowed to publish a location.
type pass struct {
	stamp  uint64
	cancel context.CancelFunc
}

// Controller is safe for concurrent use. Session transitions are serialized.
type Controller struct {
	ctx     context.Context
	roster  Roster
	catalog Catalog
	state   localstate.State
	limit   int
	log     *zap.Logger

	life sync.Mutex // Start, Resolve, Create, Close, Delete

	mu        sync.Mutex
	phase     string
	session   string
	invalid   bool
	locations map[roster.Location]types.LocationView
	species   []catalog.Entry
	subs      []*service.Subscription
	stopSubs  context.CancelFunc
	passes    map[roster.Location]pass
	stamp     uint64

	pumps     sync.WaitGroup
	enrichers sync.WaitGroup

	pubMu sync.Mutex
	views chan types.View
}

func New(ctx context.Context, r Roster, cat Catalog, st localstate.State, opts Options, log *zap.Logger) *Controller {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	return &Controller{
		ctx:       ctx,
		roster:    r,
		catalog:   cat,
		state:     st,
		limit:     opts.Concurrency,
		log:       log.Named("controller"),
		phase:     types.PhaseNoSession,
		locations: make(map[roster.Location]types.LocationView),
		passes:    make(map[roster.Location]pass),
		views:     make(chan types.View, viewBuffer),
	}
}

// Views delivers the view after every change. When the reader falls behind,
// older views are dropped in favour of the latest.
func (c *Controller) Views() <-chan types.View { return c.views }

func (c *Controller) View() types.View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewLocked()
}

func (c *Controller) Session() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Species is the catalog listing from the last LoadCatalog.
func (c *Controller) Species() []catalog.Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.species)
}

// Start resumes the session remembered in local state, if any. A remembered
// session that no longer exists raises the invalid-session flag and is forgotten.
func (c *Controller) Start(ctx context.Context) error {
	id, err := c.state.SessionID()
	if err != nil {
		return fmt.Errorf("read local state: %w", err)
	}
	if id == "" {
		c.publish()
		return nil
	}
	err = c.Resolve(ctx, id)
	if errors.Is(err, roster.ErrSessionNotFound) {
		return nil
	}
	return err
}

func (c *Controller) Resolve(ctx context.Context, id string) error {
	c.life.Lock()
	defer c.life.Unlock()

	id = strings.TrimSpace(id)
	ok, err := c.roster.SessionExists(ctx, id)
	if err == nil && !ok {
		err = roster.ErrSessionNotFound
		if stored, _ := c.state.SessionID(); stored == id {
			if cerr := c.state.Clear(); cerr != nil {
				c.log.Warn("clear local state", zap.Error(cerr))
			}
		}
	}
	if err != nil {
		c.log.Info("session lookup failed", zap.String("session", id), zap.Error(err))
		c.mu.Lock()
		c.invalid = true
		c.mu.Unlock()
		c.publish()
		return err
	}
	return c.activate(id)
}

func (c *Controller) Create(ctx context.Context) error {
	c.life.Lock()
	defer c.life.Unlock()

	id, err := c.roster.CreateSession(ctx)
	if err != nil {
		return err
	}
	return c.activate(id)
}

// Close leaves the current session and forgets it locally. Every
// subscription is released before Close returns.
func (c *Controller) Close() error {
	c.life.Lock()
	defer c.life.Unlock()

	err := c.teardown()
	err = multierr.Append(err, c.state.Clear())
	c.publish()
	return err
}

// Release drops the subscriptions like Close but keeps the session in local
// state, so the next Start resumes it.
func (c *Controller) Release() error {
	c.life.Lock()
	defer c.life.Unlock()

	err := c.teardown()
	c.publish()
	return err
}

// Delete empties all three locations, confirms they stay empty and only then
// removes the session itself.
func (c *Controller) Delete(ctx context.Context) error {
	c.life.Lock()
	defer c.life.Unlock()

	session := c.Session()
	if session == "" {
		return ErrNoSession
	}
	if err := c.drain(ctx, session); err != nil {
		return err
	}
	if err := c.roster.DeleteSession(ctx, session); err != nil {
		return err
	}
	c.log.Info("session deleted", zap.String("session", session))

	err := c.teardown()
	err = multierr.Append(err, c.state.Clear())
	c.publish()
	return err
}

func (c *Controller) drain(ctx context.Context, session string) error {
	for _, loc := range roster.Locations {
		for round := 0; ; round++ {
			entries, err := c.roster.List(ctx, session, loc)
			if err != nil {
				return fmt.Errorf("drain %s: %w", loc, err)
			}
			if len(entries) == 0 {
				break
			}
			if round == maxDrainRounds {
				return fmt.Errorf("%w: %s", ErrNotDrained, loc)
			}
			for _, e := range entries {
				_, err := c.roster.Apply(ctx, session, roster.Command{Type: roster.CmdRemove, Location: loc, EntryID: e.ID})
				if err != nil && !errors.Is(err, roster.ErrEntryNotFound) {
					return fmt.Errorf("drain %s: %w", loc, err)
				}
			}
		}
	}

	for _, loc := range roster.Locations {
		entries, err := c.roster.List(ctx, session, loc)
		if err != nil {
			return fmt.Errorf("confirm %s: %w", loc, err)
		}
		if len(entries) > 0 {
			return fmt.Errorf("%w: %s", ErrNotDrained, loc)
		}
	}
	return nil
}

// caller holds life
func (c *Controller) activate(id string) error {
	if err := c.teardown(); err != nil {
		c.log.Warn("leave previous session", zap.Error(err))
	}
	if err := c.state.SetSessionID(id); err != nil {
		return fmt.Errorf("save local state: %w", err)
	}

	subCtx, stop := context.WithCancel(c.ctx)
	subs := make([]*service.Subscription, 0, len(roster.Locations))
	for _, loc := range roster.Locations {
		sub, err := c.roster.Subscribe(subCtx, id, loc)
		if err != nil {
			stop()
			return fmt.Errorf("subscribe %s: %w", loc, err)
		}
		subs = append(subs, sub)
	}

	c.mu.Lock()
	c.phase = types.PhaseActive
	c.session = id
	c.invalid = false
	c.subs = subs
	c.stopSubs = stop
	c.mu.Unlock()

	for _, sub := range subs {
		c.pumps.Add(1)
		go c.pump(subCtx, id, sub)
	}
	c.log.Info("session active", zap.String("session", id))
	c.publish()
	return nil
}

// teardown releases the current session's subscriptions and waits for every
// pump and enrichment pass to stop. caller holds life
func (c *Controller) teardown() error {
	c.mu.Lock()
	subs, stop := c.subs, c.stopSubs
	for _, p := range c.passes {
		p.cancel()
	}
	clear(c.passes)
	clear(c.locations)
	c.subs, c.stopSubs = nil, nil
	c.phase = types.PhaseNoSession
	c.session = ""
	c.mu.Unlock()

	var err error
	for _, sub := range subs {
		err = multierr.Append(err, sub.Close())
	}
	if stop != nil {
		stop()
	}
	c.pumps.Wait()
	c.enrichers.Wait()
	return err
}

func (c *Controller) publish() {
	c.pubMu.Lock()
	defer c.pubMu.Unlock()

	v := c.View()
	for {
		select {
		case c.views <- v:
			return
		default:
		}
		select {
		case <-c.views:
		default:
		}
	}
}

// caller holds mu
func (c *Controller) viewLocked() types.View {
	v := types.View{
		SessionID:      c.session,
		Phase:          c.phase,
		InvalidSession: c.invalid,
		Locations:      make(map[string]types.LocationView, len(roster.Locations)),
	}
	if c.phase != types.PhaseActive {
		return v
	}
	for _, loc := range roster.Locations {
		lv, ok := c.locations[loc]
		if !ok {
			lv = types.LocationView{Entries: []types.EntryView{}}
		}
		v.Locations[string(loc)] = lv
	}
	return v
}
