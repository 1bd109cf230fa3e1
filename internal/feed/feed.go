package feed

import (
	"context"
	"slices"
	"time"

	"github.com/DoyleJ11/pokeroster/internal/metrics"
	"github.com/DoyleJ11/pokeroster/internal/roster"
	"go.uber.org/zap"
)

// Loader reads one location of a session.
type Loader interface {
	List(ctx context.Context, session string, loc roster.Location) ([]roster.Entry, error)
}

type Msg interface{ isFeedMsg() }

type Join struct {
	ClientID string
	Location roster.Location
	Outbox   chan Snapshot // where this client wants to receive snapshots
}

func (Join) isFeedMsg() {}

type Leave struct{ ClientID string }

func (Leave) isFeedMsg() {}

// Refresh reloads every location from the store and broadcasts what changed.
type Refresh struct{}

func (Refresh) isFeedMsg() {}

type Shutdown struct{}

func (Shutdown) isFeedMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isFeedMsg() {}

type Snapshot struct {
	Version  int
	Location roster.Location
	Entries  []roster.Entry
}

type View struct {
	Version    int
	NumClients int
	Entries    map[roster.Location][]roster.Entry
}

type client struct {
	loc    roster.Location
	outbox chan Snapshot
}

const loadTimeout = 5 * time.Second

type Feed struct {
	session string
	inbox   chan Msg
	loader  Loader
	teamCap int
	version int
	loaded  bool
	state   map[roster.Location][]roster.Entry
	clients map[string]client
	ctx     context.Context
	cancel  context.CancelFunc
	log     *zap.Logger
	metrics *metrics.Metrics
}

func New(parent context.Context, session string, loader Loader, teamCap int, log *zap.Logger, m *metrics.Metrics) *Feed {
	ctx, cancel := context.WithCancel(parent)

	f := &Feed{
		session: session,
		inbox:   make(chan Msg, 64), // Small buffer
		loader:  loader,
		teamCap: teamCap,
		state:   make(map[roster.Location][]roster.Entry, len(roster.Locations)),
		clients: make(map[string]client),
		ctx:     ctx,
		cancel:  cancel,
		log:     log.With(zap.String("session", session)),
		metrics: m,
	}

	go f.loop()
	return f
}

func (f *Feed) loop() {
	for {
		select {
		case <-f.ctx.Done():
			f.shutdown()
			return

		case m := <-f.inbox:
			switch msg := m.(type) {
			case Join:
				if !f.loaded {
					f.reload()
				}
				f.clients[msg.ClientID] = client{loc: msg.Location, outbox: msg.Outbox}
				f.metrics.SubscriberJoined()
				f.deliver(msg.ClientID, f.snapshot(msg.Location))

			case Leave:
				if c, ok := f.clients[msg.ClientID]; ok {
					close(c.outbox)
					delete(f.clients, msg.ClientID)
					f.metrics.SubscriberLeft()
				}

			case Refresh:
				changed := f.reload()
				if len(changed) == 0 {
					break
				}
				f.version++
				for _, loc := range changed {
					f.broadcast(loc)
				}

			case GetState:
				// test-only: reflect internal state without data races
				entries := make(map[roster.Location][]roster.Entry, len(f.state))
				for loc, es := range f.state {
					entries[loc] = slices.Clone(es)
				}
				msg.Reply <- View{Version: f.version, NumClients: len(f.clients), Entries: entries}

			case Shutdown:
				f.shutdown()
				return
			}
		}
	}
}

// reload fetches all locations and returns the ones whose contents changed.
// A failed location keeps its previous contents.
func (f *Feed) reload() []roster.Location {
	ctx, cancel := context.WithTimeout(f.ctx, loadTimeout)
	defer cancel()

	var changed []roster.Location
	for _, loc := range roster.Locations {
		entries, err := f.loader.List(ctx, f.session, loc)
		if err != nil {
			f.log.Warn("load roster", zap.String("location", string(loc)), zap.Error(err))
			continue
		}
		if prev, ok := f.state[loc]; !ok || !slices.Equal(prev, entries) {
			changed = append(changed, loc)
		}
		f.state[loc] = entries
	}
	f.loaded = true
	return changed
}

func (f *Feed) snapshot(loc roster.Location) Snapshot {
	visible := roster.Visible(loc, f.state[loc], f.teamCap)
	return Snapshot{Version: f.version, Location: loc, Entries: slices.Clone(visible)}
}

func (f *Feed) shutdown() {
	for id, c := range f.clients {
		close(c.outbox) // Tell client no more snapshots
		delete(f.clients, id)
		f.metrics.SubscriberLeft()
	}
	f.cancel()
}

func (f *Feed) broadcast(loc roster.Location) {
	snap := f.snapshot(loc)
	for id, c := range f.clients {
		if c.loc == loc {
			f.deliver(id, snap)
		}
	}
}

func (f *Feed) deliver(id string, snap Snapshot) {
	c := f.clients[id]
	select {
	case c.outbox <- snap:
		//ok
	default:
		// Client is slow/full - drop them.
		f.log.Warn("dropping slow subscriber", zap.String("client", id))
		close(c.outbox)
		delete(f.clients, id)
		f.metrics.SubscriberLeft()
	}
}

// Send queues msg unless the feed has stopped. It reports whether msg was queued.
func (f *Feed) Send(msg Msg) bool {
	select {
	case f.inbox <- msg:
		return true
	case <-f.ctx.Done():
		return false
	}
}

// Done is closed once the feed stops.
func (f *Feed) Done() <-chan struct{} { return f.ctx.Done() }

func (f *Feed) Session() string { return f.session }
