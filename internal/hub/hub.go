package hub

import (
	"context"

	"github.com/DoyleJ11/pokeroster/internal/feed"
	"github.com/DoyleJ11/pokeroster/internal/metrics"
	"go.uber.org/zap"
)

type HubMsg interface{ isHubMsg() }

// EnsureFeed returns the session's feed, starting it if needed.
type EnsureFeed struct {
	Session string
	Reply   chan *feed.Feed
}

type GetFeed struct {
	Session string
	Reply   chan *feed.Feed
}

// RemoveFeed stops the session's feed, closing every subscription.
type RemoveFeed struct {
	Session string
}

// RefreshFeed reloads one session's feed, or every feed when Session is "".
type RefreshFeed struct {
	Session string
}

type ShutdownHub struct{}

func (EnsureFeed) isHubMsg()  {}
func (GetFeed) isHubMsg()     {}
func (RemoveFeed) isHubMsg()  {}
func (RefreshFeed) isHubMsg() {}
func (ShutdownHub) isHubMsg() {}

type Hub struct {
	inbox   chan HubMsg
	feeds   map[string]*feed.Feed
	loader  feed.Loader
	teamCap int
	log     *zap.Logger
	metrics *metrics.Metrics
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewHub(parent context.Context, loader feed.Loader, teamCap int, log *zap.Logger, m *metrics.Metrics) *Hub {
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:   make(chan HubMsg, 64),
		feeds:   make(map[string]*feed.Feed),
		loader:  loader,
		teamCap: teamCap,
		log:     log.Named("hub"),
		metrics: m,
		ctx:     ctx,
		cancel:  cancel,
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case EnsureFeed:
				msg.Reply <- h.ensure(msg.Session)

			case GetFeed:
				msg.Reply <- h.live(msg.Session) // May be nil

			case RemoveFeed:
				if f := h.live(msg.Session); f != nil {
					f.Send(feed.Shutdown{})
				}
				delete(h.feeds, msg.Session)

			case RefreshFeed:
				if msg.Session == "" {
					for id := range h.feeds {
						if f := h.live(id); f != nil {
							f.Send(feed.Refresh{})
						}
					}
					break
				}
				if f := h.live(msg.Session); f != nil {
					f.Send(feed.Refresh{})
				}

			case ShutdownHub:
				h.shutdown()
				return
			}
		}
	}
}

func (h *Hub) ensure(session string) *feed.Feed {
	if f := h.live(session); f != nil {
		return f
	}
	f := feed.New(h.ctx, session, h.loader, h.teamCap, h.log.Named("feed"), h.metrics)
	h.feeds[session] = f
	return f
}

// live returns the session's feed if it is still running, forgetting stopped ones.
func (h *Hub) live(session string) *feed.Feed {
	f := h.feeds[session]
	if f == nil {
		return nil
	}
	select {
	case <-f.Done():
		delete(h.feeds, session)
		return nil
	default:
		return f
	}
}

func (h *Hub) shutdown() {
	for _, f := range h.feeds {
		f.Send(feed.Shutdown{})
	}
	clear(h.feeds)
	h.cancel()
}

// Ensure is a synchronous EnsureFeed. It returns nil once the hub has stopped.
func (h *Hub) Ensure(ctx context.Context, session string) *feed.Feed {
	return h.ask(ctx, func(reply chan *feed.Feed) HubMsg { return EnsureFeed{Session: session, Reply: reply} })
}

// Get is a synchronous GetFeed.
func (h *Hub) Get(ctx context.Context, session string) *feed.Feed {
	return h.ask(ctx, func(reply chan *feed.Feed) HubMsg { return GetFeed{Session: session, Reply: reply} })
}

func (h *Hub) Refresh(session string) { h.send(RefreshFeed{Session: session}) }

func (h *Hub) Remove(session string) { h.send(RemoveFeed{Session: session}) }

func (h *Hub) Shutdown() { h.send(ShutdownHub{}) }

func (h *Hub) send(msg HubMsg) {
	select {
	case h.inbox <- msg:
	case <-h.ctx.Done():
	}
}

func (h *Hub) ask(ctx context.Context, build func(chan *feed.Feed) HubMsg) *feed.Feed {
	reply := make(chan *feed.Feed, 1)
	select {
	case h.inbox <- build(reply):
	case <-h.ctx.Done():
		return nil
	case <-ctx.Done():
		return nil
	}
	select {
	case f := <-reply:
		return f
	case <-h.ctx.Done():
		return nil
	case <-ctx.Done():
		return nil
	}
}

// Done is closed once the hub stops.
func (h *Hub) Done() <-chan struct{} { return h.ctx.Done() }
