package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/DoyleJ11/pokeroster/internal/feed"
	"github.com/DoyleJ11/pokeroster/internal/roster"
	"github.com/DoyleJ11/pokeroster/internal/store"
)

const subscriptionBuffer = 8

// Subscription is a live view of one location. C receives the current
// contents first, then every change, and is closed once the subscription ends.
type Subscription struct {
	C        <-chan feed.Snapshot
	Location roster.Location

	feed     *feed.Feed
	clientID string
	once     sync.Once
	stop     chan struct{}
}

// Subscribe attaches to session's live feed. The subscription is released by
// Close or when ctx ends, whichever comes first.
func (s *Service) Subscribe(ctx context.Context, session string, loc roster.Location) (*Subscription, error) {
	if !loc.Valid() {
		return nil, fmt.Errorf("%w: %q", roster.ErrInvalidLocation, loc)
	}
	ok, err := s.SessionExists(ctx, session)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, roster.ErrSessionNotFound
	}
	f := s.hub.Ensure(ctx, session)
	if f == nil {
		return nil, ErrClosed
	}

	out := make(chan feed.Snapshot, subscriptionBuffer)
	sub := &Subscription{
		C:        out,
		Location: loc,
		feed:     f,
		clientID: store.NewID(),
		stop:     make(chan struct{}),
	}
	if !f.Send(feed.Join{ClientID: sub.clientID, Location: loc, Outbox: out}) {
		return nil, ErrClosed
	}
	go func() {
		select {
		case <-ctx.Done():
			_ = sub.Close()
		case <-sub.stop:
		}
	}()
	return sub, nil
}

// Close detaches the subscription. It is safe to call more than once.
func (s *Subscription) Close() error {
	s.once.Do(func() {
		close(s.stop)
		s.feed.Send(feed.Leave{ClientID: s.clientID})
	})
	return nil
}
