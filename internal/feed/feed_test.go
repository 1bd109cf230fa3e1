package feed

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/DoyleJ11/pokeroster/internal/roster"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

// fakeLoader serves whatever entries the test put in it.
type fakeLoader struct {
	mu      sync.Mutex
	entries map[roster.Location][]roster.Entry
}

func newFakeLoader() *fakeLoader {
	return &fakeLoader{entries: map[roster.Location][]roster.Entry{}}
}

func (l *fakeLoader) List(_ context.Context, _ string, loc roster.Location) ([]roster.Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]roster.Entry(nil), l.entries[loc]...), nil
}

func (l *fakeLoader) set(loc roster.Location, n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	es := make([]roster.Entry, n)
	for i := range es {
		es[i] = roster.Entry{ID: fmt.Sprintf("%s-%d", loc, i), Location: loc, SpeciesID: i + 1, Level: 5}
	}
	l.entries[loc] = es
}

// helper: receive one snapshot with a timeout so tests never hang
func recvSnapshot(t *testing.T, ch <-chan Snapshot, within time.Duration) Snapshot {
	t.Helper()
	select {
	case snap, ok := <-ch:
		if !ok {
			t.Fatalf("client outbox closed unexpectedly")
		}
		return snap
	case <-time.After(within):
		t.Fatalf("timed out waiting for snapshot")
		return Snapshot{} // unreachable
	}
}

func recvNoSnapshot(t *testing.T, ch <-chan Snapshot, within time.Duration) {
	t.Helper()
	select {
	case s, ok := <-ch:
		if !ok {
			return
		}
		t.Fatalf("expected no snapshot within %v, but got: %+v", within, s)
	case <-time.After(within):
		// good: no snapshot
	}
}

func recvView(t *testing.T, ch <-chan View, within time.Duration) View {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(within):
		t.Fatalf("timed out waiting for view")
		return View{} // unreachable
	}
}

func TestFeed_JoinSendsCurrentThenRefreshBroadcasts(t *testing.T) {
	defer goleak.VerifyNone(t)

	loader := newFakeLoader()
	loader.set(roster.LocationReserve, 2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := New(ctx, "S1", loader, roster.DefaultTeamCap, zap.NewNop(), nil)

	out := make(chan Snapshot, 2)
	f.Send(Join{ClientID: "c1", Location: roster.LocationReserve, Outbox: out})

	first := recvSnapshot(t, out, 100*time.Millisecond)
	if first.Version != 0 || len(first.Entries) != 2 {
		t.Fatalf("after join: want version 0 with 2 entries, got %d with %d", first.Version, len(first.Entries))
	}

	loader.set(roster.LocationReserve, 3)
	f.Send(Refresh{})

	next := recvSnapshot(t, out, 100*time.Millisecond)
	if next.Version != 1 || len(next.Entries) != 3 {
		t.Fatalf("after refresh: want version 1 with 3 entries, got %d with %d", next.Version, len(next.Entries))
	}

	f.Send(Shutdown{})
	<-f.Done()
}

func TestFeed_TeamSnapshotIsTruncated(t *testing.T) {
	loader := newFakeLoader()
	loader.set(roster.LocationTeam, 9)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := New(ctx, "S1", loader, roster.DefaultTeamCap, zap.NewNop(), nil)

	out := make(chan Snapshot, 1)
	f.Send(Join{ClientID: "c1", Location: roster.LocationTeam, Outbox: out})

	snap := recvSnapshot(t, out, 100*time.Millisecond)
	if len(snap.Entries) != roster.DefaultTeamCap {
		t.Fatalf("want %d team entries, got %d", roster.DefaultTeamCap, len(snap.Entries))
	}
}

func TestFeed_RefreshOnlyNotifiesChangedLocation(t *testing.T) {
	loader := newFakeLoader()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := New(ctx, "S1", loader, roster.DefaultTeamCap, zap.NewNop(), nil)

	team := make(chan Snapshot, 2)
	grave := make(chan Snapshot, 2)
	f.Send(Join{ClientID: "team", Location: roster.LocationTeam, Outbox: team})
	f.Send(Join{ClientID: "grave", Location: roster.LocationCemetery, Outbox: grave})
	recvSnapshot(t, team, 100*time.Millisecond)
	recvSnapshot(t, grave, 100*time.Millisecond)

	loader.set(roster.LocationCemetery, 1)
	f.Send(Refresh{})

	if snap := recvSnapshot(t, grave, 100*time.Millisecond); len(snap.Entries) != 1 {
		t.Fatalf("cemetery: want 1 entry, got %d", len(snap.Entries))
	}
	recvNoSnapshot(t, team, 100*time.Millisecond)
}

func TestFeed_DropSlowClient(t *testing.T) {
	loader := newFakeLoader()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := New(ctx, "S1", loader, roster.DefaultTeamCap, zap.NewNop(), nil)

	out := make(chan Snapshot, 1)
	f.Send(Join{ClientID: "c1", Location: roster.LocationTeam, Outbox: out})

	// never drain: the join snapshot fills the buffer
	loader.set(roster.LocationTeam, 1)
	f.Send(Refresh{})

	reply := make(chan View, 1)
	f.Send(GetState{Reply: reply})
	view := recvView(t, reply, 100*time.Millisecond)

	if view.NumClients != 0 {
		t.Fatalf("expected slow client to be dropped; NumClients=%d", view.NumClients)
	}
}

func TestFeed_LeaveClosesOutbox(t *testing.T) {
	loader := newFakeLoader()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := New(ctx, "S1", loader, roster.DefaultTeamCap, zap.NewNop(), nil)

	out := make(chan Snapshot, 1)
	f.Send(Join{ClientID: "c1", Location: roster.LocationTeam, Outbox: out})
	recvSnapshot(t, out, 100*time.Millisecond)
	f.Send(Leave{ClientID: "c1"})

	select {
	case _, ok := <-out:
		if ok {
			t.Fatalf("expected closed outbox")
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatalf("outbox not closed after leave")
	}
}

func TestFeed_ShutdownClosesOutboxes(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := New(context.Background(), "S1", newFakeLoader(), roster.DefaultTeamCap, zap.NewNop(), nil)
	out := make(chan Snapshot, 1)
	f.Send(Join{ClientID: "c1", Location: roster.LocationTeam, Outbox: out})
	recvSnapshot(t, out, 100*time.Millisecond)

	f.Send(Shutdown{})
	<-f.Done()

	if _, ok := <-out; ok {
		t.Fatalf("expected outbox closed by shutdown")
	}
}
