package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DoyleJ11/pokeroster/internal/feed"
	"github.com/DoyleJ11/pokeroster/internal/hub"
	"github.com/DoyleJ11/pokeroster/internal/metrics"
	"github.com/DoyleJ11/pokeroster/internal/roster"
	"github.com/DoyleJ11/pokeroster/internal/store"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func newTestService(t *testing.T, teamCap int) (*Service, *metrics.Metrics) {
	t.Helper()
	mem := store.NewMemory()
	m := metrics.New()
	h := hub.NewHub(context.Background(), mem, teamCap, zap.NewNop(), m)
	t.Cleanup(func() {
		h.Shutdown()
		<-h.Done()
	})
	return New(mem, h, Options{TeamCap: teamCap}, zap.NewNop(), m), m
}

func newSession(t *testing.T, s *Service) string {
	t.Helper()
	id, err := s.CreateSession(context.Background())
	require.NoError(t, err)
	return id
}

func recv(t *testing.T, ch <-chan feed.Snapshot) feed.Snapshot {
	t.Helper()
	select {
	case snap, ok := <-ch:
		require.True(t, ok, "subscription closed unexpectedly")
		return snap
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for snapshot")
		return feed.Snapshot{}
	}
}

func TestGenerateCode(t *testing.T) {
	code, err := GenerateCode(8)
	require.NoError(t, err)
	require.Len(t, code, 8)
	for _, r := range code {
		assert.True(t, strings.ContainsRune(codeCharset, r), "unexpected rune %q", r)
	}
}

func TestSessionLifecycle(t *testing.T) {
	s, _ := newTestService(t, roster.DefaultTeamCap)
	ctx := context.Background()

	id := newSession(t, s)
	ok, err := s.SessionExists(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.SessionExists(ctx, "")
	require.NoError(t, err)
	assert.False(t, ok)

	e, err := s.Add(ctx, id, roster.LocationReserve, roster.NewEntry(7))
	require.NoError(t, err)
	require.ErrorIs(t, s.DeleteSession(ctx, id), roster.ErrSessionNotEmpty)

	require.NoError(t, s.Remove(ctx, id, roster.LocationReserve, e.ID))
	require.NoError(t, s.DeleteSession(ctx, id))

	ok, err = s.SessionExists(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAddAppliesDefaultsAndValidates(t *testing.T) {
	s, _ := newTestService(t, roster.DefaultTeamCap)
	ctx := context.Background()
	id := newSession(t, s)

	e, err := s.Add(ctx, id, roster.LocationTeam, roster.Entry{SpeciesID: 25})
	require.NoError(t, err)
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, roster.LocationTeam, e.Location)
	assert.Equal(t, roster.GenderNone, e.Gender)
	assert.Equal(t, roster.MinLevel, e.Level)

	_, err = s.Add(ctx, id, roster.LocationTeam, roster.Entry{SpeciesID: 0})
	assert.ErrorIs(t, err, roster.ErrInvalidSpecies)

	_, err = s.Add(ctx, id, roster.Location("box"), roster.NewEntry(1))
	assert.ErrorIs(t, err, roster.ErrInvalidLocation)
}

func TestTeamCapEnforcedOnWrite(t *testing.T) {
	s, _ := newTestService(t, 2)
	ctx := context.Background()
	id := newSession(t, s)

	for i := range 2 {
		_, err := s.Add(ctx, id, roster.LocationTeam, roster.NewEntry(i+1))
		require.NoError(t, err)
	}
	_, err := s.Add(ctx, id, roster.LocationTeam, roster.NewEntry(3))
	require.ErrorIs(t, err, roster.ErrLocationFull)

	r, err := s.Add(ctx, id, roster.LocationReserve, roster.NewEntry(4))
	require.NoError(t, err)
	_, err = s.Move(ctx, id, r.ID, roster.LocationReserve, roster.LocationTeam)
	require.ErrorIs(t, err, roster.ErrLocationFull)

	_, err = s.Move(ctx, id, r.ID, roster.LocationReserve, roster.LocationCemetery)
	require.NoError(t, err)
}

func TestOverfillTeamStillTruncatesReads(t *testing.T) {
	mem := store.NewMemory()
	h := hub.NewHub(context.Background(), mem, 2, zap.NewNop(), nil)
	t.Cleanup(func() {
		h.Shutdown()
		<-h.Done()
	})
	s := New(mem, h, Options{TeamCap: 2, OverfillTeam: true}, zap.NewNop(), nil)
	ctx := context.Background()
	id := newSession(t, s)

	sub, err := s.Subscribe(ctx, id, roster.LocationTeam)
	require.NoError(t, err)
	defer sub.Close()
	recv(t, sub.C)

	var added []roster.Entry
	for i := range 3 {
		e, err := s.Add(ctx, id, roster.LocationTeam, roster.NewEntry(i+1))
		require.NoError(t, err)
		added = append(added, e)
		recv(t, sub.C)
	}
	r, err := s.Add(ctx, id, roster.LocationReserve, roster.NewEntry(4))
	require.NoError(t, err)
	_, err = s.Move(ctx, id, r.ID, roster.LocationReserve, roster.LocationTeam)
	require.NoError(t, err)

	stored, err := mem.List(ctx, id, roster.LocationTeam)
	require.NoError(t, err)
	assert.Len(t, stored, 4)

	team, err := s.List(ctx, id, roster.LocationTeam)
	require.NoError(t, err)
	require.Len(t, team, 2)
	assert.Equal(t, added[0].ID, team[0].ID)
	assert.Equal(t, added[1].ID, team[1].ID)

	assert.Len(t, recv(t, sub.C).Entries, 2)
}

func TestMoveKeepsIdentity(t *testing.T) {
	s, _ := newTestService(t, roster.DefaultTeamCap)
	ctx := context.Background()
	id := newSession(t, s)

	in := roster.NewEntry(4)
	in.Nickname = "Ember"
	e, err := s.Add(ctx, id, roster.LocationTeam, in)
	require.NoError(t, err)

	moved, err := s.Move(ctx, id, e.ID, roster.LocationTeam, roster.LocationCemetery)
	require.NoError(t, err)
	assert.Equal(t, e.ID, moved.ID)
	assert.Equal(t, "Ember", moved.Nickname)
	assert.Equal(t, roster.LocationCemetery, moved.Location)

	team, err := s.List(ctx, id, roster.LocationTeam)
	require.NoError(t, err)
	assert.Empty(t, team)
	grave, err := s.List(ctx, id, roster.LocationCemetery)
	require.NoError(t, err)
	require.Len(t, grave, 1)
	assert.Equal(t, e.ID, grave[0].ID)
}

func TestLevelStepsStopAtBounds(t *testing.T) {
	s, _ := newTestService(t, roster.DefaultTeamCap)
	ctx := context.Background()
	id := newSession(t, s)

	e, err := s.Add(ctx, id, roster.LocationTeam, roster.Entry{SpeciesID: 1, Level: roster.MaxLevel})
	require.NoError(t, err)

	up, err := s.LevelUp(ctx, id, roster.LocationTeam, e.ID)
	require.NoError(t, err)
	assert.Equal(t, roster.MaxLevel, up.Level)

	down, err := s.LevelDown(ctx, id, roster.LocationTeam, e.ID)
	require.NoError(t, err)
	assert.Equal(t, roster.MaxLevel-1, down.Level)

	_, err = s.LevelUp(ctx, id, roster.LocationReserve, e.ID)
	assert.ErrorIs(t, err, roster.ErrEntryNotFound)
}

func TestConcurrentLevelUpsAreNotLost(t *testing.T) {
	s, _ := newTestService(t, roster.DefaultTeamCap)
	ctx := context.Background()
	id := newSession(t, s)

	e, err := s.Add(ctx, id, roster.LocationReserve, roster.NewEntry(25))
	require.NoError(t, err)

	const steps = 40
	var wg sync.WaitGroup
	for range steps {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.LevelUp(ctx, id, roster.LocationReserve, e.ID)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	entries, err := s.List(ctx, id, roster.LocationReserve)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, roster.MinLevel+steps, entries[0].Level)
}

func TestUpdateField(t *testing.T) {
	s, _ := newTestService(t, roster.DefaultTeamCap)
	ctx := context.Background()
	id := newSession(t, s)
	e, err := s.Add(ctx, id, roster.LocationReserve, roster.NewEntry(150))
	require.NoError(t, err)

	cases := []struct {
		name  string
		field roster.Field
		value string
		check func(t *testing.T, got roster.Entry)
		err   error
	}{
		{"nickname", roster.FieldNickname, "Mew2", func(t *testing.T, got roster.Entry) { assert.Equal(t, "Mew2", got.Nickname) }, nil},
		{"level", roster.FieldLevel, "70", func(t *testing.T, got roster.Entry) { assert.Equal(t, 70, got.Level) }, nil},
		{"gender", roster.FieldGender, "female", func(t *testing.T, got roster.Entry) { assert.Equal(t, roster.GenderFemale, got.Gender) }, nil},
		{"level out of range", roster.FieldLevel, "101", nil, roster.ErrInvalidLevel},
		{"unknown field", roster.Field("shiny"), "yes", nil, roster.ErrUnknownField},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := s.Update(ctx, id, roster.LocationReserve, e.ID, tc.field, tc.value)
			if tc.err != nil {
				require.ErrorIs(t, err, tc.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, e.ID, got.ID)
			tc.check(t, got)
		})
	}
}

func TestWritesAreCounted(t *testing.T) {
	s, m := newTestService(t, roster.DefaultTeamCap)
	ctx := context.Background()
	id := newSession(t, s)

	_, err := s.Add(ctx, id, roster.LocationTeam, roster.NewEntry(1))
	require.NoError(t, err)
	_, err = s.Add(ctx, "MISSING", roster.LocationTeam, roster.NewEntry(1))
	require.ErrorIs(t, err, roster.ErrSessionNotFound)

	want := `
# HELP pokeroster_roster_operations_total Roster store operations by kind and result.
# TYPE pokeroster_roster_operations_total counter
pokeroster_roster_operations_total{op="add",result="error"} 1
pokeroster_roster_operations_total{op="add",result="success"} 1
pokeroster_roster_operations_total{op="create_session",result="success"} 1
`
	err = testutil.GatherAndCompare(m.Registry(), strings.NewReader(want), "pokeroster_roster_operations_total")
	assert.NoError(t, err)
}

func TestSubscribeSeesWrites(t *testing.T) {
	s, _ := newTestService(t, roster.DefaultTeamCap)
	ctx := context.Background()
	id := newSession(t, s)

	sub, err := s.Subscribe(ctx, id, roster.LocationTeam)
	require.NoError(t, err)
	defer sub.Close()

	assert.Empty(t, recv(t, sub.C).Entries)

	e, err := s.Add(ctx, id, roster.LocationTeam, roster.NewEntry(25))
	require.NoError(t, err)
	snap := recv(t, sub.C)
	require.Len(t, snap.Entries, 1)
	assert.Equal(t, e.ID, snap.Entries[0].ID)

	_, err = s.Move(ctx, id, e.ID, roster.LocationTeam, roster.LocationReserve)
	require.NoError(t, err)
	assert.Empty(t, recv(t, sub.C).Entries)
}

func TestSubscribeUnknownSession(t *testing.T) {
	s, _ := newTestService(t, roster.DefaultTeamCap)

	_, err := s.Subscribe(context.Background(), "NOPE", roster.LocationTeam)
	assert.ErrorIs(t, err, roster.ErrSessionNotFound)

	id := newSession(t, s)
	_, err = s.Subscribe(context.Background(), id, roster.Location("pc"))
	assert.ErrorIs(t, err, roster.ErrInvalidLocation)
}

func TestSubscriptionEndsWithContext(t *testing.T) {
	defer goleak.VerifyNone(t)

	mem := store.NewMemory()
	h := hub.NewHub(context.Background(), mem, roster.DefaultTeamCap, zap.NewNop(), nil)
	s := New(mem, h, Options{}, zap.NewNop(), nil)
	id := newSession(t, s)

	ctx, cancel := context.WithCancel(context.Background())
	sub, err := s.Subscribe(ctx, id, roster.LocationReserve)
	require.NoError(t, err)
	recv(t, sub.C)

	cancel()
	select {
	case _, ok := <-sub.C:
		assert.False(t, ok, "expected closed channel")
	case <-time.After(time.Second):
		t.Fatalf("subscription still open after context cancel")
	}
	require.NoError(t, sub.Close())

	h.Shutdown()
	<-h.Done()
}
