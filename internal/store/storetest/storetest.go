// Package storetest is a behaviour suite every store.Store implementation runs.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/DoyleJ11/pokeroster/internal/roster"
	"github.com/DoyleJ11/pokeroster/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Run exercises s. newSession must return an id unused in s.
func Run(t *testing.T, s store.Store, newSession func() string) {
	t.Helper()
	ctx := context.Background()

	add := func(t *testing.T, session string, loc roster.Location, species int) roster.Entry {
		t.Helper()
		e := roster.NewEntry(species)
		e.SessionID = session
		e.Location = loc
		got, err := s.Insert(ctx, e, 0)
		require.NoError(t, err)
		return got
	}

	t.Run("session lifecycle", func(t *testing.T) {
		id := newSession()
		ok, err := s.SessionExists(ctx, id)
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, s.CreateSession(ctx, id))
		assert.ErrorIs(t, s.CreateSession(ctx, id), roster.ErrSessionExists)

		ok, err = s.SessionExists(ctx, id)
		require.NoError(t, err)
		assert.True(t, ok)

		require.NoError(t, s.DeleteSession(ctx, id))
		assert.ErrorIs(t, s.DeleteSession(ctx, id), roster.ErrSessionNotFound)
	})

	t.Run("delete session refuses while entries remain", func(t *testing.T) {
		id := newSession()
		require.NoError(t, s.CreateSession(ctx, id))
		e := add(t, id, roster.LocationCemetery, 92)

		assert.ErrorIs(t, s.DeleteSession(ctx, id), roster.ErrSessionNotEmpty)
		require.NoError(t, s.Delete(ctx, id, roster.LocationCemetery, e.ID))
		require.NoError(t, s.DeleteSession(ctx, id))
	})

	t.Run("insert assigns identity and lists in placement order", func(t *testing.T) {
		id := newSession()
		require.NoError(t, s.CreateSession(ctx, id))
		first := add(t, id, roster.LocationReserve, 1)
		second := add(t, id, roster.LocationReserve, 4)
		add(t, id, roster.LocationTeam, 7)

		assert.NotEmpty(t, first.ID)
		assert.NotEqual(t, first.ID, second.ID)

		got, err := s.List(ctx, id, roster.LocationReserve)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, first.ID, got[0].ID)
		assert.Equal(t, second.ID, got[1].ID)
	})

	t.Run("insert into unknown session", func(t *testing.T) {
		e := roster.NewEntry(1)
		e.SessionID = newSession()
		e.Location = roster.LocationTeam
		_, err := s.Insert(ctx, e, 0)
		assert.ErrorIs(t, err, roster.ErrSessionNotFound)
	})

	t.Run("insert respects limit", func(t *testing.T) {
		id := newSession()
		require.NoError(t, s.CreateSession(ctx, id))
		for i := 1; i <= 2; i++ {
			e := roster.NewEntry(i)
			e.SessionID = id
			e.Location = roster.LocationTeam
			_, err := s.Insert(ctx, e, 2)
			require.NoError(t, err)
		}
		e := roster.NewEntry(3)
		e.SessionID = id
		e.Location = roster.LocationTeam
		_, err := s.Insert(ctx, e, 2)
		assert.ErrorIs(t, err, roster.ErrLocationFull)
	})

	t.Run("relocate keeps identity and exactly one location", func(t *testing.T) {
		id := newSession()
		require.NoError(t, s.CreateSession(ctx, id))
		e := add(t, id, roster.LocationTeam, 25)

		moved, err := s.Relocate(ctx, id, e.ID, roster.LocationTeam, roster.LocationCemetery, 0)
		require.NoError(t, err)
		assert.Equal(t, e.ID, moved.ID)
		assert.Equal(t, roster.LocationCemetery, moved.Location)

		for _, loc := range roster.Locations {
			got, err := s.List(ctx, id, loc)
			require.NoError(t, err)
			want := 0
			if loc == roster.LocationCemetery {
				want = 1
			}
			assert.Len(t, got, want, "location %s", loc)
		}

		_, err = s.Relocate(ctx, id, e.ID, roster.LocationTeam, roster.LocationReserve, 0)
		assert.ErrorIs(t, err, roster.ErrEntryNotFound)
	})

	t.Run("relocate into full location", func(t *testing.T) {
		id := newSession()
		require.NoError(t, s.CreateSession(ctx, id))
		add(t, id, roster.LocationTeam, 1)
		e := add(t, id, roster.LocationReserve, 2)

		_, err := s.Relocate(ctx, id, e.ID, roster.LocationReserve, roster.LocationTeam, 1)
		assert.ErrorIs(t, err, roster.ErrLocationFull)

		got, err := s.Get(ctx, id, roster.LocationReserve, e.ID)
		require.NoError(t, err)
		assert.Equal(t, e.ID, got.ID)
	})

	t.Run("patch and delete are location scoped", func(t *testing.T) {
		id := newSession()
		require.NoError(t, s.CreateSession(ctx, id))
		e := add(t, id, roster.LocationReserve, 133)

		lvl := 30
		name := "Eve"
		patched, err := s.Patch(ctx, id, roster.LocationReserve, e.ID, roster.Patch{Level: &lvl, Nickname: &name})
		require.NoError(t, err)
		assert.Equal(t, 30, patched.Level)
		assert.Equal(t, "Eve", patched.Nickname)

		got, err := s.Get(ctx, id, roster.LocationReserve, e.ID)
		require.NoError(t, err)
		assert.Equal(t, patched.Level, got.Level)

		_, err = s.Patch(ctx, id, roster.LocationTeam, e.ID, roster.Patch{Level: &lvl})
		assert.ErrorIs(t, err, roster.ErrEntryNotFound)
		assert.ErrorIs(t, s.Delete(ctx, id, roster.LocationTeam, e.ID), roster.ErrEntryNotFound)
		require.NoError(t, s.Delete(ctx, id, roster.LocationReserve, e.ID))
		_, err = s.Get(ctx, id, roster.LocationReserve, e.ID)
		assert.ErrorIs(t, err, roster.ErrEntryNotFound)
	})

	t.Run("level steps are atomic and bounded", func(t *testing.T) {
		id := newSession()
		require.NoError(t, s.CreateSession(ctx, id))
		e := add(t, id, roster.LocationTeam, 25)

		const steps = 20
		var wg sync.WaitGroup
		for range steps {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.StepLevel(ctx, id, roster.LocationTeam, e.ID, 1)
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		got, err := s.Get(ctx, id, roster.LocationTeam, e.ID)
		require.NoError(t, err)
		assert.Equal(t, roster.MinLevel+steps, got.Level)

		top := roster.MaxLevel
		_, err = s.Patch(ctx, id, roster.LocationTeam, e.ID, roster.Patch{Level: &top})
		require.NoError(t, err)
		got, err = s.StepLevel(ctx, id, roster.LocationTeam, e.ID, 1)
		require.NoError(t, err)
		assert.Equal(t, roster.MaxLevel, got.Level)

		got, err = s.StepLevel(ctx, id, roster.LocationTeam, e.ID, -1)
		require.NoError(t, err)
		assert.Equal(t, roster.MaxLevel-1, got.Level)

		_, err = s.StepLevel(ctx, id, roster.LocationReserve, e.ID, 1)
		assert.ErrorIs(t, err, roster.ErrEntryNotFound)
	})
}

// Sequence returns a newSession func yielding prefix-1, prefix-2, ...
func Sequence(prefix string) func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("%s-%d", prefix, n)
	}
}

// Tick makes store placement times strictly increasing, millisecond apart, so
// ordering survives backends with coarse timestamps.
func Tick(t *testing.T) {
	t.Helper()
	prev := store.Now
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store.Now = func() time.Time {
		at = at.Add(time.Millisecond)
		return at
	}
	t.Cleanup(func() { store.Now = prev })
}
