package store

import (
	"context"
	"sync"

	"github.com/DoyleJ11/pokeroster/internal/roster"
)

var _ Store = (*Memory)(nil)

// Memory keeps everything in maps guarded by one mutex.
type Memory struct {
	mu       sync.RWMutex
	sessions map[string]map[string]roster.Entry // session -> entry id -> entry
}

func NewMemory() *Memory {
	return &Memory{sessions: make(map[string]map[string]roster.Entry)}
}

func (m *Memory) CreateSession(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; ok {
		return roster.ErrSessionExists
	}
	m.sessions[id] = make(map[string]roster.Entry)
	return nil
}

func (m *Memory) SessionExists(_ context.Context, id string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.sessions[id]
	return ok, nil
}

func (m *Memory) DeleteSession(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries, ok := m.sessions[id]
	if !ok {
		return roster.ErrSessionNotFound
	}
	if len(entries) > 0 {
		return roster.ErrSessionNotEmpty
	}
	delete(m.sessions, id)
	return nil
}

func (m *Memory) List(_ context.Context, session string, loc roster.Location) ([]roster.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries, ok := m.sessions[session]
	if !ok {
		return nil, roster.ErrSessionNotFound
	}
	return collect(entries, loc), nil
}

func (m *Memory) Get(_ context.Context, session string, loc roster.Location, id string) (roster.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lookup(session, loc, id)
}

func (m *Memory) Insert(_ context.Context, e roster.Entry, limit int) (roster.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries, ok := m.sessions[e.SessionID]
	if !ok {
		return roster.Entry{}, roster.ErrSessionNotFound
	}
	if limit > 0 && len(collect(entries, e.Location)) >= limit {
		return roster.Entry{}, roster.ErrLocationFull
	}
	e.ID = NewID()
	e = roster.Placed(e, e.Location, Now())
	entries[e.ID] = e
	return e, nil
}

func (m *Memory) Relocate(_ context.Context, session, id string, from, to roster.Location, limit int) (roster.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.lookup(session, from, id)
	if err != nil {
		return roster.Entry{}, err
	}
	if from == to {
		return e, nil
	}
	entries := m.sessions[session]
	if limit > 0 && len(collect(entries, to)) >= limit {
		return roster.Entry{}, roster.ErrLocationFull
	}
	e = roster.Placed(e, to, Now())
	entries[id] = e
	return e, nil
}

func (m *Memory) Delete(_ context.Context, session string, loc roster.Location, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.lookup(session, loc, id); err != nil {
		return err
	}
	delete(m.sessions[session], id)
	return nil
}

func (m *Memory) Patch(_ context.Context, session string, loc roster.Location, id string, p roster.Patch) (roster.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.lookup(session, loc, id)
	if err != nil {
		return roster.Entry{}, err
	}
	e = p.Apply(e)
	m.sessions[session][id] = e
	return e, nil
}

func (m *Memory) StepLevel(_ context.Context, session string, loc roster.Location, id string, delta int) (roster.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.lookup(session, loc, id)
	if err != nil {
		return roster.Entry{}, err
	}
	if next, changed := roster.StepLevel(e.Level, delta); changed {
		e.Level = next
		m.sessions[session][id] = e
	}
	return e, nil
}

func (m *Memory) Close() error { return nil }

// caller holds mu
func (m *Memory) lookup(session string, loc roster.Location, id string) (roster.Entry, error) {
	entries, ok := m.sessions[session]
	if !ok {
		return roster.Entry{}, roster.ErrSessionNotFound
	}
	e, ok := entries[id]
	if !ok || e.Location != loc {
		return roster.Entry{}, roster.ErrEntryNotFound
	}
	return e, nil
}

func collect(entries map[string]roster.Entry, loc roster.Location) []roster.Entry {
	out := make([]roster.Entry, 0, len(entries))
	for _, e := range entries {
		if e.Location == loc {
			out = append(out, e)
		}
	}
	roster.Sort(out)
	return out
}
