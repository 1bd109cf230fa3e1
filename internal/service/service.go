// Package service is the roster store surface shared by every transport: it
// validates commands, writes through a store.Store and refreshes live feeds.
package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/DoyleJ11/pokeroster/internal/hub"
	"github.com/DoyleJ11/pokeroster/internal/metrics"
	"github.com/DoyleJ11/pokeroster/internal/roster"
	"github.com/DoyleJ11/pokeroster/internal/store"
	"go.uber.org/zap"
)

var ErrClosed = errors.New("roster service closed")

const (
	codeCharset        = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	defaultCodeLength  = 8
	maxCodeGenAttempts = 16
)

type Options struct {
	TeamCap           int
	SessionCodeLength int
	// OverfillTeam lets writes put more than TeamCap entries on the team.
	// Readers still see only the first TeamCap.
	OverfillTeam bool
}

type Service struct {
	store   store.Store
	hub     *hub.Hub
	teamCap int
	overfill bool
	codeLen int
	log     *zap.Logger
	metrics *metrics.Metrics
}

func New(s store.Store, h *hub.Hub, opts Options, log *zap.Logger, m *metrics.Metrics) *Service {
	if opts.TeamCap <= 0 {
		opts.TeamCap = roster.DefaultTeamCap
	}
	if opts.SessionCodeLength <= 0 {
		opts.SessionCodeLength = defaultCodeLength
	}
	return &Service{
		store:   s,
		hub:     h,
		teamCap:  opts.TeamCap,
		overfill: opts.OverfillTeam,
		codeLen:  opts.SessionCodeLength,
		log:     log.Named("roster"),
		metrics: m,
	}
}

func GenerateCode(length int) (string, error) {
	code := make([]byte, length)
	for i := range code {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(codeCharset))))
		if err != nil {
			return "", err
		}
		code[i] = codeCharset[num.Int64()]
	}
	return string(code), nil
}

func (s *Service) TeamCap() int { return s.teamCap }

// writeCap is the limit handed to the store for writes into loc.
func (s *Service) writeCap(loc roster.Location) int {
	if s.overfill {
		return 0
	}
	return roster.Capacity(loc, s.teamCap)
}

func (s *Service) CreateSession(ctx context.Context) (string, error) {
	for range maxCodeGenAttempts {
		code, err := GenerateCode(s.codeLen)
		if err != nil {
			return "", s.finish("create_session", "", fmt.Errorf("generate code: %w", err))
		}
		err = s.store.CreateSession(ctx, code)
		if errors.Is(err, roster.ErrSessionExists) {
			s.log.Debug("collision on code, regenerating")
			continue
		}
		if err != nil {
			return "", s.finish("create_session", code, err)
		}
		s.log.Info("session created", zap.String("session", code))
		return code, s.finish("create_session", code, nil)
	}
	return "", s.finish("create_session", "", roster.ErrSessionExists)
}

func (s *Service) SessionExists(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, nil
	}
	ok, err := s.store.SessionExists(ctx, id)
	if err != nil {
		s.log.Warn("session lookup failed", zap.String("session", id), zap.Error(err))
	}
	return ok, err
}

// DeleteSession removes the session marker. Callers must drain all three
// locations first; a non-empty session yields roster.ErrSessionNotEmpty.
func (s *Service) DeleteSession(ctx context.Context, id string) error {
	err := s.store.DeleteSession(ctx, id)
	if err == nil {
		s.hub.Remove(id)
		s.log.Info("session deleted", zap.String("session", id))
	}
	s.metrics.Operation("delete_session", err)
	if err != nil {
		s.log.Warn("delete_session failed", zap.String("session", id), zap.Error(err))
	}
	return err
}

// List returns a location as a reader sees it: the team is truncated to the cap.
func (s *Service) List(ctx context.Context, session string, loc roster.Location) ([]roster.Entry, error) {
	entries, err := s.store.List(ctx, session, loc)
	if err != nil {
		return nil, err
	}
	return roster.Visible(loc, entries, s.teamCap), nil
}

func (s *Service) Add(ctx context.Context, session string, loc roster.Location, e roster.Entry) (roster.Entry, error) {
	return s.Apply(ctx, session, roster.Command{Type: roster.CmdAdd, Location: loc, Entry: e})
}

func (s *Service) Move(ctx context.Context, session, id string, from, to roster.Location) (roster.Entry, error) {
	return s.Apply(ctx, session, roster.Command{Type: roster.CmdMove, Location: from, To: to, EntryID: id})
}

func (s *Service) Remove(ctx context.Context, session string, loc roster.Location, id string) error {
	_, err := s.Apply(ctx, session, roster.Command{Type: roster.CmdRemove, Location: loc, EntryID: id})
	return err
}

func (s *Service) Update(ctx context.Context, session string, loc roster.Location, id string, field roster.Field, value string) (roster.Entry, error) {
	return s.Apply(ctx, session, roster.Command{Type: roster.CmdUpdate, Location: loc, EntryID: id, Field: field, Value: value})
}

func (s *Service) LevelUp(ctx context.Context, session string, loc roster.Location, id string) (roster.Entry, error) {
	return s.Apply(ctx, session, roster.Command{Type: roster.CmdLevelUp, Location: loc, EntryID: id})
}

func (s *Service) LevelDown(ctx context.Context, session string, loc roster.Location, id string) (roster.Entry, error) {
	return s.Apply(ctx, session, roster.Command{Type: roster.CmdLevelDown, Location: loc, EntryID: id})
}

// Apply runs one roster command against session and refreshes its live feed.
// The returned entry is the entry as stored after the command (zero for Remove).
func (s *Service) Apply(ctx context.Context, session string, cmd roster.Command) (roster.Entry, error) {
	op := strings.ToLower(string(cmd.Type))
	if err := roster.Validate(cmd); err != nil {
		return roster.Entry{}, s.finish(op, session, err)
	}

	var (
		e   roster.Entry
		err error
	)
	switch cmd.Type {
	case roster.CmdAdd:
		in := roster.Normalize(cmd.Entry)
		in.SessionID = session
		in.Location = cmd.Location
		e, err = s.store.Insert(ctx, in, s.writeCap(cmd.Location))

	case roster.CmdMove:
		e, err = s.store.Relocate(ctx, session, cmd.EntryID, cmd.Location, cmd.To, s.writeCap(cmd.To))

	case roster.CmdRemove:
		err = s.store.Delete(ctx, session, cmd.Location, cmd.EntryID)

	case roster.CmdUpdate:
		p, _ := roster.FieldPatch(cmd.Field, cmd.Value) // checked by Validate
		e, err = s.store.Patch(ctx, session, cmd.Location, cmd.EntryID, p)

	case roster.CmdLevelUp, roster.CmdLevelDown:
		delta := 1
		if cmd.Type == roster.CmdLevelDown {
			delta = -1
		}
		e, err = s.store.StepLevel(ctx, session, cmd.Location, cmd.EntryID, delta)
	}
	return e, s.finish(op, session, err)
}

// finish records the outcome of a write: failures are logged and counted,
// successes refresh the session's subscribers.
func (s *Service) finish(op, session string, err error) error {
	s.metrics.Operation(op, err)
	if err != nil {
		s.log.Warn(op+" failed", zap.String("session", session), zap.Error(err))
		return err
	}
	if session != "" {
		s.hub.Refresh(session)
	}
	return nil
}

// WatchChanges forwards remote change notifications to the feeds until ctx
// ends. Stores without a change feed return immediately.
func (s *Service) WatchChanges(ctx context.Context) error {
	cf, ok := s.store.(store.ChangeFeed)
	if !ok {
		return nil
	}
	return cf.WatchChanges(ctx, func(session string) { s.hub.Refresh(session) })
}
