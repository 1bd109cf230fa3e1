package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/DoyleJ11/pokeroster/internal/catalog"
	"github.com/DoyleJ11/pokeroster/internal/controller"
	"github.com/DoyleJ11/pokeroster/internal/roster"
	"github.com/DoyleJ11/pokeroster/internal/service"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type Roster interface {
	CreateSession(ctx context.Context) (string, error)
	SessionExists(ctx context.Context, id string) (bool, error)
	DeleteSession(ctx context.Context, id string) error
	List(ctx context.Context, session string, loc roster.Location) ([]roster.Entry, error)
	Apply(ctx context.Context, session string, cmd roster.Command) (roster.Entry, error)
}

type SpeciesLookup interface {
	Detail(ctx context.Context, nameOrID string) (catalog.Detail, error)
}

type api struct {
	roster        Roster
	catalog       SpeciesLookup
	newController func(ctx context.Context) *controller.Controller
	log           *zap.Logger
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (a *api) createSession(w http.ResponseWriter, r *http.Request) {
	id, err := a.roster.CreateSession(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, struct {
		SessionID string `json:"session_id"`
	}{SessionID: id})
}

func (a *api) getSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ok, err := a.roster.SessionExists(r.Context(), id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if !ok {
		a.fail(w, r, roster.ErrSessionNotFound)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		SessionID string `json:"session_id"`
	}{SessionID: id})
}

// deleteSession removes the session marker. With ?drain=true every entry is
// removed first, the same way a client closing its session does.
func (a *api) deleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if r.URL.Query().Get("drain") != "true" {
		if err := a.roster.DeleteSession(r.Context(), id); err != nil {
			a.fail(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}

	c := a.newController(r.Context())
	defer func() { _ = c.Close() }()
	if err := c.Resolve(r.Context(), id); err != nil {
		a.fail(w, r, err)
		return
	}
	if err := c.Delete(r.Context()); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) listEntries(w http.ResponseWriter, r *http.Request) {
	loc, err := roster.ParseLocation(chi.URLParam(r, "location"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	entries, err := a.roster.List(r.Context(), chi.URLParam(r, "id"), loc)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if entries == nil {
		entries = []roster.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

type addRequest struct {
	SpeciesID int    `json:"species_id"`
	Nickname  string `json:"nickname"`
	Level     int    `json:"level"`
	Gender    string `json:"gender"`
}

func (a *api) addEntry(w http.ResponseWriter, r *http.Request) {
	var req addRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	gender, err := roster.ParseGender(req.Gender)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.apply(w, r, http.StatusCreated, roster.Command{
		Type:  roster.CmdAdd,
		Entry: roster.Entry{SpeciesID: req.SpeciesID, Nickname: req.Nickname, Level: req.Level, Gender: gender},
	})
}

func (a *api) moveEntry(w http.ResponseWriter, r *http.Request) {
	var req struct {
		To string `json:"to"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	to, err := roster.ParseLocation(req.To)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.apply(w, r, http.StatusOK, roster.Command{Type: roster.CmdMove, EntryID: chi.URLParam(r, "entryID"), To: to})
}

func (a *api) updateEntry(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Field string `json:"field"`
		Value string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	a.apply(w, r, http.StatusOK, roster.Command{
		Type:    roster.CmdUpdate,
		EntryID: chi.URLParam(r, "entryID"),
		Field:   roster.Field(req.Field),
		Value:   req.Value,
	})
}

func (a *api) levelEntry(w http.ResponseWriter, r *http.Request) {
	cmd := roster.Command{EntryID: chi.URLParam(r, "entryID")}
	switch chi.URLParam(r, "direction") {
	case "up":
		cmd.Type = roster.CmdLevelUp
	case "down":
		cmd.Type = roster.CmdLevelDown
	default:
		http.Error(w, "direction must be up or down", http.StatusBadRequest)
		return
	}
	a.apply(w, r, http.StatusOK, cmd)
}

func (a *api) removeEntry(w http.ResponseWriter, r *http.Request) {
	cmd := roster.Command{Type: roster.CmdRemove, EntryID: chi.URLParam(r, "entryID")}
	if _, ok := a.command(w, r, cmd); ok {
		w.WriteHeader(http.StatusNoContent)
	}
}

func (a *api) apply(w http.ResponseWriter, r *http.Request, status int, cmd roster.Command) {
	if e, ok := a.command(w, r, cmd); ok {
		writeJSON(w, status, e)
	}
}

// command fills in the location from the path and applies cmd, writing the
// error response itself when it fails.
func (a *api) command(w http.ResponseWriter, r *http.Request, cmd roster.Command) (roster.Entry, bool) {
	loc, err := roster.ParseLocation(chi.URLParam(r, "location"))
	if err != nil {
		a.fail(w, r, err)
		return roster.Entry{}, false
	}
	cmd.Location = loc
	e, err := a.roster.Apply(r.Context(), chi.URLParam(r, "id"), cmd)
	if err != nil {
		a.fail(w, r, err)
		return roster.Entry{}, false
	}
	return e, true
}

func (a *api) species(w http.ResponseWriter, r *http.Request) {
	d, err := a.catalog.Detail(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (a *api) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		a.log.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	http.Error(w, err.Error(), status)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, roster.ErrSessionNotFound),
		errors.Is(err, roster.ErrEntryNotFound),
		errors.Is(err, catalog.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, roster.ErrInvalidLocation),
		errors.Is(err, roster.ErrInvalidGender),
		errors.Is(err, roster.ErrInvalidLevel),
		errors.Is(err, roster.ErrInvalidSpecies),
		errors.Is(err, roster.ErrUnknownField),
		errors.Is(err, roster.ErrUnsupportedCommand):
		return http.StatusBadRequest
	case errors.Is(err, roster.ErrLocationFull),
		errors.Is(err, roster.ErrSessionNotEmpty),
		errors.Is(err, controller.ErrNotDrained):
		return http.StatusConflict
	case errors.Is(err, service.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
