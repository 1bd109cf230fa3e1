package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/DoyleJ11/pokeroster/internal/app"
	"github.com/DoyleJ11/pokeroster/internal/catalog"
	"github.com/DoyleJ11/pokeroster/internal/config"
	"github.com/DoyleJ11/pokeroster/internal/roster"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakePokeAPI serves pichu -> pikachu -> raichu.
func fakePokeAPI(t *testing.T) *httptest.Server {
	t.Helper()
	byKey := map[string]catalog.Species{}
	mux := http.NewServeMux()
	mux.HandleFunc("/pokemon-species/{key}", func(w http.ResponseWriter, r *http.Request) {
		s, ok := byKey[r.PathValue("key")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(s)
	})
	mux.HandleFunc("/evolution-chain/10/", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(catalog.EvolutionChain{ID: 10, Chain: catalog.ChainLink{
			Species: catalog.NamedResource{Name: "pichu"},
			EvolvesTo: []catalog.ChainLink{{
				Species:   catalog.NamedResource{Name: "pikachu"},
				EvolvesTo: []catalog.ChainLink{{Species: catalog.NamedResource{Name: "raichu"}}},
			}},
		}})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	for _, s := range []struct {
		id   int
		name string
	}{{172, "pichu"}, {25, "pikachu"}, {26, "raichu"}} {
		sp := catalog.Species{ID: s.id, Name: s.name, Names: []catalog.Name{
			{Name: strings.ToUpper(s.name[:1]) + s.name[1:], Language: catalog.NamedResource{Name: "en"}},
		}}
		sp.EvolutionChain.URL = srv.URL + "/evolution-chain/10/"
		byKey[s.name] = sp
		byKey[fmt.Sprint(s.id)] = sp
	}
	return srv
}

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	cfg := config.Default()
	cfg.Catalog.BaseURL = fakePokeAPI(t).URL
	a, err := app.New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return SetupRoutes(a)
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, rd))
	return rec
}

func createSession(t *testing.T, h http.Handler) string {
	t.Helper()
	rec := do(t, h, http.MethodPost, "/sessions", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	var out struct {
		SessionID string `json:"session_id"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	require.NotEmpty(t, out.SessionID)
	return out.SessionID
}

func decodeEntry(t *testing.T, rec *httptest.ResponseRecorder) roster.Entry {
	t.Helper()
	var e roster.Entry
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&e))
	return e
}

func TestHealthz(t *testing.T) {
	h := newTestRouter(t)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/healthz", nil).Code)
}

func TestSessionLifecycle(t *testing.T) {
	h := newTestRouter(t)
	id := createSession(t, h)

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/sessions/"+id, nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/sessions/NOPE", nil).Code)

	rec := do(t, h, http.MethodPost, "/sessions/"+id+"/roster/team", map[string]any{"species_id": 25})
	require.Equal(t, http.StatusCreated, rec.Code)

	assert.Equal(t, http.StatusConflict, do(t, h, http.MethodDelete, "/sessions/"+id, nil).Code)
	assert.Equal(t, http.StatusNoContent, do(t, h, http.MethodDelete, "/sessions/"+id+"?drain=true", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/sessions/"+id, nil).Code)
}

func TestRosterEndpoints(t *testing.T) {
	h := newTestRouter(t)
	id := createSession(t, h)
	base := "/sessions/" + id + "/roster/"

	rec := do(t, h, http.MethodPost, base+"team", map[string]any{"species_id": 25, "nickname": "Sparky", "gender": "male"})
	require.Equal(t, http.StatusCreated, rec.Code)
	added := decodeEntry(t, rec)
	assert.Equal(t, roster.MinLevel, added.Level)

	rec = do(t, h, http.MethodPost, base+"team/"+added.ID+"/level/up", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, roster.MinLevel+1, decodeEntry(t, rec).Level)

	rec = do(t, h, http.MethodPatch, base+"team/"+added.ID, map[string]string{"field": "nickname", "value": "Volt"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Volt", decodeEntry(t, rec).Nickname)

	rec = do(t, h, http.MethodPost, base+"team/"+added.ID+"/move", map[string]string{"to": "cemetery"})
	require.Equal(t, http.StatusOK, rec.Code)
	moved := decodeEntry(t, rec)
	assert.Equal(t, added.ID, moved.ID)
	assert.Equal(t, roster.LocationCemetery, moved.Location)

	rec = do(t, h, http.MethodGet, base+"cemetery", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []roster.Entry
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "Volt", entries[0].Nickname)

	rec = do(t, h, http.MethodGet, base+"team", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())

	assert.Equal(t, http.StatusNoContent, do(t, h, http.MethodDelete, base+"cemetery/"+added.ID, nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodDelete, base+"cemetery/"+added.ID, nil).Code)
}

func TestErrorStatus(t *testing.T) {
	h := newTestRouter(t)
	id := createSession(t, h)
	base := "/sessions/" + id + "/roster/"

	for range roster.DefaultTeamCap {
		require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, base+"team", map[string]any{"species_id": 1}).Code)
	}

	cases := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"unknown location", http.MethodGet, base + "box", nil, http.StatusBadRequest},
		{"bad species", http.MethodPost, base + "reserve", map[string]any{"species_id": 0}, http.StatusBadRequest},
		{"bad gender", http.MethodPost, base + "reserve", map[string]any{"species_id": 1, "gender": "x"}, http.StatusBadRequest},
		{"bad json", http.MethodPost, base + "reserve", "{", http.StatusBadRequest},
		{"team full", http.MethodPost, base + "team", map[string]any{"species_id": 1}, http.StatusConflict},
		{"unknown field", http.MethodPatch, base + "team/x", map[string]string{"field": "shiny", "value": "1"}, http.StatusBadRequest},
		{"missing entry", http.MethodPost, base + "reserve/x/level/down", nil, http.StatusNotFound},
		{"bad direction", http.MethodPost, base + "reserve/x/level/sideways", nil, http.StatusBadRequest},
		{"unknown session", http.MethodGet, "/sessions/NOPE/roster/team", nil, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, do(t, h, tc.method, tc.path, tc.body).Code)
		})
	}
}

func TestSpeciesDetail(t *testing.T) {
	h := newTestRouter(t)

	rec := do(t, h, http.MethodGet, "/catalog/species/pikachu", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var d catalog.Detail
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&d))
	assert.Equal(t, "025 -  / Pikachu", d.DisplayName)
	require.Len(t, d.Evolutions, 2)
	assert.Equal(t, "pichu", d.Evolutions[0].Name)
	assert.Equal(t, "raichu", d.Evolutions[1].Name)

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/catalog/species/missingno", nil).Code)
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestRouter(t)
	createSession(t, h)

	rec := do(t, h, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `pokeroster_roster_operations_total{op="create_session",result="success"} 1`)
}
