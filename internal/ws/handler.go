package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/DoyleJ11/pokeroster/internal/controller"
	"github.com/DoyleJ11/pokeroster/internal/roster"
	"github.com/DoyleJ11/pokeroster/pkg/types"
	"github.com/coder/websocket"
	"go.uber.org/zap"
)

const (
	writeTimeout = 3 * time.Second
	idleTimeout  = 5 * time.Minute
)

type SessionChecker interface {
	SessionExists(ctx context.Context, id string) (bool, error)
}

// NewController builds a controller that lives as long as ctx.
type NewController func(ctx context.Context) *controller.Controller

// Handler streams a session's enriched view over a websocket and applies the
// roster commands the client sends back.
func Handler(sessions SessionChecker, newController NewController, log *zap.Logger) http.HandlerFunc {
	log = log.Named("ws")
	return func(w http.ResponseWriter, r *http.Request) {
		session := r.URL.Query().Get("session")
		if session == "" {
			http.Error(w, "missing session", http.StatusBadRequest)
			return
		}

		ok, err := sessions.SessionExists(r.Context(), session)
		if err != nil {
			http.Error(w, "session lookup failed", http.StatusInternalServerError)
			return
		}
		if !ok {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			// In dev ONLY, you can loosen origin checks:
			// OriginPatterns: []string{"http://localhost:*", "http://127.0.0.1:*"},
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		c := newController(ctx)
		defer func() {
			if err := c.Close(); err != nil {
				log.Warn("close controller", zap.String("session", session), zap.Error(err))
			}
		}()
		if err := c.Resolve(ctx, session); err != nil {
			conn.Close(websocket.StatusPolicyViolation, "session unavailable")
			return
		}

		// Writer goroutine
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case v := <-c.Views():
					send(ctx, conn, types.ServerMessage{Type: types.MsgView, View: &v})
				}
			}
		}()

		// Reader loop
		for {
			readCtx, readCancel := context.WithTimeout(ctx, idleTimeout)
			_, data, err := conn.Read(readCtx)
			readCancel()
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				default:
					log.Debug("read", zap.String("session", session), zap.Error(err))
				}
				return
			}

			var cm types.ClientMessage
			if err := json.Unmarshal(data, &cm); err != nil {
				send(ctx, conn, types.ServerMessage{Type: types.MsgError, Error: "bad json"})
				continue
			}

			cmd, err := toCommand(cm)
			if err == nil {
				_, err = c.Dispatch(ctx, cmd)
			}
			if err != nil {
				send(ctx, conn, types.ServerMessage{Type: types.MsgError, RequestID: cm.RequestID, Error: err.Error()})
			}
		}
	}
}

func send(ctx context.Context, conn *websocket.Conn, msg types.ServerMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_ = conn.Write(wctx, websocket.MessageText, payload)
}

func toCommand(m types.ClientMessage) (roster.Command, error) {
	loc, err := roster.ParseLocation(m.Location)
	if err != nil {
		return roster.Command{}, err
	}

	switch roster.CommandType(m.Type) {
	case roster.CmdAdd:
		gender, err := roster.ParseGender(m.Gender)
		if err != nil {
			return roster.Command{}, err
		}
		e := roster.Entry{SpeciesID: m.SpeciesID, Nickname: m.Nickname, Level: m.Level, Gender: gender}
		return roster.Command{Type: roster.CmdAdd, Location: loc, Entry: e}, nil
	case roster.CmdMove:
		to, err := roster.ParseLocation(m.To)
		if err != nil {
			return roster.Command{}, err
		}
		return roster.Command{Type: roster.CmdMove, Location: loc, To: to, EntryID: m.EntryID}, nil
	case roster.CmdRemove, roster.CmdLevelUp, roster.CmdLevelDown:
		return roster.Command{Type: roster.CommandType(m.Type), Location: loc, EntryID: m.EntryID}, nil
	case roster.CmdUpdate:
		return roster.Command{Type: roster.CmdUpdate, Location: loc, EntryID: m.EntryID, Field: roster.Field(m.Field), Value: m.Value}, nil
	default:
		return roster.Command{}, fmt.Errorf("%w: %q", roster.ErrUnsupportedCommand, m.Type)
	}
}
