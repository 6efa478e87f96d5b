package server

import (
	"context"
	"encoding/json"
	"net/http"
	"phantom_chat/internal/metrics"
	"phantom_chat/internal/model"
	roomSvc "phantom_chat/internal/service/room"
	"phantom_chat/internal/utils/log"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// HandleEvents streams a room's events to one participant. The token comes
// from the query string since browsers cannot set headers on upgrades.
func (s *HttpServer) HandleEvents() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := mux.Vars(r)["id"]
		token := r.URL.Query().Get("token")
		if token == "" {
			token = r.Header.Get(TokenHeader)
		}

		if err := s.rooms.Authorize(r.Context(), roomID, token); err != nil {
			writeError(w, err)
			return
		}

		// Subscribe before upgrading so nothing published after the client
		// sees the connection open is lost.
		ctx, cancel := context.WithCancel(context.Background())
		sub, err := s.rooms.Subscribe(ctx, roomID)
		if err != nil {
			cancel()
			writeError(w, err)
			return
		}
		// A room destroyed before the subscription took effect never sends
		// its destruction event to it.
		if err := s.rooms.Authorize(r.Context(), roomID, token); err != nil {
			cancel()
			sub.Close()
			writeError(w, err)
			return
		}

		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			cancel()
			sub.Close()
			log.Debug("websocket upgrade failed", zap.Error(err))
			return
		}

		metrics.SubscriberOpened()
		go s.readPump(conn, cancel)
		go s.writePump(ctx, cancel, conn, sub, model.ParticipantID(token))
	}
}

// readPump only drains control frames; clients never send on the stream.
func (s *HttpServer) readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()

	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			log.Debug("websocket reader closed", zap.Error(err))
			return
		}
	}
}

func (s *HttpServer) writePump(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, sub roomSvc.Subscription, self string) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		cancel()
		sub.Close()
		conn.Close()
		metrics.SubscriberClosed()
	}()

	for {
		select {
		case <-ctx.Done():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case e, ok := <-sub.Events():
			if !ok {
				return
			}
			out, deliver := viewFor(e, self)
			if !deliver {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(out); err != nil {
				log.Debug("websocket write failed", zap.Error(err))
				return
			}
			if e.Type == model.EventRoomDestroyed {
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "room destroyed"))
				return
			}
		}
	}
}

// viewFor filters and annotates an event for the participant self. A
// participant never gets its own key material back, only sees artifacts
// addressed to it, and sees its own messages marked as such.
func viewFor(e *model.Event, self string) (*model.Event, bool) {
	switch e.Type {
	case model.EventKeyMaterial:
		return e, e.Origin != self

	case model.EventEncapsulationPosted:
		var data model.EncapsulationData
		if err := json.Unmarshal(e.Data, &data); err != nil {
			return nil, false
		}
		return e, data.Recipient == self

	case model.EventNewMessage:
		var msg model.Message
		if err := json.Unmarshal(e.Data, &msg); err != nil {
			return nil, false
		}
		msg.Own = msg.Sender == self
		msg.Token = ""
		raw, err := json.Marshal(&msg)
		if err != nil {
			return nil, false
		}
		out := *e
		out.Data = raw
		return &out, true
	}
	return e, true
}
