package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"phantom_chat/internal/model"
	roomSvc "phantom_chat/internal/service/room"
	"phantom_chat/internal/utils/log"
	"slices"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// TokenHeader carries the participant token on every room scoped request.
const TokenHeader = "X-Auth-Token"

type (
	Options struct {
		MaxBodyBytes   int64
		AllowedOrigins []string
	}

	HttpServer struct {
		rooms    *roomSvc.RoomService
		opts     Options
		upgrader websocket.Upgrader
		router   *mux.Router
	}

	createRoomRequest struct {
		TTL int `json:"ttl"`
	}

	createRoomResponse struct {
		RoomID string `json:"roomId"`
		TTL    int    `json:"ttl"`
	}

	ttlResponse struct {
		TTL int `json:"ttl"`
	}

	messagesResponse struct {
		Messages []model.Message `json:"messages"`
	}

	errorResponse struct {
		Error string `json:"error"`
	}
)

func NewHttpServer(rooms *roomSvc.RoomService, opts Options) *HttpServer {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = model.DefaultMaxBodyBytes
	}
	s := &HttpServer{
		rooms: rooms,
		opts:  opts,
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}

	r := mux.NewRouter()
	r.HandleFunc("/api/room", s.HandleCreateRoom()).Methods(http.MethodPost)
	r.HandleFunc("/api/room/{id}/join", s.HandleJoin()).Methods(http.MethodPost)
	r.HandleFunc("/api/room/{id}/ttl", s.HandleTTL()).Methods(http.MethodGet)
	r.HandleFunc("/api/room/{id}", s.HandleDestroy()).Methods(http.MethodDelete)
	r.HandleFunc("/api/room/{id}/keys", s.HandleSubmitKeys()).Methods(http.MethodPost)
	r.HandleFunc("/api/room/{id}/keys", s.HandlePeerKeys()).Methods(http.MethodGet)
	r.HandleFunc("/api/room/{id}/kem", s.HandleSubmitEncapsulation()).Methods(http.MethodPost)
	r.HandleFunc("/api/room/{id}/kem", s.HandleEncapsulation()).Methods(http.MethodGet)
	r.HandleFunc("/api/room/{id}/messages", s.HandleAppendMessage()).Methods(http.MethodPost)
	r.HandleFunc("/api/room/{id}/messages", s.HandleListMessages()).Methods(http.MethodGet)
	r.HandleFunc("/api/room/{id}/ws", s.HandleEvents()).Methods(http.MethodGet)
	s.router = r

	return s
}

func (s *HttpServer) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *HttpServer) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (s *HttpServer) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if len(s.opts.AllowedOrigins) == 0 {
		return origin == "http://"+r.Host || origin == "https://"+r.Host
	}
	return slices.Contains(s.opts.AllowedOrigins, "*") || slices.Contains(s.opts.AllowedOrigins, origin)
}

func (s *HttpServer) HandleCreateRoom() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createRoomRequest
		if err := s.decode(w, r, &req, true); err != nil {
			writeError(w, err)
			return
		}
		if req.TTL < 0 {
			writeError(w, model.ErrMalformed)
			return
		}

		room, err := s.rooms.Create(r.Context(), time.Duration(req.TTL)*time.Second)
		if err != nil {
			log.Error("create room failed", zap.Error(err))
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, &createRoomResponse{RoomID: room.ID, TTL: int(room.TTL / time.Second)})
	}
}

func (s *HttpServer) HandleJoin() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		admission, err := s.rooms.Admit(r.Context(), mux.Vars(r)["id"], r.Header.Get(TokenHeader))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, admission)
	}
}

func (s *HttpServer) HandleTTL() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ttl, err := s.rooms.RemainingTTL(r.Context(), mux.Vars(r)["id"])
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, &ttlResponse{TTL: int(ttl / time.Second)})
	}
}

func (s *HttpServer) HandleDestroy() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		roomID := mux.Vars(r)["id"]

		if err := s.rooms.Authorize(ctx, roomID, r.Header.Get(TokenHeader)); err != nil {
			writeError(w, err)
			return
		}
		if _, err := s.rooms.Destroy(ctx, roomID, model.DestroyManual); err != nil {
			log.Error("destroy room failed", zap.String("room", roomID), zap.Error(err))
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *HttpServer) HandleSubmitKeys() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var keys model.PublicKeys
		if err := s.decode(w, r, &keys, false); err != nil {
			writeError(w, err)
			return
		}
		err := s.rooms.SubmitPublicKeys(r.Context(), mux.Vars(r)["id"], r.Header.Get(TokenHeader), &keys)
		if err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *HttpServer) HandlePeerKeys() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		peer, err := s.rooms.PeerPublicKeys(r.Context(), mux.Vars(r)["id"], r.Header.Get(TokenHeader))
		if err != nil {
			writeError(w, err)
			return
		}
		if peer == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeJSON(w, http.StatusOK, peer)
	}
}

func (s *HttpServer) HandleSubmitEncapsulation() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var e model.Encapsulation
		if err := s.decode(w, r, &e, false); err != nil {
			writeError(w, err)
			return
		}
		err := s.rooms.SubmitEncapsulation(r.Context(), mux.Vars(r)["id"], r.Header.Get(TokenHeader), &e)
		if err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *HttpServer) HandleEncapsulation() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		e, err := s.rooms.Encapsulation(r.Context(), mux.Vars(r)["id"], r.Header.Get(TokenHeader))
		if err != nil {
			writeError(w, err)
			return
		}
		if e == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeJSON(w, http.StatusOK, e)
	}
}

func (s *HttpServer) HandleAppendMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var out model.OutgoingMessage
		if err := s.decode(w, r, &out, false); err != nil {
			writeError(w, err)
			return
		}
		msg, err := s.rooms.AppendMessage(r.Context(), mux.Vars(r)["id"], r.Header.Get(TokenHeader), &out)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, msg)
	}
}

func (s *HttpServer) HandleListMessages() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		messages, err := s.rooms.ListMessages(r.Context(), mux.Vars(r)["id"], r.Header.Get(TokenHeader))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, &messagesResponse{Messages: messages})
	}
}

// decode reads a JSON body bounded by MaxBodyBytes. An empty body is only
// accepted when optional is set.
func (s *HttpServer) decode(w http.ResponseWriter, r *http.Request, v any, optional bool) error {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes)
	err := json.NewDecoder(r.Body).Decode(v)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, io.EOF) && optional:
		return nil
	}

	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return errBodyTooLarge
	}
	return model.ErrMalformed
}
