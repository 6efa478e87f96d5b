package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"phantom_chat/internal/model"
	"phantom_chat/internal/utils/log"

	"go.uber.org/zap"
)

// Error codes returned in the JSON error body.
const (
	CodeRoomNotFound = "room-not-found"
	CodeRoomFull     = "room-full"
	CodeForbidden    = "forbidden"
	CodeNoPeer       = "no-peer"
	CodeBadRequest   = "bad-request"
	CodeTooLarge     = "too-large"
	CodeInternal     = "internal"
)

var errBodyTooLarge = errors.New("request body too large")

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, model.ErrRoomNotFound):
		return http.StatusNotFound, CodeRoomNotFound
	case errors.Is(err, model.ErrRoomFull):
		return http.StatusConflict, CodeRoomFull
	case errors.Is(err, model.ErrNotMember):
		return http.StatusForbidden, CodeForbidden
	case errors.Is(err, model.ErrNoPeer):
		return http.StatusConflict, CodeNoPeer
	case errors.Is(err, model.ErrMalformed):
		return http.StatusBadRequest, CodeBadRequest
	case errors.Is(err, errBodyTooLarge):
		return http.StatusRequestEntityTooLarge, CodeTooLarge
	}
	return http.StatusInternalServerError, CodeInternal
}

func writeError(w http.ResponseWriter, err error) {
	status, code := classify(err)
	if status == http.StatusInternalServerError {
		log.Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, &errorResponse{Error: code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error("encode response failed", zap.Error(err))
		http.Error(w, CodeInternal, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}
