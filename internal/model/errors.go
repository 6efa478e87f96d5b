package model

import "errors"

var (
	ErrRoomNotFound = errors.New("room not found")
	ErrRoomFull     = errors.New("room full")
	ErrNotMember    = errors.New("token not admitted to room")
	ErrNoPeer       = errors.New("no peer in room")
	ErrMalformed    = errors.New("malformed request")
)
