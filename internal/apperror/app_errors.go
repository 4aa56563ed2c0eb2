package apperror

import "errors"

var (
	ErrRoomNotFound   = errors.New("room not found")
	ErrRoomFull       = errors.New("room is full")
	ErrNotYourTurn    = errors.New("it's not your turn")
	ErrCellOutOfRange = errors.New("cell is out of range")
	ErrMissingCell    = errors.New("move is missing a cell position")
	ErrInvalidToken   = errors.New("invalid token")
	ErrNotRoomMember  = errors.New("player is not a room member")
)
