package domain

import "errors"

const MaxRoomCodeLen = 64

var (
	ErrRoomCodeEmpty   = errors.New("room code empty")
	ErrRoomCodeTooLong = errors.New("room code too long")
)

// RoomCode is the opaque identifier a room is created and joined by.
type RoomCode string

func ValidateRoomCode(code RoomCode) error {
	if len(code) == 0 {
		return ErrRoomCodeEmpty
	}
	if len(code) > MaxRoomCodeLen {
		return ErrRoomCodeTooLong
	}
	return nil
}
