package core

import (
	"errors"

	"github.com/akosenkov/castroom/internal/domain"
)

// Frame is a raw serialized signaling payload.
type Frame []byte

// SignalConnection abstracts the per-client messaging transport.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// ErrNotInRoom is returned for operations that require an active room
// association (share requests from peers that never joined).
var ErrNotInRoom = errors.New("peer is not in a room")

// RoomSnapshot is the full room state handed to a joining client before any
// incremental events. Participants excludes the caller.
type RoomSnapshot struct {
	Participants map[domain.PeerID]string `json:"participants"`
	SharerID     domain.PeerID            `json:"currentSharerId,omitempty"`
}

// ShareDecision is the synchronous answer to a start-share request.
type ShareDecision struct {
	Granted bool   `json:"success"`
	Reason  string `json:"message,omitempty"`
}

// RoomInfo is a read-only view for APIs (no transport fields).
type RoomInfo struct {
	Code        domain.RoomCode `json:"code"`
	MemberCount int             `json:"memberCount"`
	Sharing     bool            `json:"sharing"`
}
