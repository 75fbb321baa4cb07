package core

import "github.com/akosenkov/castroom/internal/domain"

// Client-to-server signal types.
const (
	SignalJoinRoom          = "join-room"
	SignalCheckRoomExists   = "check-room-exists"
	SignalRequestStartShare = "request-start-share"
	SignalNotifyStopShare   = "notify-stop-share"
	SignalLeaveRoom         = "leave-room"
	SignalSetMuted          = "set-muted"
	SignalPing              = "ping"
)

// Server reply types. Only check-room-exists and request-start-share are
// request/response; everything else is fire-and-forget.
const (
	MsgRoomState     = "room-state"
	MsgRoomExists    = "room-exists"
	MsgShareResponse = "share-response"
	MsgError         = "error"
	MsgPong          = "pong"
)

type JoinRoomRequest struct {
	Type     string          `json:"type"`
	RoomCode domain.RoomCode `json:"roomCode"`
	PeerID   domain.PeerID   `json:"peerId"`
	Name     string          `json:"name"`
}

type CheckRoomRequest struct {
	Type     string          `json:"type"`
	RoomCode domain.RoomCode `json:"roomCode"`
}

type LeaveRoomRequest struct {
	Type     string          `json:"type"`
	RoomCode domain.RoomCode `json:"roomCode"`
	PeerID   domain.PeerID   `json:"peerId"`
}

type SetMutedRequest struct {
	Type    string `json:"type"`
	IsMuted bool   `json:"isMuted"`
}

type RoomStateMessage struct {
	Type     string          `json:"type"`
	RoomCode domain.RoomCode `json:"roomCode"`
	RoomSnapshot
}

type RoomExistsMessage struct {
	Type     string          `json:"type"`
	RoomCode domain.RoomCode `json:"roomCode"`
	Exists   bool            `json:"exists"`
}

type ShareResponseMessage struct {
	Type string `json:"type"`
	ShareDecision
}

type ErrorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}
