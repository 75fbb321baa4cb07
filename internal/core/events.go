package core

import "github.com/akosenkov/castroom/internal/domain"

// Server-to-client event types. These are the registry's event contract:
// clients bootstrap from a RoomSnapshot and then apply these incrementally.
const (
	EventUserJoined       = "user-joined"
	EventUserLeft         = "user-left"
	EventShareStatus      = "screen-share-status"
	EventInitiateShare    = "initiate-screen-share-to-new-peer"
	EventParticipantMuted = "participant-muted"
)

type UserJoinedEvent struct {
	Type   string        `json:"type"`
	PeerID domain.PeerID `json:"peerId"`
	Name   string        `json:"name"`
}

type UserLeftEvent struct {
	Type   string        `json:"type"`
	PeerID domain.PeerID `json:"peerId"`
}

// ShareStatusEvent announces a change of the room's share slot. PeerID is the
// peer whose share started or stopped; SharerID is the slot holder after the
// change (empty when the slot is free).
type ShareStatusEvent struct {
	Type      string        `json:"type"`
	PeerID    domain.PeerID `json:"peerId"`
	IsSharing bool          `json:"isSharing"`
	SharerID  domain.PeerID `json:"sharerPeerId,omitempty"`
}

// InitiateShareEvent is sent only to the current sharer when a new peer joins
// mid-share, instructing it to open a share media channel toward that peer.
type InitiateShareEvent struct {
	Type      string        `json:"type"`
	NewPeerID domain.PeerID `json:"newPeerId"`
}

type ParticipantMutedEvent struct {
	Type    string        `json:"type"`
	PeerID  domain.PeerID `json:"peerId"`
	IsMuted bool          `json:"isMuted"`
}
