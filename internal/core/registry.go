package core

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/akosenkov/castroom/internal/domain"
)

const (
	reasonLeave      = "leave"
	reasonDisconnect = "disconnect"
	reasonRejoin     = "rejoin"

	// MsgShareHeld is the human-readable denial reason surfaced to a peer
	// that requested the share slot while another peer holds it.
	MsgShareHeld = "Another user is already sharing."
)

type room struct {
	code         domain.RoomCode
	participants map[domain.PeerID]string
	sharer       domain.PeerID // empty when the slot is free
}

type peerEntry struct {
	room domain.RoomCode
	conn SignalConnection
}

// Registry is the authoritative store of room membership and screen-share
// ownership. It owns the room table and the peer-to-connection mapping
// exclusively; all mutation goes through its methods. One mutex covers every
// operation so that the share grant's check-then-set is uninterrupted and all
// broadcast side effects of one signal complete before the next is handled.
type Registry struct {
	mu    sync.Mutex
	rooms map[domain.RoomCode]*room
	peers map[domain.PeerID]*peerEntry
}

func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[domain.RoomCode]*room),
		peers: make(map[domain.PeerID]*peerEntry),
	}
}

// Join creates the room if absent, upserts the participant and records the
// peer's connection, superseding any stale connection for the same peer id.
// Re-sending Join is harmless: it is an upsert and also serves rename.
// The returned snapshot excludes the caller.
func (r *Registry) Join(code domain.RoomCode, peerID domain.PeerID, name string, conn SignalConnection) (RoomSnapshot, error) {
	if err := domain.ValidateRoomCode(code); err != nil {
		return RoomSnapshot{}, err
	}
	if err := domain.ValidatePeerID(peerID); err != nil {
		return RoomSnapshot{}, err
	}
	if err := domain.ValidateDisplayName(name); err != nil {
		return RoomSnapshot{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// A peer belongs to exactly one room; joining another implies leaving.
	if e, ok := r.peers[peerID]; ok && e.room != code {
		r.removeParticipantLocked(e.room, peerID, reasonRejoin)
	}

	rm, ok := r.rooms[code]
	if !ok {
		rm = &room{code: code, participants: make(map[domain.PeerID]string)}
		r.rooms[code] = rm
		log.Info().Str("module", "core.registry").Str("room", string(code)).Msg("room created")
	}

	rm.participants[peerID] = name
	r.peers[peerID] = &peerEntry{room: code, conn: conn}
	log.Info().Str("module", "core.registry").
		Str("room", string(code)).Str("peer", string(peerID)).Str("name", name).
		Msg("participant joined")

	r.broadcastLocked(rm, peerID, UserJoinedEvent{Type: EventUserJoined, PeerID: peerID, Name: name})

	// Only the sharer needs to act on a mid-share join, so this is targeted
	// rather than broadcast.
	if rm.sharer != "" && rm.sharer != peerID {
		if se, ok := r.peers[rm.sharer]; ok {
			r.sendLocked(se.conn, InitiateShareEvent{Type: EventInitiateShare, NewPeerID: peerID})
		}
	}

	snap := RoomSnapshot{
		Participants: make(map[domain.PeerID]string, len(rm.participants)-1),
		SharerID:     rm.sharer,
	}
	for pid, n := range rm.participants {
		if pid != peerID {
			snap.Participants[pid] = n
		}
	}
	return snap, nil
}

// RoomExists is a pure lookup with no side effects.
func (r *Registry) RoomExists(code domain.RoomCode) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.rooms[code]
	return ok
}

// RequestStartShare arbitrates the exclusive share slot: first request wins,
// no preemption, no queueing. A repeated request from the current holder is
// granted again so a retried request after a dropped reply stays safe.
func (r *Registry) RequestStartShare(peerID domain.PeerID) ShareDecision {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.roomOfLocked(peerID)
	if !ok {
		log.Warn().Str("module", "core.registry").Str("peer", string(peerID)).Msg("share request from peer without a room")
		return ShareDecision{Granted: false, Reason: "You are not in a room."}
	}

	if rm.sharer != "" && rm.sharer != peerID {
		log.Info().Str("module", "core.registry").
			Str("room", string(rm.code)).Str("peer", string(peerID)).Str("sharer", string(rm.sharer)).
			Msg("share denied, slot held")
		return ShareDecision{Granted: false, Reason: MsgShareHeld}
	}

	rm.sharer = peerID
	log.Info().Str("module", "core.registry").
		Str("room", string(rm.code)).Str("peer", string(peerID)).
		Msg("share granted")
	r.broadcastLocked(rm, "", ShareStatusEvent{
		Type:      EventShareStatus,
		PeerID:    peerID,
		IsSharing: true,
		SharerID:  peerID,
	})
	return ShareDecision{Granted: true}
}

// NotifyStopShare clears the share slot if the caller holds it. A stop from
// anyone else is a no-op so a stale or duplicate stop cannot clear an active
// share that belongs to another peer.
func (r *Registry) NotifyStopShare(peerID domain.PeerID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.roomOfLocked(peerID)
	if !ok {
		log.Warn().Str("module", "core.registry").Str("peer", string(peerID)).Msg("stop share from peer without a room")
		return
	}
	if rm.sharer != peerID {
		log.Warn().Str("module", "core.registry").
			Str("room", string(rm.code)).Str("peer", string(peerID)).Str("sharer", string(rm.sharer)).
			Msg("stop share from non-sharer ignored")
		return
	}

	rm.sharer = ""
	log.Info().Str("module", "core.registry").
		Str("room", string(rm.code)).Str("peer", string(peerID)).
		Msg("share stopped")
	r.broadcastLocked(rm, "", ShareStatusEvent{Type: EventShareStatus, PeerID: peerID, IsSharing: false})
}

// Leave removes the peer from the named room. Calling it twice, or after a
// disconnect already cleaned the peer up, is a no-op.
func (r *Registry) Leave(code domain.RoomCode, peerID domain.PeerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeParticipantLocked(code, peerID, reasonLeave)
}

// Disconnect performs the same cleanup as Leave but is driven by transport
// connection loss, so the room and peer are resolved from the connection.
// A connection superseded by a newer one for the same peer resolves to
// nothing and the call is a no-op.
func (r *Registry) Disconnect(conn SignalConnection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for pid, e := range r.peers {
		if e.conn == conn {
			r.removeParticipantLocked(e.room, pid, reasonDisconnect)
			return
		}
	}
	log.Debug().Str("module", "core.registry").Msg("disconnect for unknown or superseded connection")
}

// RelayMuted rebroadcasts a peer's mute state to its roommates. The registry
// does not own mute state; it only fans the signal out.
func (r *Registry) RelayMuted(peerID domain.PeerID, muted bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.roomOfLocked(peerID)
	if !ok {
		log.Warn().Str("module", "core.registry").Str("peer", string(peerID)).Msg("mute signal from peer without a room")
		return
	}
	r.broadcastLocked(rm, peerID, ParticipantMutedEvent{Type: EventParticipantMuted, PeerID: peerID, IsMuted: muted})
}

// Members returns a copy of the room's participant mapping.
func (r *Registry) Members(code domain.RoomCode) (map[domain.PeerID]string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm, ok := r.rooms[code]
	if !ok {
		return nil, false
	}
	out := make(map[domain.PeerID]string, len(rm.participants))
	for pid, n := range rm.participants {
		out[pid] = n
	}
	return out, true
}

func (r *Registry) Rooms() []RoomInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]RoomInfo, 0, len(r.rooms))
	for code, rm := range r.rooms {
		out = append(out, RoomInfo{Code: code, MemberCount: len(rm.participants), Sharing: rm.sharer != ""})
	}
	return out
}

func (r *Registry) roomOfLocked(peerID domain.PeerID) (*room, bool) {
	e, ok := r.peers[peerID]
	if !ok {
		return nil, false
	}
	rm, ok := r.rooms[e.room]
	return rm, ok
}

// removeParticipantLocked is the single cleanup path shared by Leave,
// Disconnect and rejoin, so room deletion and sharer clearing are enforced in
// exactly one place.
func (r *Registry) removeParticipantLocked(code domain.RoomCode, peerID domain.PeerID, reason string) {
	rm, ok := r.rooms[code]
	if !ok {
		return
	}
	if _, ok = rm.participants[peerID]; !ok {
		return
	}

	delete(rm.participants, peerID)
	if e, ok := r.peers[peerID]; ok && e.room == code {
		delete(r.peers, peerID)
	}

	wasSharer := rm.sharer == peerID
	if wasSharer {
		rm.sharer = ""
	}

	log.Info().Str("module", "core.registry").
		Str("room", string(code)).Str("peer", string(peerID)).Str("reason", reason).Bool("was_sharer", wasSharer).
		Msg("participant removed")

	r.broadcastLocked(rm, "", UserLeftEvent{Type: EventUserLeft, PeerID: peerID})
	if wasSharer {
		r.broadcastLocked(rm, "", ShareStatusEvent{Type: EventShareStatus, PeerID: peerID, IsSharing: false})
	}

	if len(rm.participants) == 0 {
		delete(r.rooms, code)
		log.Info().Str("module", "core.registry").Str("room", string(code)).Msg("room deleted, empty")
	}
}

// broadcastLocked fans an event out to every participant of the room except
// exclude (empty means no exclusion). Send failures are logged and skipped;
// a slow client must not stall the registry.
func (r *Registry) broadcastLocked(rm *room, exclude domain.PeerID, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "core.registry").Msg("broadcast marshal")
		return
	}
	for pid := range rm.participants {
		if pid == exclude {
			continue
		}
		e, ok := r.peers[pid]
		if !ok {
			continue
		}
		if err := e.conn.TrySend(Frame(b)); err != nil {
			log.Warn().Err(err).Str("module", "core.registry").
				Str("room", string(rm.code)).Str("peer", string(pid)).
				Msg("broadcast send dropped")
		}
	}
}

func (r *Registry) sendLocked(conn SignalConnection, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "core.registry").Msg("targeted send marshal")
		return
	}
	if err := conn.TrySend(Frame(b)); err != nil {
		log.Warn().Err(err).Str("module", "core.registry").Msg("targeted send dropped")
	}
}
