// Package reconciler merges three independently arriving event sources
// (registry broadcasts, media-layer callbacks and local user actions) into
// one consistent participant list and share indicator. Every transition is
// idempotent and order-tolerant: re-applying an event is harmless, and no
// arrival order between the sources is assumed.
package reconciler

import (
	"sort"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/akosenkov/castroom/internal/domain"
)

// Participant is the locally reconciled view of one room member.
type Participant struct {
	ID       domain.PeerID
	Name     string
	Muted    bool
	Self     bool
	Speaking bool
	// Stream is owned by the media layer; held here only for rendering.
	Stream *webrtc.TrackRemote
}

// Update is a partial participant record. Nil fields are left untouched on
// merge, which is what makes upserts from any source safe in any order.
type Update struct {
	ID       domain.PeerID
	Name     *string
	Muted    *bool
	Speaking *bool
	Stream   *webrtc.TrackRemote
}

// Reconciler holds one local session's presence state. All transitions are
// serialized by a single mutex; callbacks are invoked outside of it.
type Reconciler struct {
	mu           sync.Mutex
	participants map[domain.PeerID]*Participant
	selfID       domain.PeerID
	sharerID     domain.PeerID
	localSharing bool

	// onNewPeer fires once per newly learned remote peer; the session wires
	// it to the media channel's ConnectToPeer.
	onNewPeer func(domain.PeerID)
	// onStopLocalShare fires when a registry event contradicts an active
	// local share and the local capture must be rolled back.
	onStopLocalShare func()
}

func New() *Reconciler {
	return &Reconciler{participants: make(map[domain.PeerID]*Participant)}
}

func (r *Reconciler) OnNewPeer(fn func(domain.PeerID)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onNewPeer = fn
}

func (r *Reconciler) OnStopLocalShare(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onStopLocalShare = fn
}

// SetSelf records the local identity once it is known. The self flag of an
// existing record is never cleared afterwards, so a late duplicate of this
// call (or a stray event about the local peer) cannot flip identity.
func (r *Reconciler) SetSelf(id domain.PeerID, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.selfID != "" && r.selfID != id {
		log.Warn().Str("module", "reconciler").
			Str("self", string(r.selfID)).Str("claimed", string(id)).
			Msg("ignoring attempt to change local identity")
		return
	}
	r.selfID = id
	p := r.ensureLocked(id)
	p.Name = name
	p.Self = true
}

// Upsert merges a partial record from any source, creating the participant
// with defaults when absent. Returns true when the record was created.
func (r *Reconciler) Upsert(u Update) bool {
	r.mu.Lock()
	created, cb := r.upsertLocked(u)
	r.mu.Unlock()
	if cb != nil {
		cb(u.ID)
	}
	return created
}

// ApplySnapshot replaces the reconciler's belief about room membership and
// the sharer. The sharer field is always authoritative (last write wins).
// Absent participants are dropped only if they are not self and carry no live
// stream: a very recent joiner's stream event may have raced the snapshot,
// and such records are reconciled on the next event instead of deleted.
func (r *Reconciler) ApplySnapshot(participants map[domain.PeerID]string, sharerID domain.PeerID) {
	r.mu.Lock()
	var newPeers []domain.PeerID
	for pid, name := range participants {
		n := name
		if created, _ := r.upsertLocked(Update{ID: pid, Name: &n}); created {
			newPeers = append(newPeers, pid)
		}
	}
	for pid, p := range r.participants {
		if _, ok := participants[pid]; ok {
			continue
		}
		if p.Self || p.Stream != nil {
			continue
		}
		delete(r.participants, pid)
	}
	stop := r.adoptSharerLocked(sharerID)
	connect := r.onNewPeer
	r.mu.Unlock()

	if connect != nil {
		for _, pid := range newPeers {
			connect(pid)
		}
	}
	if stop != nil {
		stop()
	}
}

// PeerJoined applies a user-joined broadcast. Applying it twice for the same
// peer yields the same single record.
func (r *Reconciler) PeerJoined(id domain.PeerID, name string) {
	r.Upsert(Update{ID: id, Name: &name})
}

// PeerLeft removes a participant, whether reported by the registry or by the
// media layer noticing the peer's connection drop. If the departed peer was
// the believed sharer, the share indicator is cleared without waiting for an
// explicit stop event.
func (r *Reconciler) PeerLeft(id domain.PeerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id == r.selfID {
		return
	}
	delete(r.participants, id)
	if r.sharerID == id {
		r.sharerID = ""
	}
}

// ShareStatus applies a screen-share-status broadcast.
func (r *Reconciler) ShareStatus(peerID domain.PeerID, isSharing bool, sharerID domain.PeerID) {
	r.mu.Lock()
	var stop func()
	if isSharing {
		if sharerID == "" {
			sharerID = peerID
		}
		stop = r.adoptSharerLocked(sharerID)
	} else {
		if r.sharerID == peerID {
			r.sharerID = ""
		}
		if peerID == r.selfID {
			r.localSharing = false
		}
	}
	r.mu.Unlock()
	if stop != nil {
		stop()
	}
}

// ShareGranted commits the local share after the registry confirmed it.
// Local state is never set optimistically before the grant.
func (r *Reconciler) ShareGranted() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.localSharing = true
	r.sharerID = r.selfID
}

// ShareDenied records a denial; any speculative local state is dropped.
func (r *Reconciler) ShareDenied(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	log.Info().Str("module", "reconciler").Str("reason", reason).Msg("share request denied")
	r.localSharing = false
}

// ShareStopped applies the local user stopping their own share.
func (r *Reconciler) ShareStopped() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.localSharing = false
	if r.sharerID == r.selfID {
		r.sharerID = ""
	}
}

// StreamReceived attaches a remote stream to the peer's record, creating it
// if the stream outran the registry's join broadcast. The parameter order
// matches media.Channel's OnReceiveStream callback so it can be wired
// directly.
func (r *Reconciler) StreamReceived(track *webrtc.TrackRemote, id domain.PeerID) {
	r.Upsert(Update{ID: id, Stream: track})
}

func (r *Reconciler) SpeakingChanged(id domain.PeerID, speaking bool) {
	r.Upsert(Update{ID: id, Speaking: &speaking})
}

func (r *Reconciler) MutedChanged(id domain.PeerID, muted bool) {
	r.Upsert(Update{ID: id, Muted: &muted})
}

// Participants returns a stable listing of the current view.
func (r *Reconciler) Participants() []Participant {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Participant, 0, len(r.participants))
	for _, p := range r.participants {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Reconciler) Get(id domain.PeerID) (Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.participants[id]
	if !ok {
		return Participant{}, false
	}
	return *p, true
}

func (r *Reconciler) SelfID() domain.PeerID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.selfID
}

// SharerID returns the believed sharer, empty when nobody shares.
func (r *Reconciler) SharerID() domain.PeerID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sharerID
}

func (r *Reconciler) IsSelfSharing() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.localSharing
}

func (r *Reconciler) ensureLocked(id domain.PeerID) *Participant {
	p, ok := r.participants[id]
	if !ok {
		p = &Participant{ID: id}
		r.participants[id] = p
	}
	return p
}

// upsertLocked merges the update and reports whether a new remote record was
// created, returning the connect callback to invoke outside the lock.
func (r *Reconciler) upsertLocked(u Update) (bool, func(domain.PeerID)) {
	_, existed := r.participants[u.ID]
	p := r.ensureLocked(u.ID)
	if u.Name != nil {
		p.Name = *u.Name
	}
	if u.Muted != nil {
		p.Muted = *u.Muted
	}
	if u.Speaking != nil {
		p.Speaking = *u.Speaking
	}
	if u.Stream != nil {
		p.Stream = u.Stream
	}
	if u.ID == r.selfID {
		p.Self = true
	}
	created := !existed
	if created && u.ID != r.selfID {
		return true, r.onNewPeer
	}
	return created, nil
}

// adoptSharerLocked sets the believed sharer. When the registry names another
// peer while the local session still believes it is sharing, the registry
// wins: the local share is rolled back and the returned callback (run outside
// the lock) stops local capture.
func (r *Reconciler) adoptSharerLocked(sharerID domain.PeerID) func() {
	var stop func()
	if r.localSharing && sharerID != "" && sharerID != r.selfID {
		log.Warn().Str("module", "reconciler").
			Str("self", string(r.selfID)).Str("sharer", string(sharerID)).
			Msg("share conflict, registry granted to another peer, rolling back local share")
		r.localSharing = false
		stop = r.onStopLocalShare
	}
	r.sharerID = sharerID
	return stop
}
