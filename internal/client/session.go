package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/akosenkov/castroom/internal/core"
	"github.com/akosenkov/castroom/internal/domain"
	"github.com/akosenkov/castroom/internal/media"
	"github.com/akosenkov/castroom/internal/reconciler"
)

const joinTimeout = 10 * time.Second

// ShareDeniedError is the normal, expected outcome of losing the share race.
type ShareDeniedError struct {
	Reason string
}

func (e *ShareDeniedError) Error() string {
	return fmt.Sprintf("share denied: %s", e.Reason)
}

// Options configures a Session.
type Options struct {
	// PeerID overrides the generated peer id (useful for tests and
	// authenticated callers).
	PeerID domain.PeerID
	// ShareTimeout bounds the start-share request; no reply within it is
	// treated as denial. Defaults to 7s.
	ShareTimeout time.Duration
}

// Session is one participant's presence state machine: it feeds registry
// events and media callbacks into the reconciler and drives the media
// channel toward peers the reconciler learns about.
type Session struct {
	sig *SignalClient
	med media.Channel
	rec *reconciler.Reconciler

	selfID       domain.PeerID
	shareTimeout time.Duration

	mu   sync.Mutex
	room domain.RoomCode
}

// NewSession wires the reconciler between the signaling client and the media
// channel. Dial the SignalClient with s.HandleEvent as the event callback,
// or construct via Connect.
func NewSession(med media.Channel, opts Options) *Session {
	selfID := opts.PeerID
	if selfID == "" {
		selfID = domain.PeerID(uuid.NewString())
	}
	shareTimeout := opts.ShareTimeout
	if shareTimeout <= 0 {
		shareTimeout = 7 * time.Second
	}

	s := &Session{
		med:          med,
		rec:          reconciler.New(),
		selfID:       selfID,
		shareTimeout: shareTimeout,
	}

	s.rec.OnNewPeer(func(pid domain.PeerID) {
		if err := med.ConnectToPeer(pid); err != nil {
			log.Error().Err(err).Str("module", "client.session").Str("peer", string(pid)).Msg("connect to peer")
		}
	})
	s.rec.OnStopLocalShare(func() {
		med.StopScreenCapture()
	})
	med.OnReceiveStream(s.rec.StreamReceived)
	med.OnPeerDisconnected(s.rec.PeerLeft)

	return s
}

// Connect dials the signaling endpoint and binds it to a new session.
func Connect(ctx context.Context, url string, med media.Channel, opts Options) (*Session, error) {
	s := NewSession(med, opts)
	sig, err := Dial(ctx, url, s.HandleEvent)
	if err != nil {
		return nil, err
	}
	s.sig = sig
	return s, nil
}

// Bind attaches an already dialed signaling client.
func (s *Session) Bind(sig *SignalClient) { s.sig = sig }

func (s *Session) SelfID() domain.PeerID { return s.selfID }

// Reconciler exposes the reconciled view for rendering.
func (s *Session) Reconciler() *reconciler.Reconciler { return s.rec }

// HandleEvent applies one incremental registry event. The signaling client
// calls it from its single read goroutine, so event bodies never interleave.
func (s *Session) HandleEvent(msgType string, data []byte) {
	switch msgType {
	case core.EventUserJoined:
		var ev core.UserJoinedEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			log.Error().Err(err).Str("module", "client.session").Msg("bad user-joined event")
			return
		}
		s.rec.PeerJoined(ev.PeerID, ev.Name)
	case core.EventUserLeft:
		var ev core.UserLeftEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			log.Error().Err(err).Str("module", "client.session").Msg("bad user-left event")
			return
		}
		s.rec.PeerLeft(ev.PeerID)
	case core.EventShareStatus:
		var ev core.ShareStatusEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			log.Error().Err(err).Str("module", "client.session").Msg("bad share-status event")
			return
		}
		s.rec.ShareStatus(ev.PeerID, ev.IsSharing, ev.SharerID)
	case core.EventParticipantMuted:
		var ev core.ParticipantMutedEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			log.Error().Err(err).Str("module", "client.session").Msg("bad muted event")
			return
		}
		s.rec.MutedChanged(ev.PeerID, ev.IsMuted)
	case core.EventInitiateShare:
		var ev core.InitiateShareEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			log.Error().Err(err).Str("module", "client.session").Msg("bad initiate-share event")
			return
		}
		// Targeted at the active sharer only: open a share channel toward
		// the late joiner. The local stream is already attached to future
		// connections by SendLocalStream.
		if s.rec.IsSelfSharing() {
			if err := s.med.ConnectToPeer(ev.NewPeerID); err != nil {
				log.Error().Err(err).Str("module", "client.session").Str("peer", string(ev.NewPeerID)).Msg("share to new peer")
			}
		}
	default:
		log.Debug().Str("module", "client.session").Str("type", msgType).Msg("unhandled event")
	}
}

// Join enters a room and bootstraps the local view from the returned
// snapshot. Re-sending Join after a dropped reply is harmless, it is an
// upsert on the server.
func (s *Session) Join(ctx context.Context, code domain.RoomCode, name string) error {
	s.rec.SetSelf(s.selfID, name)

	req := core.JoinRoomRequest{
		Type:     core.SignalJoinRoom,
		RoomCode: code,
		PeerID:   s.selfID,
		Name:     name,
	}
	data, err := s.sig.Request(ctx, req, core.MsgRoomState, joinTimeout)
	if err != nil {
		return err
	}
	var state core.RoomStateMessage
	if err := json.Unmarshal(data, &state); err != nil {
		return err
	}

	s.mu.Lock()
	s.room = code
	s.mu.Unlock()

	s.rec.ApplySnapshot(state.Participants, state.SharerID)
	log.Info().Str("module", "client.session").
		Str("room", string(code)).Int("known_peers", len(state.Participants)).
		Msg("joined room")
	return nil
}

// RoomExists asks the server whether a typed room code is live.
func (s *Session) RoomExists(ctx context.Context, code domain.RoomCode) (bool, error) {
	req := core.CheckRoomRequest{Type: core.SignalCheckRoomExists, RoomCode: code}
	data, err := s.sig.Request(ctx, req, core.MsgRoomExists, joinTimeout)
	if err != nil {
		return false, err
	}
	var resp core.RoomExistsMessage
	if err := json.Unmarshal(data, &resp); err != nil {
		return false, err
	}
	return resp.Exists, nil
}

// StartShare asks the registry for the exclusive share slot and starts local
// capture only after the grant. A timeout counts as denial and releases any
// speculatively-acquired capture resources; local state is never committed
// before the registry confirms.
func (s *Session) StartShare(ctx context.Context) error {
	s.mu.Lock()
	joined := s.room != ""
	s.mu.Unlock()
	if !joined {
		return core.ErrNotInRoom
	}

	req := struct {
		Type string `json:"type"`
	}{Type: core.SignalRequestStartShare}

	data, err := s.sig.Request(ctx, req, core.MsgShareResponse, s.shareTimeout)
	if err != nil {
		s.rec.ShareDenied(err.Error())
		s.med.StopScreenCapture()
		if errors.Is(err, ErrReplyTimeout) {
			return &ShareDeniedError{Reason: "no answer from server"}
		}
		return err
	}

	var resp core.ShareResponseMessage
	if err := json.Unmarshal(data, &resp); err != nil {
		return err
	}
	if !resp.Granted {
		s.rec.ShareDenied(resp.Reason)
		return &ShareDeniedError{Reason: resp.Reason}
	}

	track, err := s.med.StartScreenCapture()
	if err != nil {
		// Grant is held but capture failed; release the slot.
		s.notifyStopShare()
		return err
	}
	if err := s.med.SendLocalStream(track); err != nil {
		s.med.StopScreenCapture()
		s.notifyStopShare()
		return err
	}

	s.rec.ShareGranted()
	return nil
}

// StopShare releases the share slot and local capture.
func (s *Session) StopShare() {
	s.notifyStopShare()
	s.med.StopScreenCapture()
	s.rec.ShareStopped()
}

func (s *Session) notifyStopShare() {
	req := struct {
		Type string `json:"type"`
	}{Type: core.SignalNotifyStopShare}
	if err := s.sig.Send(req); err != nil {
		log.Warn().Err(err).Str("module", "client.session").Msg("notify stop share")
	}
}

// SetMuted flips the local mute state and tells roommates.
func (s *Session) SetMuted(muted bool) {
	s.rec.MutedChanged(s.selfID, muted)
	req := core.SetMutedRequest{Type: core.SignalSetMuted, IsMuted: muted}
	if err := s.sig.Send(req); err != nil {
		log.Warn().Err(err).Str("module", "client.session").Msg("set muted")
	}
}

// Leave exits the current room; the connection stays usable for a later Join.
func (s *Session) Leave() {
	s.mu.Lock()
	code := s.room
	s.room = ""
	s.mu.Unlock()
	if code == "" {
		return
	}
	req := core.LeaveRoomRequest{Type: core.SignalLeaveRoom, RoomCode: code, PeerID: s.selfID}
	if err := s.sig.Send(req); err != nil {
		log.Warn().Err(err).Str("module", "client.session").Msg("leave room")
	}
}

func (s *Session) Close() {
	s.Leave()
	s.sig.Close()
	s.med.Close()
}
