// Package rtc is a pion-backed implementation of the media channel
// capability: one PeerConnection per remote peer, local tracks fanned out to
// all of them. Session negotiation is supplied by the embedder through a
// Negotiator; this package carries no signaling of its own.
package rtc

import (
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/akosenkov/castroom/internal/domain"
	"github.com/akosenkov/castroom/internal/media"
)

var _ media.Channel = (*LinkSet)(nil)

// Negotiator performs the out-of-band SDP exchange for a freshly created
// peer connection.
type Negotiator func(peerID domain.PeerID, pc *webrtc.PeerConnection) error

// CaptureSource supplies local tracks. Actual device and screen capture
// happen outside this process's scope (in the browser or an embedder), so
// the source is injected.
type CaptureSource interface {
	ScreenTrack() (webrtc.TrackLocal, error)
	DeviceTrack(deviceID string) (webrtc.TrackLocal, error)
}

func DefaultWebRTCConfig() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{
				URLs: []string{"stun:stun.l.google.com:19302"},
			},
		},
	}
}

type link struct {
	pc      *webrtc.PeerConnection
	senders []*webrtc.RTPSender
}

// LinkSet implements media.Channel over a set of pion peer connections.
type LinkSet struct {
	cfg       webrtc.Configuration
	capture   CaptureSource
	negotiate Negotiator

	mu          sync.Mutex
	links       map[domain.PeerID]*link
	localTracks []webrtc.TrackLocal
	screenTrack webrtc.TrackLocal
	onStream    func(*webrtc.TrackRemote, domain.PeerID)
	onPeerGone  func(domain.PeerID)
	closed      bool
}

func NewLinkSet(cfg webrtc.Configuration, capture CaptureSource, negotiate Negotiator) *LinkSet {
	return &LinkSet{
		cfg:       cfg,
		capture:   capture,
		negotiate: negotiate,
		links:     make(map[domain.PeerID]*link),
	}
}

// ConnectToPeer opens a connection toward peerID. Idempotent.
func (ls *LinkSet) ConnectToPeer(peerID domain.PeerID) error {
	ls.mu.Lock()
	if ls.closed {
		ls.mu.Unlock()
		return nil
	}
	if _, ok := ls.links[peerID]; ok {
		ls.mu.Unlock()
		return nil
	}

	pc, err := webrtc.NewPeerConnection(ls.cfg)
	if err != nil {
		ls.mu.Unlock()
		return err
	}
	l := &link{pc: pc}
	ls.links[peerID] = l

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Info().Str("module", "rtc").
			Str("peer", string(peerID)).Str("kind", track.Kind().String()).Str("track_id", track.ID()).
			Msg("remote track")
		ls.mu.Lock()
		cb := ls.onStream
		ls.mu.Unlock()
		if cb != nil {
			cb(track, peerID)
		}
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "rtc").Str("peer", string(peerID)).Str("state", s.String()).Msg("peer state")
		if s == webrtc.PeerConnectionStateFailed || s == webrtc.PeerConnectionStateClosed {
			ls.dropLink(peerID, l)
		}
	})

	for _, t := range ls.localTracks {
		sender, err := pc.AddTrack(t)
		if err != nil {
			log.Error().Err(err).Str("module", "rtc").Str("peer", string(peerID)).Msg("add local track")
			continue
		}
		l.senders = append(l.senders, sender)
	}
	negotiate := ls.negotiate
	ls.mu.Unlock()

	if negotiate != nil {
		if err := negotiate(peerID, pc); err != nil {
			// Never established: remove silently, this is not a peer loss.
			ls.mu.Lock()
			if cur, ok := ls.links[peerID]; ok && cur == l {
				delete(ls.links, peerID)
			}
			ls.mu.Unlock()
			_ = pc.Close()
			return err
		}
	}
	return nil
}

func (ls *LinkSet) dropLink(peerID domain.PeerID, l *link) {
	ls.mu.Lock()
	cur, ok := ls.links[peerID]
	if !ok || cur != l {
		ls.mu.Unlock()
		return
	}
	delete(ls.links, peerID)
	cb := ls.onPeerGone
	closed := ls.closed
	ls.mu.Unlock()

	if cb != nil && !closed {
		cb(peerID)
	}
}

// SendLocalStream attaches the track to every current connection and
// remembers it for future ones.
func (ls *LinkSet) SendLocalStream(track webrtc.TrackLocal) error {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.localTracks = append(ls.localTracks, track)
	for pid, l := range ls.links {
		sender, err := l.pc.AddTrack(track)
		if err != nil {
			log.Error().Err(err).Str("module", "rtc").Str("peer", string(pid)).Msg("send local stream")
			continue
		}
		l.senders = append(l.senders, sender)
	}
	return nil
}

func (ls *LinkSet) OnReceiveStream(fn func(*webrtc.TrackRemote, domain.PeerID)) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.onStream = fn
}

func (ls *LinkSet) OnPeerDisconnected(fn func(domain.PeerID)) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.onPeerGone = fn
}

// SwitchCaptureDevice swaps the outgoing track of the same kind in place.
func (ls *LinkSet) SwitchCaptureDevice(deviceID string) error {
	track, err := ls.capture.DeviceTrack(deviceID)
	if err != nil {
		return err
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()
	for i, t := range ls.localTracks {
		if t.Kind() == track.Kind() && t != ls.screenTrack {
			ls.localTracks[i] = track
		}
	}
	for pid, l := range ls.links {
		for _, sender := range l.senders {
			st := sender.Track()
			if st == nil || st.Kind() != track.Kind() || st == ls.screenTrack {
				continue
			}
			if err := sender.ReplaceTrack(track); err != nil {
				log.Error().Err(err).Str("module", "rtc").Str("peer", string(pid)).Msg("replace track")
			}
		}
	}
	return nil
}

// StartScreenCapture acquires the screen track from the capture source.
// Idempotent while a capture is active.
func (ls *LinkSet) StartScreenCapture() (webrtc.TrackLocal, error) {
	ls.mu.Lock()
	if ls.screenTrack != nil {
		t := ls.screenTrack
		ls.mu.Unlock()
		return t, nil
	}
	ls.mu.Unlock()

	track, err := ls.capture.ScreenTrack()
	if err != nil {
		return nil, err
	}

	ls.mu.Lock()
	ls.screenTrack = track
	ls.mu.Unlock()
	return track, nil
}

// StopScreenCapture detaches the screen track everywhere. Safe to call when
// no capture is active.
func (ls *LinkSet) StopScreenCapture() {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	if ls.screenTrack == nil {
		return
	}
	for pid, l := range ls.links {
		kept := l.senders[:0]
		for _, sender := range l.senders {
			if sender.Track() == ls.screenTrack {
				if err := l.pc.RemoveTrack(sender); err != nil {
					log.Error().Err(err).Str("module", "rtc").Str("peer", string(pid)).Msg("remove screen track")
				}
				continue
			}
			kept = append(kept, sender)
		}
		l.senders = kept
	}
	for i, t := range ls.localTracks {
		if t == ls.screenTrack {
			ls.localTracks = append(ls.localTracks[:i], ls.localTracks[i+1:]...)
			break
		}
	}
	ls.screenTrack = nil
}

func (ls *LinkSet) Close() {
	ls.mu.Lock()
	ls.closed = true
	links := ls.links
	ls.links = make(map[domain.PeerID]*link)
	ls.screenTrack = nil
	ls.mu.Unlock()

	for pid, l := range links {
		if err := l.pc.Close(); err != nil {
			log.Error().Err(err).Str("module", "rtc").Str("peer", string(pid)).Msg("close error")
		}
	}
}
