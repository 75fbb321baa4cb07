// Package media declares the media-channel capability consumed by the
// presence layer. The presence code never touches peer connections directly;
// it only asks the channel to connect toward newly learned peers and listens
// for stream arrival and peer loss.
package media

import (
	"github.com/pion/webrtc/v4"

	"github.com/akosenkov/castroom/internal/domain"
)

// Channel is one participant's media endpoint toward the rest of the room.
type Channel interface {
	// ConnectToPeer opens (or re-opens) a media connection toward peerID.
	// Idempotent: connecting to an already connected peer is a no-op.
	ConnectToPeer(peerID domain.PeerID) error

	// SendLocalStream attaches a local track to every current and future
	// peer connection.
	SendLocalStream(track webrtc.TrackLocal) error

	// OnReceiveStream sets the callback invoked when a remote track arrives.
	OnReceiveStream(func(track *webrtc.TrackRemote, peerID domain.PeerID))

	// OnPeerDisconnected sets the callback invoked when a peer's media
	// connection is lost. The presence layer treats this exactly like a
	// user-left signal.
	OnPeerDisconnected(func(peerID domain.PeerID))

	// SwitchCaptureDevice swaps the local capture source.
	SwitchCaptureDevice(deviceID string) error

	// StartScreenCapture acquires the local screen track.
	StartScreenCapture() (webrtc.TrackLocal, error)

	// StopScreenCapture releases the local screen track. Safe to call when
	// no capture is active.
	StopScreenCapture()

	// Close tears down all peer connections and local capture.
	Close()
}
