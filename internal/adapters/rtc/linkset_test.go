package rtc

import (
	"errors"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akosenkov/castroom/internal/domain"
)

type staticCapture struct{}

func (staticCapture) ScreenTrack() (webrtc.TrackLocal, error) {
	return webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "screen", "screen")
}

func (staticCapture) DeviceTrack(string) (webrtc.TrackLocal, error) {
	return webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "mic", "mic")
}

func TestConnectToPeerIsIdempotent(t *testing.T) {
	ls := NewLinkSet(webrtc.Configuration{}, staticCapture{}, nil)
	defer ls.Close()

	require.NoError(t, ls.ConnectToPeer("p1"))
	require.NoError(t, ls.ConnectToPeer("p1"))

	ls.mu.Lock()
	defer ls.mu.Unlock()
	assert.Len(t, ls.links, 1)
}

func TestNegotiatorFailureDropsLink(t *testing.T) {
	boom := errors.New("boom")
	ls := NewLinkSet(webrtc.Configuration{}, staticCapture{}, func(_ domain.PeerID, _ *webrtc.PeerConnection) error {
		return boom
	})
	defer ls.Close()

	gone := 0
	ls.OnPeerDisconnected(func(domain.PeerID) { gone++ })

	require.ErrorIs(t, ls.ConnectToPeer("p1"), boom)

	ls.mu.Lock()
	assert.Empty(t, ls.links, "a link whose negotiation failed must not linger")
	ls.mu.Unlock()
	assert.Zero(t, gone, "a connection that never established is not a peer loss")
}

func TestScreenCaptureLifecycle(t *testing.T) {
	ls := NewLinkSet(webrtc.Configuration{}, staticCapture{}, nil)
	defer ls.Close()

	track, err := ls.StartScreenCapture()
	require.NoError(t, err)

	// Idempotent while active.
	again, err := ls.StartScreenCapture()
	require.NoError(t, err)
	assert.Same(t, track, again)

	ls.StopScreenCapture()
	// Safe when nothing is active.
	ls.StopScreenCapture()

	ls.mu.Lock()
	assert.Nil(t, ls.screenTrack)
	ls.mu.Unlock()
}

func TestSendLocalStreamAttachesToExistingLinks(t *testing.T) {
	ls := NewLinkSet(webrtc.Configuration{}, staticCapture{}, nil)
	defer ls.Close()

	require.NoError(t, ls.ConnectToPeer("p1"))

	track, err := staticCapture{}.DeviceTrack("default")
	require.NoError(t, err)
	require.NoError(t, ls.SendLocalStream(track))

	ls.mu.Lock()
	defer ls.mu.Unlock()
	require.Len(t, ls.links["p1"].senders, 1)
	assert.Equal(t, track, ls.links["p1"].senders[0].Track())
}
