package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akosenkov/castroom/internal/core"
	"github.com/akosenkov/castroom/internal/domain"
)

type fakeMedia struct {
	mu        sync.Mutex
	connected []domain.PeerID
	captures  int
	stops     int
	sent      []webrtc.TrackLocal
	onStream  func(*webrtc.TrackRemote, domain.PeerID)
	onGone    func(domain.PeerID)
}

func (m *fakeMedia) ConnectToPeer(pid domain.PeerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = append(m.connected, pid)
	return nil
}

func (m *fakeMedia) SendLocalStream(track webrtc.TrackLocal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, track)
	return nil
}

func (m *fakeMedia) OnReceiveStream(fn func(*webrtc.TrackRemote, domain.PeerID)) { m.onStream = fn }
func (m *fakeMedia) OnPeerDisconnected(fn func(domain.PeerID))                   { m.onGone = fn }
func (m *fakeMedia) SwitchCaptureDevice(string) error                            { return nil }

func (m *fakeMedia) StartScreenCapture() (webrtc.TrackLocal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.captures++
	return webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "screen", "screen")
}

func (m *fakeMedia) StopScreenCapture() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stops++
}

func (m *fakeMedia) Close() {}

func (m *fakeMedia) connectedPeers() []domain.PeerID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.PeerID(nil), m.connected...)
}

func (m *fakeMedia) stopCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stops
}

// stubServer speaks just enough of the signal protocol for one client and
// hands the test the raw connection for pushing unsolicited events.
type stubServer struct {
	srv   *httptest.Server
	conns chan *websocket.Conn
}

func newStubServer(t *testing.T, handle func(conn *websocket.Conn, msg map[string]any)) *stubServer {
	t.Helper()
	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	s := &stubServer{conns: make(chan *websocket.Conn, 4)}

	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.conns <- conn
		for {
			var msg map[string]any
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if handle != nil {
				handle(conn, msg)
			}
		}
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *stubServer) url() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

func (s *stubServer) conn(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case c := <-s.conns:
		return c
	case <-time.After(3 * time.Second):
		t.Fatal("no server-side connection")
		return nil
	}
}

func grantingHandler(granted bool, reason string) func(conn *websocket.Conn, msg map[string]any) {
	return func(conn *websocket.Conn, msg map[string]any) {
		switch msg["type"] {
		case core.SignalJoinRoom:
			_ = conn.WriteJSON(map[string]any{
				"type":         core.MsgRoomState,
				"roomCode":     msg["roomCode"],
				"participants": map[string]string{"p9": "Zoe"},
			})
		case core.SignalRequestStartShare:
			resp := map[string]any{"type": core.MsgShareResponse, "success": granted}
			if reason != "" {
				resp["message"] = reason
			}
			_ = conn.WriteJSON(resp)
		}
	}
}

func TestJoinAppliesSnapshotAndConnectsPeers(t *testing.T) {
	srv := newStubServer(t, grantingHandler(true, ""))
	med := &fakeMedia{}

	s, err := Connect(context.Background(), srv.url(), med, Options{PeerID: "me"})
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Join(context.Background(), "abc123", "Me"))

	p, ok := s.Reconciler().Get("p9")
	require.True(t, ok)
	assert.Equal(t, "Zoe", p.Name)

	self, ok := s.Reconciler().Get("me")
	require.True(t, ok)
	assert.True(t, self.Self)

	assert.Equal(t, []domain.PeerID{"p9"}, med.connectedPeers())
}

func TestStartShareGranted(t *testing.T) {
	srv := newStubServer(t, grantingHandler(true, ""))
	med := &fakeMedia{}

	s, err := Connect(context.Background(), srv.url(), med, Options{PeerID: "me"})
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Join(context.Background(), "abc123", "Me"))

	require.NoError(t, s.StartShare(context.Background()))

	assert.True(t, s.Reconciler().IsSelfSharing())
	assert.Equal(t, domain.PeerID("me"), s.Reconciler().SharerID())
	med.mu.Lock()
	defer med.mu.Unlock()
	assert.Equal(t, 1, med.captures, "capture starts only after the grant")
	assert.Len(t, med.sent, 1)
}

func TestStartShareDenied(t *testing.T) {
	srv := newStubServer(t, grantingHandler(false, core.MsgShareHeld))
	med := &fakeMedia{}

	s, err := Connect(context.Background(), srv.url(), med, Options{PeerID: "me"})
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Join(context.Background(), "abc123", "Me"))

	err = s.StartShare(context.Background())
	var denied *ShareDeniedError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, core.MsgShareHeld, denied.Reason)

	assert.False(t, s.Reconciler().IsSelfSharing())
	med.mu.Lock()
	defer med.mu.Unlock()
	assert.Zero(t, med.captures, "denial must not start capture")
}

func TestStartShareBeforeJoin(t *testing.T) {
	srv := newStubServer(t, nil)
	med := &fakeMedia{}

	s, err := Connect(context.Background(), srv.url(), med, Options{PeerID: "me"})
	require.NoError(t, err)
	defer s.Close()

	assert.ErrorIs(t, s.StartShare(context.Background()), core.ErrNotInRoom)
}

func TestStartShareTimeoutIsDenial(t *testing.T) {
	// The server accepts the join but swallows the share request.
	srv := newStubServer(t, func(conn *websocket.Conn, msg map[string]any) {
		if msg["type"] == core.SignalJoinRoom {
			_ = conn.WriteJSON(map[string]any{
				"type":         core.MsgRoomState,
				"roomCode":     msg["roomCode"],
				"participants": map[string]string{},
			})
		}
	})
	med := &fakeMedia{}

	s, err := Connect(context.Background(), srv.url(), med, Options{PeerID: "me", ShareTimeout: 50 * time.Millisecond})
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Join(context.Background(), "abc123", "Me"))

	err = s.StartShare(context.Background())
	var denied *ShareDeniedError
	require.ErrorAs(t, err, &denied)

	assert.False(t, s.Reconciler().IsSelfSharing())
	assert.GreaterOrEqual(t, med.stopCount(), 1, "speculative capture resources released on timeout")
}

func TestShareConflictRollback(t *testing.T) {
	srv := newStubServer(t, grantingHandler(true, ""))
	med := &fakeMedia{}

	s, err := Connect(context.Background(), srv.url(), med, Options{PeerID: "me"})
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Join(context.Background(), "abc123", "Me"))
	require.NoError(t, s.StartShare(context.Background()))

	// Registry broadcast names p9: its grant is authoritative and the local
	// share rolls back.
	conn := srv.conn(t)
	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":         core.EventShareStatus,
		"peerId":       "p9",
		"isSharing":    true,
		"sharerPeerId": "p9",
	}))

	require.Eventually(t, func() bool {
		return !s.Reconciler().IsSelfSharing() && s.Reconciler().SharerID() == "p9"
	}, 3*time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, med.stopCount(), 1)
}

func TestIncrementalEventsUpdateView(t *testing.T) {
	srv := newStubServer(t, grantingHandler(true, ""))
	med := &fakeMedia{}

	s, err := Connect(context.Background(), srv.url(), med, Options{PeerID: "me"})
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Join(context.Background(), "abc123", "Me"))

	conn := srv.conn(t)
	require.NoError(t, conn.WriteJSON(map[string]any{
		"type": core.EventUserJoined, "peerId": "p2", "name": "Bob",
	}))
	require.Eventually(t, func() bool {
		_, ok := s.Reconciler().Get("p2")
		return ok
	}, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type": core.EventParticipantMuted, "peerId": "p2", "isMuted": true,
	}))
	require.Eventually(t, func() bool {
		p, ok := s.Reconciler().Get("p2")
		return ok && p.Muted
	}, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type": core.EventUserLeft, "peerId": "p2",
	}))
	require.Eventually(t, func() bool {
		_, ok := s.Reconciler().Get("p2")
		return !ok
	}, 3*time.Second, 10*time.Millisecond)
}

func TestIncomingStreamAttachesViaReconciler(t *testing.T) {
	srv := newStubServer(t, grantingHandler(true, ""))
	med := &fakeMedia{}

	s, err := Connect(context.Background(), srv.url(), med, Options{PeerID: "me"})
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Join(context.Background(), "abc123", "Me"))

	// The media layer's stream callback feeds the reconciler directly, and a
	// track may outrun the join broadcast for its peer.
	med.onStream(nil, "p4")

	_, ok := s.Reconciler().Get("p4")
	assert.True(t, ok)
}

func TestMediaDisconnectCleansUpPeer(t *testing.T) {
	srv := newStubServer(t, grantingHandler(true, ""))
	med := &fakeMedia{}

	s, err := Connect(context.Background(), srv.url(), med, Options{PeerID: "me"})
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Join(context.Background(), "abc123", "Me"))

	_, ok := s.Reconciler().Get("p9")
	require.True(t, ok)

	// The media layer noticing the drop is as good as a user-left signal.
	med.onGone("p9")

	_, ok = s.Reconciler().Get("p9")
	assert.False(t, ok)
}
