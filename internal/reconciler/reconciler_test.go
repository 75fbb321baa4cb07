package reconciler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akosenkov/castroom/internal/domain"
)

func TestPeerJoinedIsIdempotent(t *testing.T) {
	r := New()
	r.SetSelf("me", "Me")

	var connects []domain.PeerID
	r.OnNewPeer(func(pid domain.PeerID) { connects = append(connects, pid) })

	r.PeerJoined("p1", "Alice")
	r.PeerJoined("p1", "Alice")

	parts := r.Participants()
	require.Len(t, parts, 2) // self + p1
	assert.Equal(t, []domain.PeerID{"p1"}, connects, "one connect per newly learned peer")

	p, ok := r.Get("p1")
	require.True(t, ok)
	assert.Equal(t, "Alice", p.Name)
	assert.False(t, p.Self)
}

func TestSelfNeverFlips(t *testing.T) {
	r := New()
	r.SetSelf("me", "Me")

	// A late event about the local peer must not clear the self flag.
	r.PeerJoined("me", "Me renamed")
	p, ok := r.Get("me")
	require.True(t, ok)
	assert.True(t, p.Self)
	assert.Equal(t, "Me renamed", p.Name)

	// And identity cannot be re-assigned.
	r.SetSelf("other", "Other")
	assert.Equal(t, domain.PeerID("me"), r.SelfID())
}

func TestStreamReceivedCreatesRecord(t *testing.T) {
	r := New()
	r.SetSelf("me", "Me")

	var connects []domain.PeerID
	r.OnNewPeer(func(pid domain.PeerID) { connects = append(connects, pid) })

	// A track may arrive before the registry's join broadcast for its peer.
	r.StreamReceived(nil, "p1")

	p, ok := r.Get("p1")
	require.True(t, ok)
	assert.False(t, p.Self)
	assert.Equal(t, []domain.PeerID{"p1"}, connects)
}

func TestUpsertMergesPartialData(t *testing.T) {
	r := New()
	name := "Alice"
	muted := true

	r.Upsert(Update{ID: "p1", Name: &name})
	r.Upsert(Update{ID: "p1", Muted: &muted})

	p, ok := r.Get("p1")
	require.True(t, ok)
	assert.Equal(t, "Alice", p.Name, "merge must not wipe fields the update omits")
	assert.True(t, p.Muted)
}

func TestApplySnapshotBootstrapsMembership(t *testing.T) {
	r := New()
	r.SetSelf("me", "Me")

	var connects []domain.PeerID
	r.OnNewPeer(func(pid domain.PeerID) { connects = append(connects, pid) })

	r.ApplySnapshot(map[domain.PeerID]string{"p1": "Alice", "p2": "Bob"}, "p1")

	assert.Len(t, r.Participants(), 3)
	assert.ElementsMatch(t, []domain.PeerID{"p1", "p2"}, connects)
	assert.Equal(t, domain.PeerID("p1"), r.SharerID())
}

func TestApplySnapshotDropsStaleEntries(t *testing.T) {
	r := New()
	r.SetSelf("me", "Me")
	r.PeerJoined("stale", "Ghost")

	r.ApplySnapshot(map[domain.PeerID]string{"p1": "Alice"}, "")

	_, ok := r.Get("stale")
	assert.False(t, ok)
	_, ok = r.Get("me")
	assert.True(t, ok, "self survives any snapshot")
	_, ok = r.Get("p1")
	assert.True(t, ok)
}

func TestShareStatusAppliesAndClears(t *testing.T) {
	r := New()
	r.SetSelf("me", "Me")
	r.PeerJoined("p1", "Alice")

	r.ShareStatus("p1", true, "p1")
	assert.Equal(t, domain.PeerID("p1"), r.SharerID())

	// Re-applying is harmless.
	r.ShareStatus("p1", true, "p1")
	assert.Equal(t, domain.PeerID("p1"), r.SharerID())

	r.ShareStatus("p1", false, "")
	assert.Empty(t, r.SharerID())
}

func TestShareConflictRollsBackLocalShare(t *testing.T) {
	r := New()
	r.SetSelf("me", "Me")
	r.PeerJoined("p1", "Alice")

	stopped := 0
	r.OnStopLocalShare(func() { stopped++ })

	r.ShareGranted()
	require.True(t, r.IsSelfSharing())

	// Registry broadcast names another sharer: the registry's single grant
	// is authoritative and the local optimistic state must roll back.
	r.ShareStatus("p1", true, "p1")

	assert.False(t, r.IsSelfSharing())
	assert.Equal(t, 1, stopped)
	assert.Equal(t, domain.PeerID("p1"), r.SharerID())
}

func TestShareDeniedLeavesLocalStateClean(t *testing.T) {
	r := New()
	r.SetSelf("me", "Me")
	r.ShareDenied("Another user is already sharing.")
	assert.False(t, r.IsSelfSharing())
	assert.Empty(t, r.SharerID())
}

func TestPeerLeftClearsSharerFields(t *testing.T) {
	r := New()
	r.SetSelf("me", "Me")
	r.PeerJoined("p1", "Alice")
	r.ShareStatus("p1", true, "p1")

	// Peer loss via media layer; no stop event ever arrives.
	r.PeerLeft("p1")

	_, ok := r.Get("p1")
	assert.False(t, ok)
	assert.Empty(t, r.SharerID(), "sharer tracking cleared on peer loss, stop event or not")
}

func TestPeerLeftIsIdempotent(t *testing.T) {
	r := New()
	r.SetSelf("me", "Me")
	r.PeerJoined("p1", "Alice")

	r.PeerLeft("p1")
	r.PeerLeft("p1")

	assert.Len(t, r.Participants(), 1)
}

func TestStopShareStoppedLocally(t *testing.T) {
	r := New()
	r.SetSelf("me", "Me")
	r.ShareGranted()
	require.Equal(t, domain.PeerID("me"), r.SharerID())

	r.ShareStopped()
	assert.False(t, r.IsSelfSharing())
	assert.Empty(t, r.SharerID())
}

func TestMutedAndSpeakingUpdates(t *testing.T) {
	r := New()
	r.SetSelf("me", "Me")
	r.PeerJoined("p1", "Alice")

	r.MutedChanged("p1", true)
	r.SpeakingChanged("p1", true)

	p, ok := r.Get("p1")
	require.True(t, ok)
	assert.True(t, p.Muted)
	assert.True(t, p.Speaking)

	r.SpeakingChanged("p1", false)
	p, _ = r.Get("p1")
	assert.False(t, p.Speaking)
}

func TestEventBeforeSnapshotOrderTolerance(t *testing.T) {
	r := New()
	r.SetSelf("me", "Me")

	// Incremental event races ahead of the snapshot; applying both in
	// either order converges to the same view.
	r.PeerJoined("p2", "Bob")
	r.ApplySnapshot(map[domain.PeerID]string{"p1": "Alice", "p2": "Bob"}, "")

	parts := r.Participants()
	assert.Len(t, parts, 3)
}
