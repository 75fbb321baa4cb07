package signal

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/akosenkov/castroom/internal/core"
)

func (ctl *Controller) handleJoin(c *wsSignalConn, data []byte) {
	var p core.JoinRoomRequest
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad join payload")
		ctl.sendError(c, "bad_payload")
		return
	}

	if !ctl.limiter.Allow(p.PeerID) {
		log.Warn().Str("module", "signal").Str("peer", string(p.PeerID)).Msg("join rate limited")
		ctl.sendError(c, "too_many_joins")
		return
	}

	snap, err := ctl.Registry.Join(p.RoomCode, p.PeerID, p.Name, c)
	if err != nil {
		// Validation failure must not tear the connection down; the client
		// is told and free to retry.
		log.Warn().Err(err).Str("module", "signal").
			Str("room", string(p.RoomCode)).Str("peer", string(p.PeerID)).
			Msg("join rejected")
		ctl.sendError(c, err.Error())
		return
	}
	c.peerID = p.PeerID

	ctl.sendJSON(c, core.RoomStateMessage{
		Type:         core.MsgRoomState,
		RoomCode:     p.RoomCode,
		RoomSnapshot: snap,
	})
}

func (ctl *Controller) handleCheckRoom(c *wsSignalConn, data []byte) {
	var p core.CheckRoomRequest
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad check-room payload")
		ctl.sendError(c, "bad_payload")
		return
	}
	ctl.sendJSON(c, core.RoomExistsMessage{
		Type:     core.MsgRoomExists,
		RoomCode: p.RoomCode,
		Exists:   ctl.Registry.RoomExists(p.RoomCode),
	})
}

func (ctl *Controller) handleLeave(c *wsSignalConn, data []byte) {
	var p core.LeaveRoomRequest
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad leave payload")
		return
	}
	log.Info().Str("module", "signal").Str("room", string(p.RoomCode)).Str("peer", string(p.PeerID)).Msg("leave")
	ctl.Registry.Leave(p.RoomCode, p.PeerID)
}
