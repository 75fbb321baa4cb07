package signal

import (
	"github.com/rs/zerolog/log"

	"github.com/akosenkov/castroom/internal/core"
)

// handleRequestStartShare is the one request/response signal that must come
// back with a definite answer: the caller starts expensive local capture only
// on a grant. The caller is resolved from the connection's bound peer id, the
// payload carries nothing.
func (ctl *Controller) handleRequestStartShare(c *wsSignalConn) {
	if c.peerID == "" {
		log.Warn().Str("module", "signal").Msg("share request before join")
		ctl.sendJSON(c, core.ShareResponseMessage{
			Type:          core.MsgShareResponse,
			ShareDecision: core.ShareDecision{Granted: false, Reason: "You are not in a room."},
		})
		return
	}
	dec := ctl.Registry.RequestStartShare(c.peerID)
	ctl.sendJSON(c, core.ShareResponseMessage{Type: core.MsgShareResponse, ShareDecision: dec})
}

func (ctl *Controller) handleNotifyStopShare(c *wsSignalConn) {
	if c.peerID == "" {
		log.Warn().Str("module", "signal").Msg("stop share before join")
		return
	}
	ctl.Registry.NotifyStopShare(c.peerID)
}
