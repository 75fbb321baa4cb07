package signal

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/akosenkov/castroom/internal/core"
)

func (ctl *Controller) handlePing(c *wsSignalConn) {
	ctl.sendJSON(c, struct {
		Type string `json:"type"`
	}{Type: core.MsgPong})
}

func (ctl *Controller) handleSetMuted(c *wsSignalConn, data []byte) {
	if c.peerID == "" {
		log.Warn().Str("module", "signal").Msg("mute signal before join")
		return
	}
	var p core.SetMutedRequest
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad set-muted payload")
		return
	}
	ctl.Registry.RelayMuted(c.peerID, p.IsMuted)
}
