package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/akosenkov/castroom/internal/core"
)

const writeWait = 5 * time.Second

func (ctl *Controller) writePump(ctx context.Context, c *wsSignalConn) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

// readPump processes inbound signals one at a time; each signal's effects,
// broadcasts included, complete before the next is read. Connection loss
// triggers the same cleanup as an explicit leave.
func (ctl *Controller) readPump(ctx context.Context, c *wsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("peer", string(c.peerID)).Msg("readPump closing")
		ctl.Registry.Disconnect(c)
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				log.Info().Err(err).Str("module", "signal").Str("peer", string(c.peerID)).Msg("readPump read error")
				return
			}
			ctl.handleSignal(c, data)
		}
	}
}

func (ctl *Controller) handleSignal(c *wsSignalConn, data []byte) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		return
	}

	switch env.Type {
	case core.SignalJoinRoom:
		ctl.handleJoin(c, data)
	case core.SignalCheckRoomExists:
		ctl.handleCheckRoom(c, data)
	case core.SignalRequestStartShare:
		ctl.handleRequestStartShare(c)
	case core.SignalNotifyStopShare:
		ctl.handleNotifyStopShare(c)
	case core.SignalLeaveRoom:
		ctl.handleLeave(c, data)
	case core.SignalSetMuted:
		ctl.handleSetMuted(c, data)
	case core.SignalPing:
		ctl.handlePing(c)
	default:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown signal")
	}
}

func (ctl *Controller) sendJSON(c *wsSignalConn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	if err := c.TrySend(core.Frame(b)); err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("sendJSON dropped")
	}
}

func (ctl *Controller) sendError(c *wsSignalConn, msg string) {
	ctl.sendJSON(c, core.ErrorMessage{Type: core.MsgError, Error: msg})
}
