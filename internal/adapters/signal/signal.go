// Package signal is the websocket transport adapter for the room registry.
// It owns connection lifecycle and (un)marshalling; all room and share state
// lives behind the registry.
package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/akosenkov/castroom/internal/config"
	"github.com/akosenkov/castroom/internal/core"
	"github.com/akosenkov/castroom/internal/domain"
)

var ErrBackpressure = errors.New("backpressure")

type Controller struct {
	Registry *core.Registry

	cfg     *config.Config
	limiter *JoinRateLimiter
}

func NewController(reg *core.Registry, cfg *config.Config) *Controller {
	return &Controller{
		Registry: reg,
		cfg:      cfg,
		limiter:  NewJoinRateLimiter(cfg.JoinRateLimit, cfg.JoinRateWindow),
	}
}

// wsSignalConn implements core.SignalConnection over one websocket.
type wsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	// peerID is bound by the first successful join and read only by the
	// connection's own read loop.
	peerID domain.PeerID

	mu     sync.RWMutex
	closed bool
}

func (c *wsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *wsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request and runs the connection's pumps. The
// client token is only a transport-level identity; the peer id arrives with
// the join signal.
func (ctl *Controller) HandleSignal(ctx context.Context, c *gin.Context) {
	token := c.GetString("client_token")
	log.Info().Str("module", "signal").Str("token", token).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	ws.SetReadLimit(ctl.cfg.ReadLimit)

	conn := &wsSignalConn{
		conn: ws,
		send: make(chan core.Frame, 32),
	}

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		defer cancel()
		ctl.writePump(ctx, conn)
	}()
	ctl.readPump(ctx, conn)
	cancel()
}
