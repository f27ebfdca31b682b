package signal

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mkorchagin/pairchat/internal/app/orch"
	"github.com/mkorchagin/pairchat/internal/domain"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type Controller struct {
	Orch     *orch.Orchestrator
	validate *validator.Validate
}

func NewController(o *orch.Orchestrator) *Controller {
	return &Controller{
		Orch:     o,
		validate: validator.New(),
	}
}

// HandleWS upgrades the request and binds the connection as a new endpoint
// of the authenticated participant. The client token cookie set by the HTTP
// layer is the participant identity; every frame on this socket acts as it.
func (ctl *Controller) HandleWS(ctx context.Context, c *gin.Context) {
	pid := domain.ParticipantID(c.GetString("client_token"))

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	ep := newWSEndpoint(domain.EndpointID(uuid.NewString()), ws)
	if err := ctl.Orch.Connect(c.Request.Context(), pid, ep); err != nil {
		_ = ep.Send(translateError(err))
		ep.Close()
		return
	}
	log.Info().Str("module", "signal").Str("participant", string(pid)).Str("endpoint", string(ep.ID())).Msg("endpoint connected")

	connCtx, cancel := context.WithCancel(ctx)
	go ctl.writePump(connCtx, ep)
	go ctl.readPump(connCtx, cancel, pid, ep)
}

func (ctl *Controller) writePump(ctx context.Context, ep *wsEndpoint) {
	defer ep.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-ep.send:
			if !ok {
				return
			}
			_ = ep.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := ep.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}
}

// readPump reads until the socket dies. On exit the endpoint is detached
// from its participant so disconnect handling runs exactly once per socket.
func (ctl *Controller) readPump(ctx context.Context, cancel context.CancelFunc, pid domain.ParticipantID, ep *wsEndpoint) {
	defer func() {
		cancel()
		ctl.Orch.Disconnect(pid, ep.ID())
		ep.Close()
		log.Info().Str("module", "signal").Str("participant", string(pid)).Str("endpoint", string(ep.ID())).Msg("endpoint disconnected")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := ep.conn.ReadMessage()
			if err != nil {
				return
			}
			ctl.dispatch(pid, ep, data)
		}
	}
}
