package signal

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"github.com/mkorchagin/pairchat/internal/app/orch"
	"github.com/mkorchagin/pairchat/internal/core"
	"github.com/mkorchagin/pairchat/internal/domain"
)

// handlerTimeout bounds the external calls (ledger, match queue) a single
// inbound frame may trigger.
const handlerTimeout = 10 * time.Second

type envelope struct {
	Type string `json:"type"`
}

type joinQueuePayload struct {
	Requeue bool `json:"requeue"`
}

type chatMessagePayload struct {
	RoomID  string `json:"roomId" validate:"required"`
	Content string `json:"content" validate:"required,max=2000"`
}

type typingPayload struct {
	RoomID   string `json:"roomId" validate:"required"`
	IsTyping bool   `json:"isTyping"`
}

type roomPayload struct {
	RoomID string `json:"roomId" validate:"required"`
	Reason string `json:"reason,omitempty"`
}

type modePayload struct {
	Mode string `json:"mode" validate:"required,oneof=text audio video"`
}

type endSessionPayload struct {
	SessionID string `json:"sessionId" validate:"required"`
	Reason    string `json:"reason,omitempty"`
}

type reportPayload struct {
	RoomID      string `json:"roomId" validate:"required"`
	Reason      string `json:"reason" validate:"required,max=200"`
	Description string `json:"description" validate:"max=1000"`
}

type videoResponsePayload struct {
	RoomID       string `json:"roomId" validate:"required"`
	Accept       bool   `json:"accept"`
	ReportReason string `json:"reportReason,omitempty"`
}

type upgradeSignalPayload struct {
	RoomID  string          `json:"roomId" validate:"required"`
	Payload json.RawMessage `json:"payload" validate:"required"`
}

func (ctl *Controller) dispatch(pid domain.ParticipantID, ep *wsEndpoint, data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		ctl.reply(ep, &core.ValidationError{Field: "type", Reason: "malformed json"})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	var err error
	switch env.Type {
	case "join_queue":
		err = ctl.handleJoinQueue(pid, ep, data)
	case "leave_queue":
		ctl.Orch.LeaveTextQueue(pid)
	case "chat_message":
		err = ctl.handleChatMessage(pid, ep, data)
	case "typing":
		err = ctl.handleTyping(pid, data)
	case "reconnect":
		err = ctl.handleReconnect(pid, ep)
	case "end_room":
		err = ctl.handleEndRoom(pid, data)
	case "find_match":
		err = ctl.handleFindMatch(ctx, pid, data)
	case "stop_matching":
		err = ctl.handleStopMatching(ctx, pid, data)
	case "end_session":
		err = ctl.handleEndSession(ctx, pid, data)
	case "report_user":
		err = ctl.handleReport(ctx, pid, data)
	case "request_video":
		err = ctl.handleRequestVideo(pid, data)
	case "video_response":
		err = ctl.handleVideoResponse(ctx, pid, data)
	case "upgrade_offer":
		err = ctl.handleUpgradeSignal(pid, "offer", data)
	case "upgrade_answer":
		err = ctl.handleUpgradeSignal(pid, "answer", data)
	case "upgrade_ice_candidate":
		err = ctl.handleUpgradeSignal(pid, "candidate", data)
	case "video_connected":
		err = ctl.handleVideoConnected(pid, data)
	case "join_mode":
		err = ctl.handleMode(pid, data, ctl.Orch.JoinMode)
	case "leave_mode":
		err = ctl.handleMode(pid, data, ctl.Orch.LeaveMode)
	case "ping":
		_ = ep.Send(map[string]string{"type": "pong"})
	default:
		log.Debug().Str("module", "signal").Str("type", env.Type).Msg("unknown frame type")
		err = &core.ValidationError{Field: "type", Reason: "unknown"}
	}

	if err != nil {
		ctl.reply(ep, err)
	}
}

func (ctl *Controller) decode(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return &core.ValidationError{Field: "payload", Reason: "malformed json"}
	}
	if err := ctl.validate.Struct(v); err != nil {
		var invalid validator.ValidationErrors
		if errors.As(err, &invalid) && len(invalid) > 0 {
			return &core.ValidationError{Field: invalid[0].Field(), Reason: invalid[0].Tag()}
		}
		return &core.ValidationError{Field: "payload", Reason: "invalid"}
	}
	return nil
}

func (ctl *Controller) handleJoinQueue(pid domain.ParticipantID, ep *wsEndpoint, data []byte) error {
	var p joinQueuePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return &core.ValidationError{Field: "payload", Reason: "malformed json"}
	}
	evt, err := ctl.Orch.JoinTextQueue(pid, ep.ID(), p.Requeue)
	if err != nil {
		return err
	}
	return ep.Send(evt)
}

func (ctl *Controller) handleChatMessage(pid domain.ParticipantID, ep *wsEndpoint, data []byte) error {
	var p chatMessagePayload
	if err := ctl.decode(data, &p); err != nil {
		return err
	}
	ack, err := ctl.Orch.SendMessage(pid, domain.RoomID(p.RoomID), p.Content)
	if err != nil {
		return err
	}
	return ep.Send(ack)
}

func (ctl *Controller) handleTyping(pid domain.ParticipantID, data []byte) error {
	var p typingPayload
	if err := ctl.decode(data, &p); err != nil {
		return err
	}
	return ctl.Orch.Typing(pid, domain.RoomID(p.RoomID), p.IsTyping)
}

func (ctl *Controller) handleReconnect(pid domain.ParticipantID, ep *wsEndpoint) error {
	evt, err := ctl.Orch.ReconnectRoom(pid, ep.ID())
	if err != nil {
		return err
	}
	return ep.Send(evt)
}

func (ctl *Controller) handleEndRoom(pid domain.ParticipantID, data []byte) error {
	var p roomPayload
	if err := ctl.decode(data, &p); err != nil {
		return err
	}
	return ctl.Orch.EndRoom(pid, domain.RoomID(p.RoomID), p.Reason)
}

func (ctl *Controller) handleFindMatch(ctx context.Context, pid domain.ParticipantID, data []byte) error {
	var p modePayload
	if err := ctl.decode(data, &p); err != nil {
		return err
	}
	return ctl.Orch.FindMatch(ctx, pid, domain.Mode(p.Mode))
}

func (ctl *Controller) handleStopMatching(ctx context.Context, pid domain.ParticipantID, data []byte) error {
	var p modePayload
	if err := ctl.decode(data, &p); err != nil {
		return err
	}
	return ctl.Orch.StopMatching(ctx, pid, domain.Mode(p.Mode))
}

func (ctl *Controller) handleEndSession(ctx context.Context, pid domain.ParticipantID, data []byte) error {
	var p endSessionPayload
	if err := ctl.decode(data, &p); err != nil {
		return err
	}
	return ctl.Orch.EndSession(ctx, pid, domain.SessionID(p.SessionID), p.Reason)
}

func (ctl *Controller) handleReport(ctx context.Context, pid domain.ParticipantID, data []byte) error {
	var p reportPayload
	if err := ctl.decode(data, &p); err != nil {
		return err
	}
	return ctl.Orch.Report(ctx, pid, domain.RoomID(p.RoomID), p.Reason, p.Description)
}

func (ctl *Controller) handleRequestVideo(pid domain.ParticipantID, data []byte) error {
	var p roomPayload
	if err := ctl.decode(data, &p); err != nil {
		return err
	}
	return ctl.Orch.RequestVideo(pid, domain.RoomID(p.RoomID))
}

func (ctl *Controller) handleVideoResponse(ctx context.Context, pid domain.ParticipantID, data []byte) error {
	var p videoResponsePayload
	if err := ctl.decode(data, &p); err != nil {
		return err
	}
	return ctl.Orch.RespondVideo(ctx, pid, domain.RoomID(p.RoomID), p.Accept, p.ReportReason)
}

func (ctl *Controller) handleUpgradeSignal(pid domain.ParticipantID, kind string, data []byte) error {
	var p upgradeSignalPayload
	if err := ctl.decode(data, &p); err != nil {
		return err
	}
	return ctl.Orch.RelaySignal(pid, domain.RoomID(p.RoomID), kind, p.Payload)
}

func (ctl *Controller) handleVideoConnected(pid domain.ParticipantID, data []byte) error {
	var p roomPayload
	if err := ctl.decode(data, &p); err != nil {
		return err
	}
	return ctl.Orch.VideoConnected(pid, domain.RoomID(p.RoomID))
}

func (ctl *Controller) handleMode(pid domain.ParticipantID, data []byte, fn func(domain.ParticipantID, domain.Mode) error) error {
	var p modePayload
	if err := ctl.decode(data, &p); err != nil {
		return err
	}
	return fn(pid, domain.Mode(p.Mode))
}

func (ctl *Controller) reply(ep *wsEndpoint, err error) {
	_ = ep.Send(translateError(err))
}

// translateError maps an internal failure onto the client-facing error
// taxonomy. Internal details never leak to the wire.
func translateError(err error) orch.ErrorEvent {
	evt := orch.ErrorEvent{Type: orch.EvtError}

	var vErr *core.ValidationError
	var rlErr *core.RateLimitError
	var coinsErr *core.InsufficientCoinsError
	switch {
	case errors.As(err, &vErr):
		evt.Code = "validation"
		evt.Message = vErr.Error()
	case errors.As(err, &rlErr):
		evt.Code = "rate_limited"
		evt.Message = "too many messages, slow down"
		remaining := rlErr.Remaining
		evt.Remaining = &remaining
	case errors.As(err, &coinsErr):
		evt.Code = "insufficient_coins"
		evt.Message = "not enough coins to start a chat"
	case errors.Is(err, core.ErrAlreadyEngaged):
		evt.Code = "already_engaged"
		evt.Message = "finish your current chat first"
	case errors.Is(err, core.ErrNotFound):
		evt.Code = "not_found"
		evt.Message = "no such room or session"
	case errors.Is(err, core.ErrIdentityMismatch):
		evt.Code = "forbidden"
		evt.Message = "not a member of this conversation"
	case errors.Is(err, core.ErrInvalidTransition):
		evt.Code = "invalid_state"
		evt.Message = "action not possible right now"
	default:
		log.Error().Err(err).Str("module", "signal").Msg("handler failed")
		evt.Code = "internal"
		evt.Message = "something went wrong"
	}
	return evt
}
