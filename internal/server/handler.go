package server

import (
	"context"
	"errors"
	"log/slog"
	"net/netip"

	"github.com/siohaza/tapserv/internal/codec"
	"github.com/siohaza/tapserv/internal/gamestate"
	"github.com/siohaza/tapserv/internal/hooks"
	"github.com/siohaza/tapserv/internal/metrics"
	"github.com/siohaza/tapserv/internal/protocol"
	"github.com/siohaza/tapserv/internal/validation"
)

// Sender delivers an encoded reply. *network.Transport satisfies it.
type Sender interface {
	Send(payload []byte, kind protocol.Kind, to netip.AddrPort) (uint32, error)
}

// Handler turns decoded client messages into engine calls and replies.
type Handler struct {
	engine *gamestate.Engine
	sender Sender
	hooks  hooks.Hooks
	logger *slog.Logger
}

func NewHandler(engine *gamestate.Engine, sender Sender, h hooks.Hooks, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if h == nil {
		h = hooks.Nop{}
	}
	return &Handler{
		engine: engine,
		sender: sender,
		hooks:  h,
		logger: logger,
	}
}

func (h *Handler) Handle(ctx context.Context, payload []byte, from netip.AddrPort) {
	msg, err := codec.Decode(payload)
	if err != nil {
		metrics.RecordDropped(metrics.DropDecode)
		h.logger.Debug("dropping undecodable message", "from", from, "error", err)
		return
	}

	switch m := msg.(type) {
	case codec.InitialRequest:
		err = h.handleInitial(ctx, m, from)
	case codec.UpdateRequest:
		err = h.handleUpdate(ctx, m, from)
	case codec.PickedChestRequest:
		err = h.handlePickedChest(ctx, m)
	case codec.DisconnectRequest:
		err = h.handleDisconnect(ctx, m, from)
	default:
		h.logger.Debug("unhandled message type", "type", msg.Type(), "from", from)
		return
	}

	if err != nil {
		if errors.Is(err, gamestate.ErrEngineStopped) || errors.Is(err, context.Canceled) {
			h.logger.Debug("message dropped during shutdown", "type", msg.Type(), "from", from)
			return
		}
		h.logger.Warn("failed to handle message", "type", msg.Type(), "from", from, "error", err)
	}
}

func (h *Handler) handleInitial(ctx context.Context, req codec.InitialRequest, from netip.AddrPort) error {
	name := validation.SanitizeName(req.PlayerName)

	joined, err := h.engine.Register(ctx, name)
	if err != nil {
		return err
	}

	id := joined.Response.PlayerID
	h.logger.Info("player joined", "player", id, "name", name, "from", from, "round", joined.RoundID)
	h.hooks.OnPlayerJoin(id, name)

	return h.reply(joined.Response, protocol.KindReliable, from)
}

func (h *Handler) handleUpdate(ctx context.Context, req codec.UpdateRequest, from netip.AddrPort) error {
	if !validation.IsFiniteVector(req.Position) || !validation.IsFiniteVector(req.Velocity) {
		metrics.RecordDropped(metrics.DropMalformed)
		h.logger.Debug("rejecting non-finite update", "player", req.PlayerID, "from", from)
		return nil
	}

	res, err := h.engine.Update(ctx, req)
	if err != nil {
		return err
	}
	if !res.Found {
		h.logger.Debug("update for unknown player", "player", req.PlayerID, "from", from)
		return nil
	}

	return h.reply(codec.UpdateResponse{
		Type:  codec.MessageUpdate,
		State: res.State,
	}, protocol.KindUnreliable, from)
}

func (h *Handler) handlePickedChest(ctx context.Context, req codec.PickedChestRequest) error {
	res, err := h.engine.PickChest(ctx, req.PlayerID, req.ChestID)
	if err != nil {
		return err
	}
	if !res.OK {
		return nil
	}

	h.logger.Debug("chest picked", "player", req.PlayerID, "chest", req.ChestID, "score", res.Score)
	h.hooks.OnChestPicked(req.PlayerID, req.ChestID, res.Score)
	return nil
}

func (h *Handler) handleDisconnect(ctx context.Context, req codec.DisconnectRequest, from netip.AddrPort) error {
	removed, err := h.engine.Disconnect(ctx, req.PlayerID)
	if err != nil {
		return err
	}
	if !removed {
		h.logger.Debug("disconnect for unknown player", "player", req.PlayerID, "from", from)
		return nil
	}

	h.logger.Info("player disconnected", "player", req.PlayerID, "from", from)
	h.hooks.OnPlayerLeave(req.PlayerID, hooks.LeaveDisconnect)

	return h.reply(codec.DisconnectResponse{
		Type:     codec.MessageDisconnect,
		PlayerID: req.PlayerID,
	}, protocol.KindUnreliable, from)
}

func (h *Handler) reply(v any, kind protocol.Kind, to netip.AddrPort) error {
	data, err := codec.Encode(v)
	if err != nil {
		return err
	}
	if _, err := h.sender.Send(data, kind, to); err != nil {
		return err
	}
	return nil
}
