package ping

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"time"
)

const (
	helloRequest    = "HELLO"
	helloLANRequest = "HELLOLAN"
	helloResponse   = "HI"

	infoTimeout = 500 * time.Millisecond
)

type ServerInfo struct {
	Name           string `json:"name"`
	PlayersCurrent int    `json:"players_current"`
	PlayersMax     int    `json:"players_max"`
	Map            string `json:"map"`
	GameMode       string `json:"game_mode"`
	GameVersion    string `json:"game_version"`
	RoundTimer     int    `json:"round_timer"`
	MapVersion     int    `json:"map_version"`
}

// InfoFunc produces a fresh snapshot for each LAN query.
type InfoFunc func(ctx context.Context) (ServerInfo, error)

// Handler answers discovery queries on its own UDP port.
type Handler struct {
	conn          *net.UDPConn
	info          InfoFunc
	logger        *slog.Logger
	stopChan      chan struct{}
	stopOnce      sync.Once
	done          chan struct{}
	listenAddress string
}

func NewHandler(address string, info InfoFunc, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		info:          info,
		logger:        logger,
		stopChan:      make(chan struct{}),
		done:          make(chan struct{}),
		listenAddress: address,
	}
}

func (h *Handler) Start() error {
	addr, err := net.ResolveUDPAddr("udp", h.listenAddress)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP: %w", err)
	}

	h.conn = conn
	h.logger.Info("query handler started", "address", conn.LocalAddr().String())

	go h.handlePackets()

	return nil
}

func (h *Handler) Addr() net.Addr {
	if h.conn == nil {
		return nil
	}
	return h.conn.LocalAddr()
}

func (h *Handler) Stop() {
	h.stopOnce.Do(func() {
		close(h.stopChan)
		if h.conn != nil {
			h.conn.Close()
			<-h.done
		}
		h.logger.Info("query handler stopped")
	})
}

func (h *Handler) handlePackets() {
	defer close(h.done)
	buffer := make([]byte, 1024)

	for {
		n, addr, err := h.conn.ReadFromUDPAddrPort(buffer)
		if err != nil {
			select {
			case <-h.stopChan:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			h.logger.Error("failed to read UDP packet", "error", err)
			continue
		}

		if n > 0 {
			h.handlePacket(buffer[:n], addr)
		}
	}
}

func (h *Handler) handlePacket(data []byte, addr netip.AddrPort) {
	switch string(data) {
	case helloRequest:
		h.handlePing(addr)
	case helloLANRequest:
		h.handleLANPing(addr)
	}
}

func (h *Handler) handlePing(addr netip.AddrPort) {
	if _, err := h.conn.WriteToUDPAddrPort([]byte(helloResponse), addr); err != nil {
		h.logger.Error("failed to send ping response", "error", err, "addr", addr)
		return
	}
	h.logger.Debug("sent ping response", "addr", addr)
}

func (h *Handler) handleLANPing(addr netip.AddrPort) {
	ctx, cancel := context.WithTimeout(context.Background(), infoTimeout)
	defer cancel()

	info, err := h.info(ctx)
	if err != nil {
		h.logger.Warn("failed to collect server info", "error", err)
		return
	}

	jsonData, err := json.Marshal(info)
	if err != nil {
		h.logger.Error("failed to marshal server info", "error", err)
		return
	}

	if _, err := h.conn.WriteToUDPAddrPort(jsonData, addr); err != nil {
		h.logger.Error("failed to send LAN response", "error", err, "addr", addr)
		return
	}
	h.logger.Debug("sent LAN info response", "addr", addr)
}
