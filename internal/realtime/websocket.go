package realtime

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/vidaleve/backend/internal/middleware"
	"github.com/vidaleve/backend/internal/models"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = pongWait * 9 / 10
	maxReadBytes = 512
)

// WalletReader loads the current wallet for an event snapshot.
type WalletReader interface {
	Wallet(ctx context.Context, userID uuid.UUID) (*models.Wallet, error)
}

type Event struct {
	Type    string          `json:"type"`
	Balance decimal.Decimal `json:"balance"`
}

const EventWalletChanged = "wallet_changed"

// Handler upgrades authenticated requests to a websocket that receives a
// wallet snapshot on connect and after every change.
type Handler struct {
	hub      *Hub
	wallets  WalletReader
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

func NewHandler(hub *Hub, wallets WalletReader, allowedOrigins []string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		hub:     hub,
		wallets: wallets,
		logger:  logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" || len(allowedOrigins) == 0 || slices.Contains(allowedOrigins, "*") {
					return true
				}
				return slices.Contains(allowedOrigins, origin)
			},
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	profile := middleware.ProfileFromCtx(r.Context())
	if profile == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied.
		return
	}
	defer conn.Close()

	changes, cancel := h.hub.Subscribe(profile.ID)
	defer cancel()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	go h.readPump(conn, stop)

	if err := h.send(ctx, conn, profile.ID); err != nil {
		return
	}
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-changes:
			if err := h.send(ctx, conn, profile.ID); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// readPump discards client frames and keeps the read deadline fresh from
// pongs; it ends the session when the peer goes away.
func (h *Handler) readPump(conn *websocket.Conn, stop context.CancelFunc) {
	defer stop()
	conn.SetReadLimit(maxReadBytes)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.NextReader(); err != nil {
			return
		}
	}
}

func (h *Handler) send(ctx context.Context, conn *websocket.Conn, userID uuid.UUID) error {
	wallet, err := h.wallets.Wallet(ctx, userID)
	if err != nil {
		h.logger.Error("load wallet for realtime event", "user_id", userID, "error", err)
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(Event{Type: EventWalletChanged, Balance: wallet.Balance})
}
