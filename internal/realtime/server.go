package realtime

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sifan077/PowerPulse/config"
	"go.uber.org/zap"
)

const (
	readHeaderTimeout = 5 * time.Second
	defaultPort       = 8081
	userIDHeader      = "X-User-Id"
)

// TicketValidator checks a socket ticket issued over the HTTP API.
type TicketValidator interface {
	Validate(userID, ticket string) error
}

// AccessVerifier decides whether a user may watch a resource.
type AccessVerifier interface {
	VerifyAccess(ctx context.Context, userID, resourceID string) bool
}

type denyAll struct{}

func (denyAll) VerifyAccess(context.Context, string, string) bool { return false }

// Handler upgrades requests on /ws and attaches them to the hub.
type Handler struct {
	hub      *Hub
	tickets  TicketValidator
	access   AccessVerifier
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewHandler builds the upgrade endpoint. A nil tickets validator rejects
// every ticket but still accepts header and anonymous identities. A nil
// access verifier rejects every subscription.
func NewHandler(hub *Hub, tickets TicketValidator, access AccessVerifier, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if access == nil {
		access = denyAll{}
	}
	return &Handler{
		hub:     hub,
		tickets: tickets,
		access:  access,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// NewServer exposes the handler on cfg.Port under /ws.
func NewServer(cfg config.RealtimeConfig, handler *Handler) *http.Server {
	port := cfg.Port
	if port == 0 {
		port = defaultPort
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", handler)

	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.identify(r)
	if !ok {
		http.Error(w, "invalid ticket", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed", zap.Error(err))
		return
	}

	session, err := h.hub.Connect(uuid.NewString(), userID)
	if err != nil {
		h.logger.Error("Failed to register realtime client", zap.Error(err))
		_ = conn.Close()
		return
	}

	newClient(h.hub, h.access, conn, session, h.logger).run()
}

// identify resolves the caller: a valid user_id+ticket query pair wins,
// then the gateway header, else anonymous.
func (h *Handler) identify(r *http.Request) (string, bool) {
	query := r.URL.Query()
	ticket := query.Get("ticket")
	if ticket != "" {
		userID := strings.TrimSpace(query.Get("user_id"))
		if h.tickets == nil {
			return "", false
		}
		if err := h.tickets.Validate(userID, ticket); err != nil {
			h.logger.Debug("Rejected realtime ticket", zap.String("user_id", userID), zap.Error(err))
			return "", false
		}
		return userID, true
	}
	return strings.TrimSpace(r.Header.Get(userIDHeader)), true
}
